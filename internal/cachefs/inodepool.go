package cachefs

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/auriora/onemount-cachefs/pkg/remote"
)

// rootInode is the fixed inode number of the filesystem root; every other
// inode is numbered upward from it.
const rootInode = 1

// InodeAttr is an immutable attribute snapshot, refreshed on a TTL.
type InodeAttr struct {
	Size        uint64
	Mtime       time.Time
	Crtime      time.Time
	IsDirectory bool
}

type attrCacheEntry struct {
	attr    InodeAttr
	fetched time.Time
}

// inode is one slab entry: an item id, a reference count, and a cached
// attribute snapshot.
type inode struct {
	itemID   string
	refCount uint64
	attr     *attrCacheEntry
}

// InodePool maps inode numbers to remote item ids (and back), manages
// reference counts the way a kernel VFS dentry cache does, and serves
// attribute lookups out of a TTL'd cache.
type InodePool struct {
	client remote.Client
	ttl    time.Duration

	mu      sync.Mutex
	slab    map[uint64]*inode
	byItem  map[string]uint64
	nextKey uint64

	group singleflight.Group
}

// NewInodePool builds an InodePool with the root inode pre-allocated at a
// refcount of 1 (never freed).
func NewInodePool(client remote.Client, rootItemID string, ttl time.Duration) *InodePool {
	p := &InodePool{
		client: client,
		ttl:    ttl,
		slab:   make(map[uint64]*inode),
		byItem: make(map[string]uint64),
	}
	p.slab[rootInode] = &inode{itemID: rootItemID, refCount: 1}
	p.byItem[rootItemID] = rootInode
	p.nextKey = rootInode
	return p
}

// AcquireOrAlloc returns the inode number for itemID, bumping its reference
// count if it already exists or allocating a fresh entry at refcount 1.
func (p *InodePool) AcquireOrAlloc(itemID string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ino, ok := p.byItem[itemID]; ok {
		p.slab[ino].refCount++
		return ino
	}
	p.nextKey++
	ino := p.nextKey
	p.slab[ino] = &inode{itemID: itemID, refCount: 1}
	p.byItem[itemID] = ino
	return ino
}

// Free decrements ino's reference count by count; once it reaches zero the
// inode is removed from both the slab and the reverse map. Both maps are
// guarded by the one p.mu that AcquireOrAlloc also holds, so the two never
// race past each other.
func (p *InodePool) Free(ino uint64, count uint64) {
	if ino == rootInode {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.slab[ino]
	if !ok {
		return
	}
	if count >= n.refCount {
		n.refCount = 0
	} else {
		n.refCount -= count
	}
	if n.refCount == 0 {
		delete(p.byItem, n.itemID)
		delete(p.slab, ino)
	}
}

// Lookup fetches a child's attributes from the remote, acquires-or-allocs
// its inode, refreshes the attribute cache, and returns its inode, attrs,
// and the TTL a caller should apply.
func (p *InodePool) Lookup(ctx context.Context, parentIno uint64, name string) (uint64, InodeAttr, time.Duration, error) {
	if name == "" {
		return 0, InodeAttr{}, 0, errInvalidFileName(name)
	}
	parentID, err := p.itemIDOf(parentIno)
	if err != nil {
		return 0, InodeAttr{}, 0, err
	}

	meta, err := p.client.GetItem(ctx, childLocation(parentID, name))
	if err != nil {
		return 0, InodeAttr{}, 0, err
	}

	attr := InodeAttr{Size: meta.Size, Mtime: meta.ModTime, Crtime: meta.CreatedTime, IsDirectory: meta.IsDir}
	ino := p.AcquireOrAlloc(meta.ID)
	p.setAttr(ino, attr)
	return ino, attr, p.ttl, nil
}

// GetAttr serves from the attribute cache if it is within TTL; otherwise it
// fetches fresh attrs from the remote, deduping concurrent misses for the
// same inode with a singleflight group.
func (p *InodePool) GetAttr(ctx context.Context, ino uint64) (InodeAttr, error) {
	p.mu.Lock()
	n, ok := p.slab[ino]
	if !ok {
		p.mu.Unlock()
		return InodeAttr{}, errInvalidInode(ino)
	}
	if n.attr != nil && time.Since(n.attr.fetched) < p.ttl {
		attr := n.attr.attr
		p.mu.Unlock()
		return attr, nil
	}
	itemID := n.itemID
	p.mu.Unlock()

	v, err, _ := p.group.Do(itemID, func() (interface{}, error) {
		meta, err := p.client.GetItem(ctx, itemID)
		if err != nil {
			return InodeAttr{}, err
		}
		return InodeAttr{Size: meta.Size, Mtime: meta.ModTime, Crtime: meta.CreatedTime, IsDirectory: meta.IsDir}, nil
	})
	if err != nil {
		return InodeAttr{}, err
	}
	attr := v.(InodeAttr)
	p.setAttr(ino, attr)
	return attr, nil
}

// Touch materializes an inode for itemID without retaining a long-lived
// reference: it allocs (bumping refcount), then immediately frees one ref.
// Used when listing a directory's children without opening them.
func (p *InodePool) Touch(itemID string) uint64 {
	ino := p.AcquireOrAlloc(itemID)
	p.Free(ino, 1)
	return ino
}

func (p *InodePool) setAttr(ino uint64, attr InodeAttr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.slab[ino]; ok {
		n.attr = &attrCacheEntry{attr: attr, fetched: time.Now()}
	}
}

func (p *InodePool) itemIDOf(ino uint64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.slab[ino]
	if !ok {
		return "", errInvalidInode(ino)
	}
	return n.itemID, nil
}

// ItemID returns the remote item id backing ino.
func (p *InodePool) ItemID(ino uint64) (string, error) {
	return p.itemIDOf(ino)
}

func childLocation(parentID, name string) string {
	return parentID + "/" + name
}
