package cachefs

import (
	"container/list"
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/auriora/onemount-cachefs/pkg/logging"
	"github.com/auriora/onemount-cachefs/pkg/remote"
)

// RemoteChange is one entry of a sync/delta feed, as consumed by
// DiskCache.SyncItems.
type RemoteChange struct {
	ID      string
	Deleted bool
	CTag    *string
	IsDir   bool
}

type cacheEntry struct {
	id   string
	slot *CacheSlot
}

// DiskCache is the on-disk LRU content cache: at most one CacheSlot per item
// id, bounded by both entry count and cumulative byte size.
type DiskCache struct {
	dir    string
	cfg    Config
	client remote.Client

	events chan UpdateEvent

	totalSize int64 // atomic

	mu      sync.Mutex
	entries map[string]*list.Element // id -> element wrapping *cacheEntry
	order   *list.List               // front = most recently used
}

// NewDiskCache builds a DiskCache rooted at cfg.DiskCache.Path, which must
// already exist or be creatable. client is used to fetch bytes for
// downloads and to push upload retries from dirty slots.
func NewDiskCache(cfg Config, client remote.Client) (*DiskCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DiskCache.Path, 0o700); err != nil {
		return nil, fmt.Errorf("creating disk cache directory: %w", err)
	}
	return &DiskCache{
		dir:     cfg.DiskCache.Path,
		cfg:     cfg,
		client:  client,
		events:  make(chan UpdateEvent, 64),
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}, nil
}

// Events is the update-event channel consumers (InodePool, a future VFS
// layer) should drain to refresh attribute caches after uploads succeed.
func (c *DiskCache) Events() <-chan UpdateEvent {
	return c.events
}

func (c *DiskCache) emitUpdate(ev UpdateEvent) {
	select {
	case c.events <- ev:
	default:
		logging.Warn().Str("item", ev.ItemID).Msg("update event channel full, dropping event")
	}
}

func (c *DiskCache) adjustTotalSize(delta int64) {
	atomic.AddInt64(&c.totalSize, delta)
}

// Get LRU-touches and returns the slot for id, if present.
func (c *DiskCache) Get(id string) (*CacheSlot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).slot, true
}

// TryAllocAndFetch allocates a new slot for id and starts its download, or
// returns (nil, false) if the item is too large or there is no room even
// after evicting every other entry. The budget check compares the running
// total against MaxTotalSize.
func (c *DiskCache) TryAllocAndFetch(ctx context.Context, id string, fileSize uint64, cTag, url string, trunc *pendingTruncate) (*CacheSlot, bool, error) {
	if fileSize > c.cfg.DiskCache.MaxCachedFileSize {
		return nil, false, nil
	}

	c.mu.Lock()
	if el, ok := c.entries[id]; ok {
		c.order.MoveToFront(el)
		c.mu.Unlock()
		return el.Value.(*cacheEntry).slot, true, nil
	}

	for atomic.LoadInt64(&c.totalSize)+int64(fileSize) > int64(c.cfg.DiskCache.MaxTotalSize) || c.order.Len() >= c.cfg.DiskCache.MaxFiles {
		back := c.order.Back()
		if back == nil {
			c.mu.Unlock()
			return nil, false, nil
		}
		c.evictLocked(back)
	}

	file, err := os.CreateTemp(c.dir, "slot-*")
	if err != nil {
		c.mu.Unlock()
		return nil, false, err
	}
	if err := file.Truncate(int64(fileSize)); err != nil {
		file.Close()
		os.Remove(file.Name())
		c.mu.Unlock()
		return nil, false, err
	}

	downloadCap := fileSize
	slot, slotCtx := newDownloadingSlot(c, id, file, fileSize, downloadCap, cTag, trunc)

	el := c.order.PushFront(&cacheEntry{id: id, slot: slot})
	c.entries[id] = el
	c.mu.Unlock()

	c.adjustTotalSize(int64(fileSize))

	chunks := make(chan []byte, 64)
	downloadErr := make(chan error, 1)
	downloader := NewDownloader(c.client, c.cfg.Download)
	go func() { downloadErr <- downloader.Run(slotCtx, fileSize, url, chunks) }()
	go slot.runWriter(slotCtx, chunks, downloadErr)

	return slot, true, nil
}

// InsertEmpty installs a slot that is already fully (and trivially)
// populated: the create-empty path. Any prior slot for the same id is
// invalidated and replaced.
func (c *DiskCache) InsertEmpty(id, cTag string) (*CacheSlot, error) {
	file, err := os.CreateTemp(c.dir, "slot-*")
	if err != nil {
		return nil, err
	}
	slot := newAvailableSlot(c, id, file, cTag)

	c.mu.Lock()
	if prev, ok := c.entries[id]; ok {
		prevSlot := prev.Value.(*cacheEntry).slot
		c.order.Remove(prev)
		delete(c.entries, id)
		c.mu.Unlock()
		c.dropSlot(prevSlot)
		c.mu.Lock()
	}
	el := c.order.PushFront(&cacheEntry{id: id, slot: slot})
	c.entries[id] = el
	c.mu.Unlock()

	return slot, nil
}

// SyncItems applies a batch of remote change-feed entries: folders are
// skipped, deletions and content-tag mismatches invalidate and drop the
// matching cached slot.
func (c *DiskCache) SyncItems(changes []RemoteChange) {
	for _, ch := range changes {
		if ch.IsDir {
			continue
		}
		c.mu.Lock()
		el, ok := c.entries[ch.ID]
		if !ok {
			c.mu.Unlock()
			continue
		}
		slot := el.Value.(*cacheEntry).slot
		stale := ch.Deleted || (ch.CTag != nil && *ch.CTag != slot.CTag())
		if !stale {
			c.mu.Unlock()
			continue
		}
		c.order.Remove(el)
		delete(c.entries, ch.ID)
		c.mu.Unlock()
		c.dropSlot(slot)
	}
}

// evictLocked removes the LRU entry's map/list bookkeeping. Caller holds
// c.mu. It then drops the slot (invalidated, budget returned, file deleted)
// itself, releasing c.mu around the dropSlot call and reacquiring it before
// returning.
func (c *DiskCache) evictLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	c.order.Remove(el)
	delete(c.entries, entry.id)
	c.mu.Unlock()
	c.dropSlot(entry.slot)
	c.mu.Lock()
}

// dropSlot invalidates a slot removed from the map, returns its last-known
// size to the byte budget, and deletes its backing file.
func (c *DiskCache) dropSlot(slot *CacheSlot) {
	size := slot.Size()
	slot.Invalidate()
	c.adjustTotalSize(-int64(size))
	name := slot.file.Name()
	slot.Close()
	os.Remove(name)
}

// Close invalidates and drops every cached slot concurrently, waiting until
// each slot's file is closed and removed. It does not wait for uploader
// goroutines; those see the invalidation on their next check and exit.
func (c *DiskCache) Close() error {
	c.mu.Lock()
	var slots []*CacheSlot
	for el := c.order.Front(); el != nil; el = el.Next() {
		slots = append(slots, el.Value.(*cacheEntry).slot)
	}
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
	c.mu.Unlock()

	var g errgroup.Group
	for _, slot := range slots {
		slot := slot
		g.Go(func() error {
			size := slot.Size()
			slot.Invalidate()
			c.adjustTotalSize(-int64(size))
			name := slot.file.Name()
			if err := slot.Close(); err != nil {
				return err
			}
			return os.Remove(name)
		})
	}
	return g.Wait()
}
