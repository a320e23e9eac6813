package cachefs

import (
	"context"
	"sync"
	"time"

	"github.com/auriora/onemount-cachefs/pkg/remote"
)

// fileHandle is one open-file slab entry: either a shared reference to a
// CacheSlot (caching enabled, or the file fit in the cache) or a read-only
// StreamState over an uncached download (caching disabled or the file was
// too large to admit).
type fileHandle struct {
	itemID    string
	writeMode bool
	slot      *CacheSlot
	stream    *StreamState
}

// FilePool is the open-file table: handle numbers are opaque to callers and
// stable only for the handle's lifetime.
type FilePool struct {
	cache          *DiskCache
	client         remote.Client
	cfg            Config
	cachingEnabled bool

	mu      sync.Mutex
	handles map[uint64]*fileHandle
	nextFH  uint64
}

// NewFilePool builds a FilePool. If cachingEnabled is false, Open always
// returns a streaming read-only handle and any write-mode open fails with
// ErrWriteWithoutCache.
func NewFilePool(cache *DiskCache, client remote.Client, cfg Config, cachingEnabled bool) *FilePool {
	return &FilePool{
		cache:          cache,
		client:         client,
		cfg:            cfg,
		cachingEnabled: cachingEnabled,
		handles:        make(map[uint64]*fileHandle),
	}
}

func (p *FilePool) register(h *fileHandle) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextFH++
	fh := p.nextFH
	p.handles[fh] = h
	return fh
}

func (p *FilePool) lookup(fh uint64) (*fileHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[fh]
	if !ok {
		return nil, errInvalidHandle(fh)
	}
	return h, nil
}

// Open resolves id to a handle, populating the disk cache on a miss (when
// caching is enabled and the file fits) or falling back to an uncached
// streaming read.
func (p *FilePool) Open(ctx context.Context, id string, writeMode bool) (uint64, error) {
	if !p.cachingEnabled {
		if writeMode {
			return 0, ErrWriteWithoutCache
		}
		return p.openStreaming(ctx, id)
	}

	if slot, ok := p.cache.Get(id); ok {
		return p.register(&fileHandle{itemID: id, writeMode: writeMode, slot: slot}), nil
	}

	meta, err := p.client.GetItem(ctx, id)
	if err != nil {
		return 0, err
	}

	slot, ok, err := p.cache.TryAllocAndFetch(ctx, id, meta.Size, meta.CTag, meta.DownloadURL, nil)
	if err != nil {
		return 0, err
	}
	if ok {
		return p.register(&fileHandle{itemID: id, writeMode: writeMode, slot: slot}), nil
	}
	if writeMode {
		return 0, errFileTooLarge(meta.Size, p.cfg.DiskCache.MaxCachedFileSize)
	}
	return p.openStreamFromMeta(ctx, id, meta)
}

func (p *FilePool) openStreaming(ctx context.Context, id string) (uint64, error) {
	meta, err := p.client.GetItem(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.openStreamFromMeta(ctx, id, meta)
}

func (p *FilePool) openStreamFromMeta(ctx context.Context, id string, meta remote.Metadata) (uint64, error) {
	bufCap := p.cfg.Download.StreamBufferChunks
	if bufCap <= 0 {
		bufCap = 64
	}
	chunks := make(chan []byte, bufCap)
	result := make(chan error, 1)
	downloader := NewDownloader(p.client, p.cfg.Download)
	go func() { result <- downloader.Run(ctx, meta.Size, meta.DownloadURL, chunks) }()

	stream := NewStreamState(meta.Size, chunks, result)
	return p.register(&fileHandle{itemID: id, stream: stream}), nil
}

// OpenCreateEmpty creates a new zero-byte remote item at loc, installs an
// empty cache slot for it, and returns a write handle plus the new item's
// attributes.
func (p *FilePool) OpenCreateEmpty(ctx context.Context, loc string) (uint64, remote.Metadata, error) {
	meta, err := p.client.UploadSmall(ctx, loc, nil)
	if err != nil {
		return 0, remote.Metadata{}, err
	}
	slot, err := p.cache.InsertEmpty(meta.ID, meta.CTag)
	if err != nil {
		return 0, remote.Metadata{}, err
	}
	fh := p.register(&fileHandle{itemID: meta.ID, writeMode: true, slot: slot})
	return fh, meta, nil
}

// TruncateFile resizes item id's cached content. If no slot is cached yet,
// or the existing slot cannot be resized in place (DownloadFailed or
// Invalidated, which is dropped from the cache first), it refetches the
// item's current remote size and re-allocates a fresh slot seeded with the
// pending truncate. A newSize above MaxCachedFileSize fails with
// ErrFileTooLarge.
func (p *FilePool) TruncateFile(ctx context.Context, id string, newSize uint64, mtime time.Time) error {
	if !p.cachingEnabled {
		return ErrWriteWithoutCache
	}
	slot, ok := p.cache.Get(id)
	if ok {
		outcome, err := slot.Truncate(newSize, mtime)
		if err != nil {
			return err
		}
		if outcome == truncateApplied {
			return nil
		}
		p.cache.mu.Lock()
		if el, present := p.cache.entries[id]; present && el.Value.(*cacheEntry).slot == slot {
			p.cache.order.Remove(el)
			delete(p.cache.entries, id)
			p.cache.mu.Unlock()
			p.cache.dropSlot(slot)
		} else {
			p.cache.mu.Unlock()
		}
	}

	meta, err := p.client.GetItem(ctx, id)
	if err != nil {
		return err
	}
	downloadSize := meta.Size
	if newSize < downloadSize {
		downloadSize = newSize
	}
	_, ok, err = p.cache.TryAllocAndFetch(ctx, id, newSize, meta.CTag, meta.DownloadURL,
		&pendingTruncate{downloadSize: downloadSize, mtime: mtime})
	if err != nil {
		return err
	}
	if !ok {
		return errFileTooLarge(newSize, p.cfg.DiskCache.MaxCachedFileSize)
	}
	return nil
}

// Read dispatches to the handle's stream or slot.
func (p *FilePool) Read(ctx context.Context, fh uint64, offset, size uint64) ([]byte, error) {
	h, err := p.lookup(fh)
	if err != nil {
		return nil, err
	}
	if h.stream != nil {
		return h.stream.Read(ctx, offset, size)
	}
	return h.slot.Read(offset, size)
}

// Write dispatches to the handle's slot; streaming handles are always
// opened read-only and must never reach this call.
func (p *FilePool) Write(fh uint64, offset uint64, data []byte) (UpdatedFileAttr, error) {
	h, err := p.lookup(fh)
	if err != nil {
		return UpdatedFileAttr{}, err
	}
	if h.stream != nil {
		panic("cachefs: write on a read-only streaming handle")
	}
	return h.slot.Write(offset, data)
}

// FlushFile blocks until id's pending writeback (if any) completes.
func (p *FilePool) FlushFile(id string) error {
	slot, ok := p.cache.Get(id)
	if !ok {
		return nil
	}
	return slot.Flush()
}

// Close removes fh from the slab. The underlying cache slot, if any,
// remains in the DiskCache until evicted or invalidated.
func (p *FilePool) Close(fh uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.handles[fh]; !ok {
		return errInvalidHandle(fh)
	}
	delete(p.handles, fh)
	return nil
}

// SyncItems forwards a remote change batch to the DiskCache.
func (p *FilePool) SyncItems(changes []RemoteChange) {
	p.cache.SyncItems(changes)
}
