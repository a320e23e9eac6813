package cachefs

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auriora/onemount-cachefs/pkg/logging"
	"github.com/auriora/onemount-cachefs/pkg/remote"
	"github.com/auriora/onemount-cachefs/pkg/retry"
)

// Status is a CacheSlot's state-machine tag.
type Status int

const (
	StatusDownloading Status = iota
	StatusDownloadFailed
	StatusAvailable
	StatusDirty
	StatusInvalidated
)

func (s Status) String() string {
	switch s {
	case StatusDownloading:
		return "Downloading"
	case StatusDownloadFailed:
		return "DownloadFailed"
	case StatusAvailable:
		return "Available"
	case StatusDirty:
		return "Dirty"
	case StatusInvalidated:
		return "Invalidated"
	default:
		return "Unknown"
	}
}

// pendingTruncate is set on a Downloading slot when a truncate arrives
// mid-download: it caps how many bytes the writer goroutine actually
// persists, and carries the mtime to stamp once the slot goes dirty.
type pendingTruncate struct {
	downloadSize uint64
	mtime        time.Time
}

// truncateOutcome reports whether CacheSlot.Truncate applied the resize
// in place, or whether the slot's state makes in-place truncation
// impossible, requiring the caller (FilePool) to re-allocate a fresh slot.
type truncateOutcome int

const (
	truncateApplied truncateOutcome = iota
	truncateNeedsRealloc
)

// UpdatedFileAttr is returned by CacheSlot.Write; its CTag is always nil
// because the tag is only known once the pending upload completes, at which
// point it is published as an UpdateEvent instead.
type UpdatedFileAttr struct {
	ItemID string
	Size   uint64
	Mtime  time.Time
	CTag   *string
}

// CacheSlot is one item's on-disk cache state: a pre-sized file plus the
// status-machine bookkeeping around it. All mutable fields below mu are
// protected by it; long waits (on availableSize or a dirty epoch's done
// watch) always release mu first and re-check status after reacquiring it.
type CacheSlot struct {
	itemID string
	file   *os.File
	cache  *DiskCache

	cancel context.CancelFunc

	mu            sync.Mutex
	cTag          string
	status        Status
	fileSize      uint64
	downloadCap   uint64
	availableSize *sizeWatch
	truncate      *pendingTruncate

	dirtyEpoch uuid.UUID
	flushTx    chan struct{}
	done       *doneWatch
}

// newDownloadingSlot builds a slot whose content is still being populated
// from the remote. downloadCap is the byte count the writer goroutine will
// persist absent any truncate (normally the remote file's size).
func newDownloadingSlot(cache *DiskCache, itemID string, file *os.File, fileSize, downloadCap uint64, cTag string, trunc *pendingTruncate) (*CacheSlot, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &CacheSlot{
		itemID:        itemID,
		file:          file,
		cache:         cache,
		cancel:        cancel,
		cTag:          cTag,
		status:        StatusDownloading,
		fileSize:      fileSize,
		downloadCap:   downloadCap,
		availableSize: newSizeWatch(),
		truncate:      trunc,
	}
	return s, ctx
}

// newAvailableSlot builds a slot that is immediately fully present: the
// create-empty path, where there is nothing to download.
func newAvailableSlot(cache *DiskCache, itemID string, file *os.File, cTag string) *CacheSlot {
	_, cancel := context.WithCancel(context.Background())
	aw := newSizeWatch()
	aw.Close()
	return &CacheSlot{
		itemID:        itemID,
		file:          file,
		cache:         cache,
		cancel:        cancel,
		cTag:          cTag,
		status:        StatusAvailable,
		availableSize: aw,
	}
}

func (s *CacheSlot) ItemID() string { return s.itemID }

func (s *CacheSlot) CTag() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cTag
}

// Size returns the slot's current logical file size, for DiskCache's byte
// budget bookkeeping on eviction.
func (s *CacheSlot) Size() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileSize
}

// Read serves offset..offset+size, waiting on the download if necessary.
func (s *CacheSlot) Read(offset, size uint64) ([]byte, error) {
	s.mu.Lock()
	if offset >= s.fileSize || size == 0 {
		s.mu.Unlock()
		return []byte{}, nil
	}

	for {
		switch s.status {
		case StatusInvalidated:
			s.mu.Unlock()
			return nil, ErrInvalidated
		case StatusDownloadFailed:
			s.mu.Unlock()
			return nil, ErrDownloadFailed
		case StatusDownloading:
			end := offset + size
			avail, closed := s.availableSize.Get()
			if end <= avail {
				goto serve
			}
			if closed {
				continue
			}
			s.mu.Unlock()
			s.availableSize.WaitPast(end - 1)
			s.mu.Lock()
			continue
		default: // Available, Dirty
			goto serve
		}
	}

serve:
	end := offset + size
	if end > s.fileSize {
		end = s.fileSize
	}
	n := end - offset
	s.mu.Unlock()

	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if _, err := s.file.ReadAt(buf, int64(offset)); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// Write transitions the slot to Dirty (renewing any existing dirty epoch)
// and persists data at offset.
func (s *CacheSlot) Write(offset uint64, data []byte) (UpdatedFileAttr, error) {
	if offset+uint64(len(data)) > s.cache.cfg.Upload.MaxSize {
		return UpdatedFileAttr{}, errFileTooLarge(offset+uint64(len(data)), s.cache.cfg.Upload.MaxSize)
	}

	s.mu.Lock()
	for s.status == StatusDownloading {
		aw := s.availableSize
		s.mu.Unlock()
		aw.WaitPast(^uint64(0))
		s.mu.Lock()
	}

	switch s.status {
	case StatusInvalidated:
		s.mu.Unlock()
		return UpdatedFileAttr{}, ErrInvalidated
	case StatusDownloadFailed:
		s.mu.Unlock()
		return UpdatedFileAttr{}, ErrDownloadFailed
	}

	s.queueUploadLocked()

	if _, err := s.file.WriteAt(data, int64(offset)); err != nil {
		s.mu.Unlock()
		return UpdatedFileAttr{}, err
	}

	newSize := offset + uint64(len(data))
	if newSize > s.fileSize {
		delta := int64(newSize - s.fileSize)
		s.fileSize = newSize
		s.availableSize.Set(newSize)
		s.cache.adjustTotalSize(delta)
	}
	attr := UpdatedFileAttr{ItemID: s.itemID, Size: s.fileSize, Mtime: time.Now()}
	s.mu.Unlock()
	return attr, nil
}

// Truncate resizes the slot. When the slot cannot be resized in place
// (DownloadFailed or Invalidated), it reports truncateNeedsRealloc and the
// caller (FilePool) must re-allocate a fresh slot seeded with the resize.
func (s *CacheSlot) Truncate(newSize uint64, mtime time.Time) (truncateOutcome, error) {
	if newSize > s.cache.cfg.DiskCache.MaxCachedFileSize {
		return truncateApplied, errFileTooLarge(newSize, s.cache.cfg.DiskCache.MaxCachedFileSize)
	}

	s.mu.Lock()
	switch s.status {
	case StatusDownloading:
		currentCap := s.downloadCap
		if s.truncate != nil {
			currentCap = s.truncate.downloadSize
		}
		newCap := newSize
		if currentCap < newCap {
			newCap = currentCap
		}
		s.truncate = &pendingTruncate{downloadSize: newCap, mtime: mtime}
		oldSize := s.fileSize
		s.fileSize = newSize
		err := s.file.Truncate(int64(newSize))
		s.mu.Unlock()
		if err != nil {
			return truncateApplied, err
		}
		if newSize != oldSize {
			s.cache.adjustTotalSize(int64(newSize) - int64(oldSize))
		}
		return truncateApplied, nil

	case StatusAvailable, StatusDirty:
		oldSize := s.fileSize
		s.fileSize = newSize
		if err := s.file.Truncate(int64(newSize)); err != nil {
			s.mu.Unlock()
			return truncateApplied, err
		}
		s.availableSize.Set(newSize)
		s.queueUploadLocked()
		s.mu.Unlock()
		if newSize != oldSize {
			s.cache.adjustTotalSize(int64(newSize) - int64(oldSize))
		}
		return truncateApplied, nil

	default: // DownloadFailed, Invalidated
		s.mu.Unlock()
		return truncateNeedsRealloc, nil
	}
}

// Flush blocks until the slot has no pending writeback.
func (s *CacheSlot) Flush() error {
	for {
		s.mu.Lock()
		switch s.status {
		case StatusDownloading:
			aw := s.availableSize
			s.mu.Unlock()
			aw.WaitPast(^uint64(0))
		case StatusDirty:
			flushTx := s.flushTx
			done := s.done
			s.mu.Unlock()
			select {
			case flushTx <- struct{}{}:
			default:
			}
			if done.Wait() {
				return nil
			}
			// superseded by a newer epoch; loop to flush that one.
		case StatusAvailable, StatusInvalidated:
			s.mu.Unlock()
			return nil
		case StatusDownloadFailed:
			s.mu.Unlock()
			return ErrDownloadFailed
		}
	}
}

// Invalidate marks the slot dead: all subsequent reads/writes fail until the
// item is reopened against a fresh slot.
func (s *CacheSlot) Invalidate() {
	s.mu.Lock()
	prev := s.status
	done := s.done
	s.status = StatusInvalidated
	s.mu.Unlock()

	if prev == StatusDownloading {
		s.availableSize.Close()
	}
	if prev == StatusDirty && done != nil {
		done.Close(false)
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// Close releases the slot's open file descriptor. The DiskCache deletes the
// underlying temp file once the slot has been dropped from its map.
func (s *CacheSlot) Close() error {
	return s.file.Close()
}

// queueUploadLocked (re)installs a dirty epoch and spawns its uploader
// goroutine. Must be called with mu held, and only when status is not
// Downloading.
func (s *CacheSlot) queueUploadLocked() {
	if s.done != nil {
		s.done.Close(false)
	}
	epoch := uuid.New()
	s.status = StatusDirty
	s.dirtyEpoch = epoch
	s.flushTx = make(chan struct{}, 1)
	s.done = newDoneWatch()

	go s.upload(epoch, s.flushTx, s.done)
}

// upload is the body of a dirty epoch's writeback. It waits out the
// coalescing window (or an explicit flush signal), then retries UploadSmall
// indefinitely via pkg/retry until it succeeds or a newer write supersedes
// this epoch, in which case it backs off without touching the slot's state.
func (s *CacheSlot) upload(epoch uuid.UUID, flushTx chan struct{}, done *doneWatch) {
	delay := s.cache.cfg.Upload.FlushDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	timer := time.NewTimer(delay)
	select {
	case <-timer.C:
	case <-flushTx:
		timer.Stop()
	}

	retryDelay := s.cache.cfg.Upload.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 10 * time.Second
	}

	var meta remote.Metadata
	superseded := false
	err := retry.Do(context.Background(), retry.Policy{Delay: retryDelay}, func() error {
		s.mu.Lock()
		if s.status != StatusDirty || s.dirtyEpoch != epoch {
			s.mu.Unlock()
			superseded = true
			return nil
		}
		size := s.fileSize
		buf := make([]byte, size)
		if size > 0 {
			if _, err := s.file.ReadAt(buf, 0); err != nil && err != io.EOF {
				s.mu.Unlock()
				logging.Error().Err(err).Str("item", s.itemID).Msg("reading cache file before upload")
				return err
			}
		}
		s.mu.Unlock()

		m, err := s.cache.client.UploadSmall(context.Background(), s.itemID, buf)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	if superseded || err != nil {
		return
	}

	s.mu.Lock()
	if s.status != StatusDirty || s.dirtyEpoch != epoch {
		s.mu.Unlock()
		return
	}
	s.status = StatusAvailable
	s.cTag = meta.CTag
	s.done.Close(true)
	event := UpdateEvent{ItemID: s.itemID, Size: s.fileSize, Mtime: meta.ModTime, CTag: meta.CTag}
	s.mu.Unlock()
	s.cache.emitUpdate(event)
}

// runWriter drains chunks into the cache file at sequentially advancing
// offsets and publishes availableSize as bytes land. It owns the
// Downloading -> {Available, Dirty, DownloadFailed} transition.
func (s *CacheSlot) runWriter(ctx context.Context, chunks <-chan []byte, downloadErr <-chan error) {
	var written uint64
	finalized := false

	for chunk := range chunks {
		if finalized {
			continue
		}
		s.mu.Lock()

		if s.status == StatusInvalidated {
			s.mu.Unlock()
			finalized = true
			continue
		}

		capBytes := s.downloadCap
		if s.truncate != nil {
			capBytes = s.truncate.downloadSize
		}

		n := uint64(len(chunk))
		if written < capBytes {
			if written+n > capBytes {
				n = capBytes - written
			}
			if n > 0 {
				if _, err := s.file.WriteAt(chunk[:n], int64(written)); err != nil {
					s.status = StatusDownloadFailed
					s.mu.Unlock()
					s.availableSize.Close()
					finalized = true
					continue
				}
				written += n
				s.availableSize.Set(written)
			}
		}

		if s.truncate == nil {
			select {
			case <-ctx.Done():
				s.status = StatusDownloadFailed
				s.mu.Unlock()
				s.availableSize.Close()
				finalized = true
				continue
			default:
			}
		}

		if written >= capBytes {
			if s.truncate != nil {
				s.truncate = nil
				s.availableSize.Set(s.fileSize)
				s.queueUploadLocked()
			} else {
				s.status = StatusAvailable
				s.availableSize.Set(s.fileSize)
			}
			s.mu.Unlock()
			s.availableSize.Close()
			s.cancel()
			finalized = true
			continue
		}

		s.mu.Unlock()
	}

	if finalized {
		return
	}

	err := <-downloadErr
	s.mu.Lock()
	if s.status != StatusInvalidated {
		s.status = StatusDownloadFailed
	}
	s.mu.Unlock()
	if err != nil {
		logging.Debug().Err(err).Str("item", s.itemID).Msg("download ended before reaching the cap")
	}
	s.availableSize.Close()
}
