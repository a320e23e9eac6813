package cachefs

import (
	"fmt"

	"github.com/auriora/onemount-cachefs/pkg/errors"
)

// NonsequentialReadError reports a StreamState.Read call whose offset does
// not match the stream's current position. It carries both positions so a
// caller can decide whether to reopen the stream at the new offset.
type NonsequentialReadError struct {
	CurrentPos uint64
	TryOffset  uint64
}

func (e *NonsequentialReadError) Error() string {
	return fmt.Sprintf("nonsequential read: stream at %d, requested %d", e.CurrentPos, e.TryOffset)
}

func newNonsequentialReadError(currentPos, tryOffset uint64) error {
	return errors.NewNonsequentialReadError(
		fmt.Sprintf("stream at %d, requested %d", currentPos, tryOffset),
		&NonsequentialReadError{CurrentPos: currentPos, TryOffset: tryOffset},
	)
}

// ErrDownloadFailed is returned when a slot's download exhausts its retry
// budget without delivering the full file.
var ErrDownloadFailed = errors.NewDownloadFailedError("download exhausted retries", nil)

// ErrInvalidated is returned by operations on a slot that has moved to
// Invalidated because the remote changed out from under it.
var ErrInvalidated = errors.NewInvalidatedError("cache slot invalidated by remote change", nil)

// ErrWriteWithoutCache is returned by FilePool.Open in write mode and by
// FilePool.TruncateFile when disk caching is disabled.
var ErrWriteWithoutCache = errors.NewWriteWithoutCacheError("write requires the disk cache", nil)

func errFileTooLarge(size, limit uint64) error {
	return errors.NewFileTooLargeError(fmt.Sprintf("size %d exceeds limit %d", size, limit), nil)
}

func errInvalidHandle(fh uint64) error {
	return errors.NewInvalidHandleError(fmt.Sprintf("invalid file handle %d", fh), nil)
}

func errInvalidInode(ino uint64) error {
	return errors.NewInvalidInodeError(fmt.Sprintf("invalid inode %d", ino), nil)
}

func errInvalidFileName(name string) error {
	return errors.NewInvalidFileNameError(fmt.Sprintf("invalid file name %q", name), nil)
}
