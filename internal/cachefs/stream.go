package cachefs

import (
	"context"
	"sync"
)

// StreamState tracks a single in-flight download's delivery position and
// lets a reader pull exactly the bytes it asks for, in order, from the
// Downloader's chunk channel. Reads must be sequential: StreamState has no
// buffering beyond the leftover tail of the last chunk it consumed.
type StreamState struct {
	mu sync.Mutex

	size       uint64
	currentPos uint64
	pending    []byte

	chunks <-chan []byte
	result <-chan error
	done   bool
	err    error
}

// NewStreamState wraps a Downloader.Run invocation already in flight: chunks
// is the sink Run writes to, and result carries Run's final error (or nil)
// after chunks closes. Callers typically run Downloader.Run in its own
// goroutine and pass result as a 1-buffered channel fed by that goroutine.
func NewStreamState(size uint64, chunks <-chan []byte, result <-chan error) *StreamState {
	return &StreamState{size: size, chunks: chunks, result: result}
}

// Read returns exactly size bytes starting at offset, blocking until the
// download has produced them. offset must equal the stream's current
// position; any other value fails with NonsequentialReadError. size is first
// clamped to the bytes left before the stream's declared size. Beyond that,
// Read returns fewer bytes only when the download ends early, together with
// the download's final error, or when ctx is cancelled, together with
// ctx.Err().
func (s *StreamState) Read(ctx context.Context, offset, size uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if offset != s.currentPos {
		return nil, newNonsequentialReadError(s.currentPos, offset)
	}

	if size > s.size-s.currentPos {
		size = s.size - s.currentPos
	}

	buf := make([]byte, 0, size)
	for uint64(len(buf)) < size {
		if len(s.pending) > 0 {
			take := size - uint64(len(buf))
			if uint64(len(s.pending)) < take {
				take = uint64(len(s.pending))
			}
			buf = append(buf, s.pending[:take]...)
			s.pending = s.pending[take:]
			continue
		}

		if s.done {
			s.currentPos += uint64(len(buf))
			return buf, s.err
		}

		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				s.done = true
				s.err = <-s.result
				continue
			}
			s.pending = chunk
		case <-ctx.Done():
			s.currentPos += uint64(len(buf))
			return buf, ctx.Err()
		}
	}

	s.currentPos += uint64(len(buf))
	return buf, nil
}

// Position reports the next byte offset a caller must request.
func (s *StreamState) Position() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPos
}
