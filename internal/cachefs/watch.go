package cachefs

import "sync"

// sizeWatch is a broadcast watcher over a monotonically increasing byte
// count, the Go shape of the "available_size" watch channel: writers call
// Set to publish a new value and wake every blocked reader; readers call
// WaitPast to block until the value advances beyond a threshold or the watch
// is closed (download finished or failed).
type sizeWatch struct {
	mu     sync.Mutex
	value  uint64
	closed bool
	ch     chan struct{}
}

func newSizeWatch() *sizeWatch {
	return &sizeWatch{ch: make(chan struct{})}
}

// Set publishes a new value and wakes every current waiter. No-op once
// closed.
func (w *sizeWatch) Set(v uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.value = v
	close(w.ch)
	w.ch = make(chan struct{})
}

// Close marks the watch closed. All current and future WaitPast calls return
// immediately with the last published value.
func (w *sizeWatch) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.ch)
}

// Get returns the current value and whether the watch has been closed.
func (w *sizeWatch) Get() (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value, w.closed
}

// WaitPast blocks until the value advances strictly past threshold, or the
// watch closes.
func (w *sizeWatch) WaitPast(threshold uint64) (uint64, bool) {
	for {
		w.mu.Lock()
		v, closed, ch := w.value, w.closed, w.ch
		w.mu.Unlock()
		if closed || v > threshold {
			return v, closed
		}
		<-ch
	}
}

// doneWatch is a one-shot broadcast of a single boolean outcome, the Go shape
// of a dirty epoch's "done_rx": it closes with true once the epoch's upload
// succeeds, or false if the epoch is superseded by a newer write before its
// upload completes.
type doneWatch struct {
	mu     sync.Mutex
	result bool
	closed bool
	ch     chan struct{}
}

func newDoneWatch() *doneWatch {
	return &doneWatch{ch: make(chan struct{})}
}

// Close publishes the final result. Only the first call has any effect.
func (w *doneWatch) Close(result bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.result = result
	w.closed = true
	close(w.ch)
}

// Wait blocks until Close is called and returns its result.
func (w *doneWatch) Wait() bool {
	<-w.ch
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

// Done returns a channel that closes when the epoch settles, for select
// statements that need to race it against a context or a timer.
func (w *doneWatch) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ch
}
