package cachefs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSizeWatchWaitPastUnblocksOnSet(t *testing.T) {
	w := newSizeWatch()

	done := make(chan uint64, 1)
	go func() {
		v, closed := w.WaitPast(10)
		assert.False(t, closed)
		done <- v
	}()

	time.Sleep(10 * time.Millisecond)
	w.Set(5)
	select {
	case <-done:
		t.Fatal("WaitPast(10) should not unblock at value 5")
	case <-time.After(20 * time.Millisecond):
	}

	w.Set(11)
	select {
	case v := <-done:
		assert.Equal(t, uint64(11), v)
	case <-time.After(time.Second):
		t.Fatal("WaitPast(10) did not unblock after Set(11)")
	}
}

func TestSizeWatchWaitPastUnblocksOnClose(t *testing.T) {
	w := newSizeWatch()
	done := make(chan bool, 1)
	go func() {
		_, closed := w.WaitPast(^uint64(0))
		done <- closed
	}()

	time.Sleep(10 * time.Millisecond)
	w.Close()
	select {
	case closed := <-done:
		assert.True(t, closed)
	case <-time.After(time.Second):
		t.Fatal("WaitPast did not unblock after Close")
	}
}

func TestSizeWatchSetAfterCloseIsNoop(t *testing.T) {
	w := newSizeWatch()
	w.Close()
	w.Set(99)
	v, closed := w.Get()
	assert.True(t, closed)
	assert.Equal(t, uint64(0), v)
}

func TestSizeWatchGetReflectsLastSet(t *testing.T) {
	w := newSizeWatch()
	w.Set(3)
	w.Set(7)
	v, closed := w.Get()
	assert.False(t, closed)
	assert.Equal(t, uint64(7), v)
}

func TestDoneWatchWaitReturnsPublishedResult(t *testing.T) {
	w := newDoneWatch()
	go func() {
		time.Sleep(10 * time.Millisecond)
		w.Close(true)
	}()
	assert.True(t, w.Wait())
}

func TestDoneWatchFirstCloseWins(t *testing.T) {
	w := newDoneWatch()
	w.Close(true)
	w.Close(false)
	assert.True(t, w.Wait())
}

func TestDoneWatchConcurrentWaiters(t *testing.T) {
	w := newDoneWatch()
	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = w.Wait()
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	w.Close(true)
	wg.Wait()
	for i, r := range results {
		assert.True(t, r, "waiter %d", i)
	}
}

func TestDoneWatchDoneChannelClosesOnClose(t *testing.T) {
	w := newDoneWatch()
	select {
	case <-w.Done():
		t.Fatal("Done channel should not be closed yet")
	default:
	}
	w.Close(false)
	select {
	case <-w.Done():
	default:
		t.Fatal("Done channel should be closed after Close")
	}
}
