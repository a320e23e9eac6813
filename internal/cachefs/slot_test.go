package cachefs

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auriora/onemount-cachefs/pkg/remote"
)

func newTestCacheAndClient(t *testing.T) (*DiskCache, *remote.MockClient) {
	t.Helper()
	cfg := testConfig(t)
	client := remote.NewMockClient()
	cache, err := NewDiskCache(cfg, client)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache, client
}

func TestCacheSlotReadWaitsForDownload(t *testing.T) {
	cache, client := newTestCacheAndClient(t)
	content := []byte("0123456789")
	client.AddItem(remote.Metadata{ID: "a", Size: uint64(len(content)), CTag: "t"}, content)
	client.Latency = 30 * time.Millisecond

	slot, ok, err := cache.TryAllocAndFetch(context.Background(), "a", uint64(len(content)), "t", "mock://a", nil)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := slot.Read(2, 5)
	assert.NoError(t, err)
	assert.Equal(t, content[2:7], got)
}

func TestCacheSlotReadClampsPastEOF(t *testing.T) {
	cache, client := newTestCacheAndClient(t)
	content := []byte("short")
	client.AddItem(remote.Metadata{ID: "a", Size: uint64(len(content)), CTag: "t"}, content)

	slot, _, err := cache.TryAllocAndFetch(context.Background(), "a", uint64(len(content)), "t", "mock://a", nil)
	require.NoError(t, err)
	waitForStatus(t, slot, StatusAvailable)

	got, err := slot.Read(3, 100)
	assert.NoError(t, err)
	assert.Equal(t, content[3:], got)
}

func TestCacheSlotWriteThenFlushUploadsAndEmitsEvent(t *testing.T) {
	cache, client := newTestCacheAndClient(t)
	content := []byte("zzzzz")
	client.AddItem(remote.Metadata{ID: "a", Size: uint64(len(content)), CTag: "t0"}, content)

	slot, _, err := cache.TryAllocAndFetch(context.Background(), "a", uint64(len(content)), "t0", "mock://a", nil)
	require.NoError(t, err)
	waitForStatus(t, slot, StatusAvailable)

	_, err = slot.Write(0, []byte("AAAAA"))
	require.NoError(t, err)

	assert.NoError(t, slot.Flush())

	slot.mu.Lock()
	status := slot.status
	ctag := slot.cTag
	slot.mu.Unlock()
	assert.Equal(t, StatusAvailable, status)
	assert.NotEqual(t, "t0", ctag)

	select {
	case ev := <-cache.Events():
		assert.Equal(t, "a", ev.ItemID)
		assert.Equal(t, uint64(5), ev.Size)
	case <-time.After(time.Second):
		t.Fatal("expected an UpdateEvent after flush")
	}

	got, err := slot.Read(0, 5)
	assert.NoError(t, err)
	assert.Equal(t, []byte("AAAAA"), got)
}

func TestCacheSlotWriteCoalescesBeforeFlushDelay(t *testing.T) {
	cache, client := newTestCacheAndClient(t)
	content := []byte("initial--")
	client.AddItem(remote.Metadata{ID: "a", Size: uint64(len(content)), CTag: "t0"}, content)

	slot, _, err := cache.TryAllocAndFetch(context.Background(), "a", uint64(len(content)), "t0", "mock://a", nil)
	require.NoError(t, err)
	waitForStatus(t, slot, StatusAvailable)

	_, err = slot.Write(0, []byte("AAA"))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = slot.Write(3, []byte("BBB"))
	require.NoError(t, err)

	assert.NoError(t, slot.Flush())

	calls := client.Calls()
	uploads := 0
	for _, c := range calls {
		if c == "UploadSmall" {
			uploads++
		}
	}
	assert.Equal(t, 1, uploads, "the second write should supersede the first dirty epoch rather than trigger a second upload")

	got, err := slot.Read(0, 6)
	assert.NoError(t, err)
	assert.Equal(t, []byte("AAABBB"), got)
}

func TestCacheSlotSupersedesUploadEpochOnOverlappingWrite(t *testing.T) {
	cache, client := newTestCacheAndClient(t)
	content := []byte("xxxxx")
	client.AddItem(remote.Metadata{ID: "a", Size: uint64(len(content)), CTag: "t0"}, content)

	slot, _, err := cache.TryAllocAndFetch(context.Background(), "a", uint64(len(content)), "t0", "mock://a", nil)
	require.NoError(t, err)
	waitForStatus(t, slot, StatusAvailable)

	_, err = slot.Write(0, []byte("11111"))
	require.NoError(t, err)

	slot.mu.Lock()
	firstEpoch := slot.dirtyEpoch
	firstDone := slot.done
	slot.mu.Unlock()

	_, err = slot.Write(0, []byte("22222"))
	require.NoError(t, err)

	assert.False(t, firstDone.Wait(), "the superseded epoch's done watch must resolve false")

	slot.mu.Lock()
	secondEpoch := slot.dirtyEpoch
	slot.mu.Unlock()
	assert.NotEqual(t, firstEpoch, secondEpoch)

	assert.NoError(t, slot.Flush())
	got, err := slot.Read(0, 5)
	assert.NoError(t, err)
	assert.Equal(t, []byte("22222"), got)
}

func TestCacheSlotInvalidateDuringUpload(t *testing.T) {
	cache, client := newTestCacheAndClient(t)
	content := []byte("abcde")
	client.AddItem(remote.Metadata{ID: "a", Size: uint64(len(content)), CTag: "t0"}, content)
	client.Latency = 50 * time.Millisecond

	slot, _, err := cache.TryAllocAndFetch(context.Background(), "a", uint64(len(content)), "t0", "mock://a", nil)
	require.NoError(t, err)
	waitForStatus(t, slot, StatusAvailable)

	// client.Latency is still 50ms: the upload triggered below stays
	// in flight long enough for Invalidate to win the race.
	_, err = slot.Write(0, []byte("11111"))
	require.NoError(t, err)

	slot.mu.Lock()
	slot.flushTx <- struct{}{}
	slot.mu.Unlock()

	slot.Invalidate()

	_, err = slot.Read(0, 5)
	assert.ErrorIs(t, err, ErrInvalidated)
}

// TestCacheSlotTruncateWhileDownloading drives runWriter by hand, rather than
// through the mock's range transport, so the moment of truncation relative
// to the writer's progress is deterministic instead of racing a real
// transfer.
func TestCacheSlotTruncateWhileDownloading(t *testing.T) {
	cache, client := newTestCacheAndClient(t)
	client.AddItem(remote.Metadata{ID: "a", Size: 10, CTag: "t0"}, nil)

	file, err := os.CreateTemp(t.TempDir(), "slot-*")
	require.NoError(t, err)
	require.NoError(t, file.Truncate(10))

	slot, ctx := newDownloadingSlot(cache, "a", file, 10, 10, "t0", nil)
	chunks := make(chan []byte, 4)
	downloadErr := make(chan error, 1)
	go slot.runWriter(ctx, chunks, downloadErr)

	chunks <- []byte("0123")
	// Give runWriter a chance to persist the first chunk before truncating.
	_, _ = slot.availableSize.WaitPast(3)

	outcome, err := slot.Truncate(4, time.Now())
	require.NoError(t, err)
	assert.Equal(t, truncateApplied, outcome)

	chunks <- []byte("456789")
	close(chunks)

	waitForStatus(t, slot, StatusDirty)

	got, err := slot.Read(0, 4)
	assert.NoError(t, err)
	assert.Equal(t, []byte("0123"), got)

	assert.NoError(t, slot.Flush())
}

func TestCacheSlotUploadRetriesPastTransientFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Upload.RetryDelay = time.Millisecond
	client := remote.NewMockClient()
	content := []byte("hello")
	client.AddItem(remote.Metadata{ID: "a", Size: uint64(len(content)), CTag: "t0"}, content)
	client.FailUpload = assert.AnError
	cache, err := NewDiskCache(cfg, client)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	slot, _, err := cache.TryAllocAndFetch(context.Background(), "a", uint64(len(content)), "t0", "mock://a", nil)
	require.NoError(t, err)
	waitForStatus(t, slot, StatusAvailable)

	_, err = slot.Write(0, []byte("AAAAA"))
	require.NoError(t, err)

	slot.mu.Lock()
	slot.flushTx <- struct{}{}
	slot.mu.Unlock()

	// Give the upload goroutine a few failed attempts against FailUpload
	// before clearing it, then confirm it eventually succeeds rather than
	// giving up.
	time.Sleep(20 * time.Millisecond)
	client.FailUpload = nil

	assert.NoError(t, slot.Flush())
	got, err := slot.Read(0, 5)
	assert.NoError(t, err)
	assert.Equal(t, []byte("AAAAA"), got)
}

func TestCacheSlotWriteTooLargeFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Upload.MaxSize = 4
	client := remote.NewMockClient()
	cache, err := NewDiskCache(cfg, client)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	file, err := os.CreateTemp(t.TempDir(), "slot-*")
	require.NoError(t, err)
	slot := newAvailableSlot(cache, "a", file, "t0")

	_, err = slot.Write(0, []byte("toolong"))
	assert.Error(t, err)
}

func TestCacheSlotFlushOnAvailableIsNoop(t *testing.T) {
	file, err := os.CreateTemp(t.TempDir(), "slot-*")
	require.NoError(t, err)
	cache, _ := newTestCacheAndClient(t)
	slot := newAvailableSlot(cache, "a", file, "t0")
	assert.NoError(t, slot.Flush())
}
