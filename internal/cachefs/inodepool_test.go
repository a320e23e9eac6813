package cachefs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auriora/onemount-cachefs/pkg/remote"
)

func TestInodePoolRootPreallocated(t *testing.T) {
	client := remote.NewMockClient()
	p := NewInodePool(client, "root-id", time.Minute)

	id, err := p.ItemID(rootInode)
	require.NoError(t, err)
	assert.Equal(t, "root-id", id)

	p.Free(rootInode, 1000)
	_, err = p.ItemID(rootInode)
	assert.NoError(t, err, "the root inode must survive any Free call")
}

func TestInodePoolAcquireOrAllocReusesInodeForSameItem(t *testing.T) {
	client := remote.NewMockClient()
	p := NewInodePool(client, "root-id", time.Minute)

	ino1 := p.AcquireOrAlloc("child")
	ino2 := p.AcquireOrAlloc("child")
	assert.Equal(t, ino1, ino2)

	id, err := p.ItemID(ino1)
	require.NoError(t, err)
	assert.Equal(t, "child", id)
}

func TestInodePoolFreeRemovesAtZeroRefcount(t *testing.T) {
	client := remote.NewMockClient()
	p := NewInodePool(client, "root-id", time.Minute)

	ino := p.AcquireOrAlloc("child")
	p.AcquireOrAlloc("child") // refcount 2
	p.Free(ino, 1)
	_, err := p.ItemID(ino)
	assert.NoError(t, err, "one remaining ref should keep the inode alive")

	p.Free(ino, 1)
	_, err = p.ItemID(ino)
	assert.Error(t, err, "dropping the last ref should free the inode")
}

func TestInodePoolLookupRejectsEmptyName(t *testing.T) {
	client := remote.NewMockClient()
	p := NewInodePool(client, "root-id", time.Minute)
	_, _, _, err := p.Lookup(context.Background(), rootInode, "")
	assert.Error(t, err)
}

func TestInodePoolLookupFetchesAndCachesAttr(t *testing.T) {
	client := remote.NewMockClient()
	client.AddItem(remote.Metadata{ID: "root-id/child.txt", Size: 42}, nil)
	p := NewInodePool(client, "root-id", time.Minute)

	ino, attr, ttl, err := p.Lookup(context.Background(), rootInode, "child.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), attr.Size)
	assert.Equal(t, time.Minute, ttl)

	id, err := p.ItemID(ino)
	require.NoError(t, err)
	assert.Equal(t, "root-id/child.txt", id)
}

func TestInodePoolGetAttrServesFromTTLCache(t *testing.T) {
	client := remote.NewMockClient()
	client.AddItem(remote.Metadata{ID: "item", Size: 10}, nil)
	p := NewInodePool(client, "root-id", time.Hour)
	ino := p.AcquireOrAlloc("item")

	_, err := p.GetAttr(context.Background(), ino)
	require.NoError(t, err)
	callsAfterFirst := len(client.Calls())

	_, err = p.GetAttr(context.Background(), ino)
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, len(client.Calls()), "a fresh TTL entry must not refetch")
}

func TestInodePoolGetAttrRefetchesAfterTTLExpiry(t *testing.T) {
	client := remote.NewMockClient()
	client.AddItem(remote.Metadata{ID: "item", Size: 10}, nil)
	p := NewInodePool(client, "root-id", time.Millisecond)
	ino := p.AcquireOrAlloc("item")

	_, err := p.GetAttr(context.Background(), ino)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	callsBefore := len(client.Calls())
	_, err = p.GetAttr(context.Background(), ino)
	require.NoError(t, err)
	assert.Greater(t, len(client.Calls()), callsBefore, "an expired TTL entry must refetch")
}

func TestInodePoolGetAttrDedupesConcurrentMisses(t *testing.T) {
	client := remote.NewMockClient()
	client.AddItem(remote.Metadata{ID: "item", Size: 10}, nil)
	client.Latency = 30 * time.Millisecond
	p := NewInodePool(client, "root-id", time.Hour)
	ino := p.AcquireOrAlloc("item")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.GetAttr(context.Background(), ino)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	getItemCalls := 0
	for _, c := range client.Calls() {
		if c == "GetItem" {
			getItemCalls++
		}
	}
	assert.Equal(t, 1, getItemCalls, "singleflight should dedupe concurrent misses into one GetItem call")
}

func TestInodePoolGetAttrSurfacesRemoteError(t *testing.T) {
	client := remote.NewMockClient()
	client.AddItem(remote.Metadata{ID: "item", Size: 10}, nil)
	client.FailGetItem = assert.AnError
	p := NewInodePool(client, "root-id", time.Minute)
	ino := p.AcquireOrAlloc("item")

	_, err := p.GetAttr(context.Background(), ino)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestInodePoolGetAttrUnknownInode(t *testing.T) {
	client := remote.NewMockClient()
	p := NewInodePool(client, "root-id", time.Minute)
	_, err := p.GetAttr(context.Background(), 999)
	assert.Error(t, err)
}

func TestInodePoolTouchDoesNotRetainReference(t *testing.T) {
	client := remote.NewMockClient()
	p := NewInodePool(client, "root-id", time.Minute)

	ino := p.Touch("ephemeral")
	_, err := p.ItemID(ino)
	assert.Error(t, err, "Touch must not leave a live reference behind")
}
