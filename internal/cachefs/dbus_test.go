package cachefs

import (
	"context"
	"testing"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBroadcaster skips the test when no D-Bus session bus is reachable
// (headless CI, minimal containers) rather than failing the suite over an
// environment that legitimately has no desktop bus.
func newTestBroadcaster(t *testing.T) *ItemStatusBroadcaster {
	t.Helper()
	b, err := NewItemStatusBroadcaster()
	if err != nil {
		t.Skipf("no D-Bus session bus reachable: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestItemStatusBroadcasterEmitsSignalOnEvent(t *testing.T) {
	b := newTestBroadcaster(t)

	sub, err := dbus.SessionBus()
	require.NoError(t, err)
	require.NoError(t, sub.AddMatchSignal(dbus.WithMatchInterface(itemStatusInterface)))
	defer sub.RemoveMatchSignal(dbus.WithMatchInterface(itemStatusInterface))

	signals := make(chan *dbus.Signal, 4)
	sub.Signal(signals)
	defer sub.RemoveSignal(signals)

	events := make(chan UpdateEvent, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx, events)

	events <- UpdateEvent{ItemID: "a", CTag: "t1", Size: 5}

	select {
	case sig := <-signals:
		assert.Equal(t, itemStatusInterface+".ItemUploaded", sig.Name)
		require.Len(t, sig.Body, 3)
		assert.Equal(t, "a", sig.Body[0])
	case <-time.After(2 * time.Second):
		t.Fatal("expected an ItemUploaded signal")
	}
}

func TestItemStatusBroadcasterRunExitsOnClosedChannel(t *testing.T) {
	b := newTestBroadcaster(t)

	events := make(chan UpdateEvent)
	done := make(chan struct{})
	go func() {
		b.Run(context.Background(), events)
		close(done)
	}()
	close(events)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after its events channel closed")
	}
}

func TestItemStatusBroadcasterCloseIsIdempotent(t *testing.T) {
	b := newTestBroadcaster(t)
	assert.NoError(t, b.Close())
	assert.NoError(t, b.Close())
}
