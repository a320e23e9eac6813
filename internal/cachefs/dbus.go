package cachefs

import (
	"context"
	"sync"

	dbus "github.com/godbus/dbus/v5"

	"github.com/auriora/onemount-cachefs/pkg/logging"
)

const (
	// itemStatusInterface and itemStatusObjectPath mirror the shape of the
	// teacher's FileStatusDBusServer (internal/fs/dbus.go), scoped to this
	// engine's own domain instead of a FUSE mount's file statuses.
	itemStatusInterface  = "org.cachefs.ItemStatus"
	itemStatusObjectPath = "/org/cachefs/ItemStatus"
)

// ItemStatusBroadcaster republishes DiskCache update events as D-Bus signals,
// the same external-notification concern the teacher's FileStatusDBusServer
// serves for desktop file-manager overlays. This engine has no FUSE mount to
// report per-path status for, so it broadcasts per-item upload completion
// instead: ItemUploaded(itemID, cTag, size).
type ItemStatusBroadcaster struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

// NewItemStatusBroadcaster connects to the session bus. It returns an error
// when no session bus is reachable (headless CI, minimal containers), so
// callers can fall back to log-only notification instead of failing to
// start the daemon over a missing desktop bus.
func NewItemStatusBroadcaster() (*ItemStatusBroadcaster, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, err
	}
	return &ItemStatusBroadcaster{conn: conn}, nil
}

// Run emits one ItemUploaded signal per event until events is closed or ctx
// is done.
func (b *ItemStatusBroadcaster) Run(ctx context.Context, events <-chan UpdateEvent) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.Emit(ev)
		case <-ctx.Done():
			return
		}
	}
}

// Emit publishes a single event as an ItemUploaded signal. Safe to call on a
// nil *ItemStatusBroadcaster, which is a no-op: callers that could not reach
// a session bus still get log-only notification.
func (b *ItemStatusBroadcaster) Emit(ev UpdateEvent) {
	if b == nil {
		return
	}
	err := b.conn.Emit(dbus.ObjectPath(itemStatusObjectPath), itemStatusInterface+".ItemUploaded",
		ev.ItemID, ev.CTag, ev.Size)
	if err != nil {
		logging.Error().Err(err).Str("item", ev.ItemID).Msg("failed to emit item-status D-Bus signal")
	}
}

// Close releases the session bus connection.
func (b *ItemStatusBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}
