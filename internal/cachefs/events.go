package cachefs

import "time"

// UpdateEvent is emitted on DiskCache's Events channel once a CacheSlot's
// upload succeeds, carrying the metadata the caller (InodePool, or whatever
// surrounds it) should refresh its attribute cache with.
type UpdateEvent struct {
	ItemID string
	Size   uint64
	Mtime  time.Time
	CTag   string
}
