// Package synccursor persists the opaque cursor a remote change feed hands
// back between polls, so a restarted daemon resumes from where it left off
// instead of re-walking the whole tree. It stores only the cursor string,
// never cache content, so it carries none of the crash-safety weight of
// internal/cachefs's disk cache.
//
// Grounded on the teacher project's internal/fs/delta.go, which persists its
// analogous deltaLink the same way: a single bbolt bucket, one key per
// tracked root.
package synccursor

import (
	bolt "go.etcd.io/bbolt"
)

var bucketCursor = []byte("syncCursor")

// Store is a bbolt-backed key/value store of sync cursors, one per tracked
// root item id.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bbolt database at path and ensures
// its cursor bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCursor)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Get returns the last-persisted cursor for rootID, or "" if none is
// recorded yet (a fresh sync should start from the beginning).
func (s *Store) Get(rootID string) (string, error) {
	var cursor string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCursor).Get([]byte(rootID))
		if v != nil {
			cursor = string(v)
		}
		return nil
	})
	return cursor, err
}

// Set persists cursor as the latest position for rootID.
func (s *Store) Set(rootID, cursor string) error {
	return s.db.Batch(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCursor).Put([]byte(rootID), []byte(cursor))
	})
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}
