package ports

import "time"

// SnapshotStore persists the last good index of an opened target so that the
// next session can answer quick-open queries before its first scan finishes.
// The backing store (bbolt) is target-scoped: each target ID gets its own
// namespace. Concurrent reads are safe; writes are serialized by the adapter.
//
// Crash safety: SaveSnapshot must be transactional. A crash mid-write must not
// corrupt a previously committed snapshot.
type SnapshotStore interface {
	// SaveSnapshot replaces the stored snapshot for targetID.
	SaveSnapshot(targetID string, snap *StoredSnapshot) error

	// LoadSnapshot returns the stored snapshot for targetID.
	// Returns nil, nil if nothing was stored yet.
	LoadSnapshot(targetID string) (*StoredSnapshot, error)

	// DeleteSnapshot removes everything stored for targetID.
	// Idempotent: deleting a nonexistent target is not an error.
	DeleteSnapshot(targetID string) error

	// Close releases the store.
	Close() error
}

// StoredSnapshot is the persisted form of an index.
type StoredSnapshot struct {
	SavedAt    time.Time
	Generation uint64
	Entries    []Entry
}
