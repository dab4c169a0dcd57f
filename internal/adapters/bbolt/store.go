// Package bbolt implements the ports.SnapshotStore interface using bbolt
// (embedded B+ tree). Each target gets its own top-level bucket holding the
// encoded entries and a small metadata record. Writes are transactional, so a
// crash mid-write cannot corrupt a previously committed snapshot.
package bbolt

import (
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/corey/five/internal/ports"
)

// Bucket keys
var (
	keyEntries = []byte("entries")
	keyMeta    = []byte("meta")
)

// OpenTimeout bounds the wait for the file lock held by another five process.
const OpenTimeout = 1 * time.Second

// Store implements ports.SnapshotStore backed by bbolt.
type Store struct {
	db *bolt.DB
}

var _ ports.SnapshotStore = (*Store)(nil)

// NewStore opens (or creates) a bbolt database at the given path.
func NewStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

// SaveSnapshot replaces the stored snapshot for a target.
func (s *Store) SaveSnapshot(targetID string, snap *ports.StoredSnapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}

	entries, err := encodeEntries(snap.Entries)
	if err != nil {
		return fmt.Errorf("encode entries: %w", err)
	}
	meta, err := encodeMeta(snapshotMeta{
		Version:    formatVersion,
		SavedAt:    snap.SavedAt,
		Generation: snap.Generation,
		Count:      len(snap.Entries),
	})
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(targetID))
		if err != nil {
			return err
		}
		if err := b.Put(keyEntries, entries); err != nil {
			return err
		}
		return b.Put(keyMeta, meta)
	})
}

// LoadSnapshot retrieves the snapshot for a target.
// Returns nil, nil if none exists or it was written by another format version.
func (s *Store) LoadSnapshot(targetID string) (*ports.StoredSnapshot, error) {
	var entriesRaw, metaRaw []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(targetID))
		if b == nil {
			return nil
		}
		// Copy bytes out of the transaction (bbolt slices are only valid within tx)
		if v := b.Get(keyEntries); v != nil {
			entriesRaw = append([]byte(nil), v...)
		}
		if v := b.Get(keyMeta); v != nil {
			metaRaw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if entriesRaw == nil || metaRaw == nil {
		return nil, nil
	}

	meta, err := decodeMeta(metaRaw)
	if err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	if meta.Version != formatVersion {
		return nil, nil
	}
	entries, err := decodeEntries(entriesRaw)
	if err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	if len(entries) != meta.Count {
		return nil, fmt.Errorf("snapshot has %d entries, meta says %d", len(entries), meta.Count)
	}

	return &ports.StoredSnapshot{
		SavedAt:    meta.SavedAt,
		Generation: meta.Generation,
		Entries:    entries,
	}, nil
}

// DeleteSnapshot removes everything stored for a target.
// Idempotent: deleting a nonexistent target is not an error.
func (s *Store) DeleteSnapshot(targetID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(targetID))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil // idempotent
		}
		return err
	})
}

// Targets lists the IDs of every stored snapshot.
func (s *Store) Targets() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			ids = append(ids, string(name))
			return nil
		})
	})
	return ids, err
}
