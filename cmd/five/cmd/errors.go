package cmd

import (
	"errors"

	bolt "go.etcd.io/bbolt"
)

const dbLockHint = "index database is locked by another five process\n" +
	"  → find it:   ps aux | grep 'five'\n" +
	"  → close it, then retry"

// isDBLockError reports whether opening the store failed on the file lock.
func isDBLockError(err error) bool {
	return errors.Is(err, bolt.ErrTimeout)
}
