package ports

// Watcher reports changes under a local root as absolute node paths. The
// local provider turns them into per-directory ChangeEvents.
type Watcher interface {
	// Watch subscribes to root and every directory below it that is not
	// ignored. onChange may run on any goroutine.
	Watch(root string, onChange func(path string)) error

	// Stop unsubscribes. No onChange call starts after it returns; calling
	// it again is a no-op.
	Stop() error
}
