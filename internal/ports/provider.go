// Package ports defines the interfaces (contracts) that adapters must implement.
// These are the boundaries of the hexagonal architecture. Domain logic depends
// only on these interfaces, never on concrete implementations.
package ports

import (
	"context"
	"io"
	"time"
)

// Provider exposes one directory tree, local or remote, through a uniform
// blocking-call contract. Every path is slash-separated and relative to the
// provider root; "" names the root itself.
//
// Implementations translate every failure into the error taxonomy in
// errors.go before returning. Callers bound each call with a context deadline;
// a provider must honour cancellation promptly.
type Provider interface {
	// List returns the immediate children of dir. Order is unspecified.
	List(ctx context.Context, dir string) ([]FileInfo, error)

	// Stat returns metadata for a single path.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// ReadFile opens path for streaming. The caller closes the reader.
	ReadFile(ctx context.Context, path string) (io.ReadCloser, error)

	// Watch starts a change stream for the whole tree. The channel is closed
	// when ctx is cancelled or the stream fails; callers restart it by calling
	// Watch again. Returns ErrWatchUnsupported when the provider cannot watch.
	Watch(ctx context.Context) (<-chan ChangeEvent, error)

	// Capabilities reports static properties of the provider.
	Capabilities() Capabilities

	// Close releases the underlying transport. Safe to call multiple times.
	Close() error
}

// Capabilities describes what a provider can do and how it should be driven.
type Capabilities struct {
	Remote bool // latency-bound: keep the worker pool small
	Watch  bool // Watch is implemented
}

// Kind classifies a filesystem node.
type Kind uint8

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// FileInfo is what a provider reports about one node.
type FileInfo struct {
	Name    string
	Kind    Kind
	Size    int64
	ModTime time.Time
}

// Entry is one indexed node. Entries are immutable values: a changed file
// produces a new Entry that replaces the old one in the index.
type Entry struct {
	Path       string // relative to root, slash-separated, never empty
	Kind       Kind
	Size       int64
	ModTime    time.Time
	Generation uint64 // indexer pass that last (re)observed a change
}

// Name returns the final path segment.
func (e Entry) Name() string {
	for i := len(e.Path) - 1; i >= 0; i-- {
		if e.Path[i] == '/' {
			return e.Path[i+1:]
		}
	}
	return e.Path
}

// SameContent reports whether two observations describe the same node state.
// Generation is ignored.
func (e Entry) SameContent(other Entry) bool {
	return e.Path == other.Path &&
		e.Kind == other.Kind &&
		e.Size == other.Size &&
		e.ModTime.Equal(other.ModTime)
}

// ChangeEvent reports that the children of Dir may have changed.
type ChangeEvent struct {
	Dir string // relative directory to re-list; "" is the root

	// Full asks for a rescan of the whole tree; the source lost events.
	Full bool
}
