package ports

import (
	"context"
	"errors"
	"io/fs"
	"os"
)

// Error taxonomy shared by every provider. Adapters wrap one of these
// sentinels (usually in a *PathError) so callers can use errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrPermission       = errors.New("permission denied")
	ErrTimeout          = errors.New("timeout")
	ErrTransport        = errors.New("transport error")
	ErrCancelled        = errors.New("cancelled")
	ErrWatchUnsupported = errors.New("watch unsupported")
)

// PathError records the operation and path that failed.
type PathError struct {
	Op   string // "list", "stat", "read", "watch"
	Path string
	Err  error
}

func (e *PathError) Error() string {
	p := e.Path
	if p == "" {
		p = "."
	}
	return e.Op + " " + p + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth retrying with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport)
}

// IsCancelled reports whether err is the expected outcome of cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Classify maps an arbitrary error onto the taxonomy. Errors already in the
// taxonomy pass through; OS and context errors are translated; anything else
// is returned unchanged and treated as a non-retryable per-path failure.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPermission),
		errors.Is(err, ErrTimeout), errors.Is(err, ErrTransport),
		errors.Is(err, ErrCancelled), errors.Is(err, ErrWatchUnsupported):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrPermission
	}
	return err
}

// WrapPath classifies err and attaches op and path. Returns nil for nil.
func WrapPath(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PathError
	if errors.As(err, &pe) {
		return err
	}
	c := Classify(err)
	if c != err && !errors.Is(c, err) {
		// keep the original message for logs while matching the sentinel
		c = &classified{kind: c, cause: err}
	}
	return &PathError{Op: op, Path: path, Err: c}
}

// classified pairs a taxonomy sentinel with the underlying cause.
type classified struct {
	kind  error
	cause error
}

func (c *classified) Error() string   { return c.kind.Error() + ": " + c.cause.Error() }
func (c *classified) Is(t error) bool { return t == c.kind }
func (c *classified) Unwrap() error   { return c.cause }
