// Package fsnotify implements the ports.Watcher interface using github.com/fsnotify/fsnotify.
// It recursively watches a directory tree, filters out ignored names and editor
// scratch files, and debounces rapid events (editors often trigger multiple
// writes per save).
package fsnotify

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/corey/five/internal/ports"
)

// DefaultDebounce is the per-path quiet period between two callbacks.
const DefaultDebounce = 50 * time.Millisecond

// Suffixes of editor scratch files that never trigger a callback.
var ignoreSuffixes = []string{".swp", ".swx", "~", ".tmp"}

// Options configure a Watcher. The zero value is usable.
type Options struct {
	// Ignore lists directory and file names to skip at any depth.
	Ignore []string

	// Debounce drops repeat events for a path inside this window.
	// Zero means DefaultDebounce.
	Debounce time.Duration

	// OnError receives errors from the event stream, including
	// fsnotify.ErrEventOverflow when the kernel queue dropped events.
	OnError func(error)

	Logger *zap.Logger
}

// Watcher implements ports.Watcher using fsnotify.
type Watcher struct {
	fw      *fsnotify.Watcher
	ignore  map[string]bool
	window  time.Duration
	onError func(error)
	log     *zap.Logger

	done    chan struct{}
	stopped bool
	mu      sync.Mutex
}

var _ ports.Watcher = (*Watcher)(nil)

// NewWatcher creates a new file system watcher.
func NewWatcher(opts Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ignore := make(map[string]bool, len(opts.Ignore))
	for _, n := range opts.Ignore {
		ignore[n] = true
	}
	window := opts.Debounce
	if window <= 0 {
		window = DefaultDebounce
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		fw:      fw,
		ignore:  ignore,
		window:  window,
		onError: opts.OnError,
		log:     log,
		done:    make(chan struct{}),
	}, nil
}

// Watch starts monitoring root recursively.
// onChange is called with the absolute path of each changed node.
func (w *Watcher) Watch(root string, onChange func(path string)) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "watch", Path: absRoot, Err: errors.New("not a directory")}
	}
	if err := w.addTree(absRoot, absRoot); err != nil {
		return err
	}

	// Debounce state: track last event time per path
	debounce := make(map[string]time.Time)

	go func() {
		for {
			select {
			case event, ok := <-w.fw.Events:
				if !ok {
					return
				}
				path := event.Name

				if w.shouldIgnorePath(absRoot, path) {
					continue
				}

				// New directories must be watched before their contents
				// change; mkdir -p can create several levels at once.
				if event.Has(fsnotify.Create) {
					if info, err := os.Lstat(path); err == nil && info.IsDir() {
						if err := w.addTree(absRoot, path); err != nil {
							w.log.Debug("watch new directory", zap.String("dir", path), zap.Error(err))
						}
					}
				}

				if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
					event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
					continue
				}

				now := time.Now()
				if last, seen := debounce[path]; seen && now.Sub(last) < w.window {
					continue
				}
				debounce[path] = now
				if len(debounce) > 4096 {
					for p, t := range debounce {
						if now.Sub(t) >= w.window {
							delete(debounce, p)
						}
					}
				}

				select {
				case <-w.done:
					return
				default:
				}
				onChange(path)

			case err, ok := <-w.fw.Errors:
				if !ok {
					return
				}
				w.log.Warn("watch error", zap.Error(err))
				if w.onError != nil {
					w.onError(err)
				}

			case <-w.done:
				return
			}
		}
	}()

	return nil
}

// addTree watches dir and every non-ignored directory below it.
func (w *Watcher) addTree(root, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil // skip inaccessible paths
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignore[d.Name()] {
			return filepath.SkipDir
		}
		if err := w.fw.Add(path); err != nil {
			if path == root {
				return err
			}
			w.log.Debug("watch add", zap.String("dir", path), zap.Error(err))
		}
		return nil
	})
}

// Stop ends monitoring and releases all resources.
// Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.done)
	return w.fw.Close()
}

// IsOverflow reports whether err means the watcher lost events.
func IsOverflow(err error) bool {
	return errors.Is(err, fsnotify.ErrEventOverflow)
}

// shouldIgnorePath reports whether path, or any directory between root and
// path, is ignored.
func (w *Watcher) shouldIgnorePath(root, path string) bool {
	base := filepath.Base(path)
	for _, suf := range ignoreSuffixes {
		if strings.HasSuffix(base, suf) {
			return true
		}
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if w.ignore[part] {
			return true
		}
	}
	return false
}
