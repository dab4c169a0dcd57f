// Package local implements ports.Provider over the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	fsw "github.com/corey/five/internal/adapters/fsnotify"
	"github.com/corey/five/internal/ports"
)

// Options configure a Provider.
type Options struct {
	Ignore  []string // names the watcher skips
	Logger  *zap.Logger
	NoWatch bool // report Watch as unsupported
}

// Provider serves one local directory tree. Symlinks are reported, never
// followed.
type Provider struct {
	root string
	opts Options
	log  *zap.Logger

	mu     sync.Mutex
	closed bool
}

var _ ports.Provider = (*Provider)(nil)

// New opens root, which must be an existing directory.
func New(root string, opts Options) (*Provider, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, ports.WrapPath("open", abs, err)
	}
	if !info.IsDir() {
		return nil, &ports.PathError{Op: "open", Path: abs, Err: errors.New("not a directory")}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{root: abs, opts: opts, log: log}, nil
}

// Root returns the absolute root directory.
func (p *Provider) Root() string { return p.root }

// Capabilities implements ports.Provider.
func (p *Provider) Capabilities() ports.Capabilities {
	return ports.Capabilities{Remote: false, Watch: !p.opts.NoWatch}
}

// resolve maps a root-relative slash path to an OS path, refusing anything
// that would leave the root.
func (p *Provider) resolve(op, rel string) (string, error) {
	if rel == "" {
		return p.root, nil
	}
	clean := path.Clean(rel)
	if clean == "." {
		return p.root, nil
	}
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", &ports.PathError{Op: op, Path: rel, Err: ports.ErrPermission}
	}
	return filepath.Join(p.root, filepath.FromSlash(clean)), nil
}

func (p *Provider) checkOpen(ctx context.Context, op, rel string) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return &ports.PathError{Op: op, Path: rel, Err: ports.ErrTransport}
	}
	return ports.WrapPath(op, rel, ctx.Err())
}

// List implements ports.Provider.
func (p *Provider) List(ctx context.Context, dir string) ([]ports.FileInfo, error) {
	if err := p.checkOpen(ctx, "list", dir); err != nil {
		return nil, err
	}
	abs, err := p.resolve("list", dir)
	if err != nil {
		return nil, err
	}

	des, err := os.ReadDir(abs)
	if err != nil {
		return nil, ports.WrapPath("list", dir, err)
	}

	out := make([]ports.FileInfo, 0, len(des))
	for _, de := range des {
		info, err := de.Info()
		if err != nil {
			// removed between readdir and lstat
			continue
		}
		out = append(out, fileInfo(de.Name(), info))
	}
	if err := ctx.Err(); err != nil {
		return nil, ports.WrapPath("list", dir, err)
	}
	return out, nil
}

// Stat implements ports.Provider.
func (p *Provider) Stat(ctx context.Context, rel string) (ports.FileInfo, error) {
	if err := p.checkOpen(ctx, "stat", rel); err != nil {
		return ports.FileInfo{}, err
	}
	abs, err := p.resolve("stat", rel)
	if err != nil {
		return ports.FileInfo{}, err
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return ports.FileInfo{}, ports.WrapPath("stat", rel, err)
	}
	return fileInfo(filepath.Base(abs), info), nil
}

// ReadFile implements ports.Provider.
func (p *Provider) ReadFile(ctx context.Context, rel string) (io.ReadCloser, error) {
	if err := p.checkOpen(ctx, "read", rel); err != nil {
		return nil, err
	}
	abs, err := p.resolve("read", rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, ports.WrapPath("read", rel, err)
	}
	if info, err := f.Stat(); err == nil && info.IsDir() {
		f.Close()
		return nil, &ports.PathError{Op: "read", Path: rel, Err: errors.New("is a directory")}
	}
	return f, nil
}

// Watch implements ports.Provider. Every changed path becomes an event for
// its parent directory; a kernel queue overflow becomes a full-rescan event.
func (p *Provider) Watch(ctx context.Context) (<-chan ports.ChangeEvent, error) {
	if p.opts.NoWatch {
		return nil, ports.ErrWatchUnsupported
	}
	if err := p.checkOpen(ctx, "watch", ""); err != nil {
		return nil, err
	}

	ch := make(chan ports.ChangeEvent, 256)
	var mu sync.Mutex
	closed := false
	send := func(ev ports.ChangeEvent) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}

	var w ports.Watcher
	w, err := fsw.NewWatcher(fsw.Options{
		Ignore: p.opts.Ignore,
		Logger: p.log,
		OnError: func(err error) {
			if fsw.IsOverflow(err) {
				send(ports.ChangeEvent{Full: true})
			}
		},
	})
	if err != nil {
		return nil, ports.WrapPath("watch", "", err)
	}

	err = w.Watch(p.root, func(abs string) {
		rel, err := filepath.Rel(p.root, abs)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			send(ports.ChangeEvent{Full: true})
			return
		}
		dir := path.Dir(filepath.ToSlash(rel))
		if dir == "." {
			dir = ""
		}
		send(ports.ChangeEvent{Dir: dir})
	})
	if err != nil {
		w.Stop()
		return nil, ports.WrapPath("watch", "", err)
	}

	go func() {
		<-ctx.Done()
		if err := w.Stop(); err != nil {
			p.log.Debug("stop watcher", zap.Error(err))
		}
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch, nil
}

// Close implements ports.Provider. Calls made after Close fail with
// ErrTransport.
func (p *Provider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func fileInfo(name string, info fs.FileInfo) ports.FileInfo {
	fi := ports.FileInfo{Name: name, Size: info.Size(), ModTime: info.ModTime()}
	switch mode := info.Mode(); {
	case mode&fs.ModeSymlink != 0:
		fi.Kind = ports.KindSymlink
	case mode.IsDir():
		fi.Kind = ports.KindDir
		fi.Size = 0
	default:
		fi.Kind = ports.KindFile
	}
	return fi
}
