// Package sshfs implements ports.Provider for a directory tree on a remote
// host reachable over SSH. It drives standard tools on the host (find, cat,
// date) through a Runner rather than speaking SFTP.
package sshfs

import (
	"bufio"
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/corey/five/internal/ports"
)

// Defaults for Options.
const (
	DefaultStatTTL      = 30 * time.Second
	DefaultPollInterval = 5 * time.Second
)

// Options configure a Provider.
type Options struct {
	Root         string // remote root, absolute or relative to the login home
	StatTTL      time.Duration
	PollInterval time.Duration
	Ignore       []string // pruned by the polling watch
	Logger       *zap.Logger
}

// Provider serves a remote tree through a Runner.
type Provider struct {
	run   Runner
	root  string
	opts  Options
	stats *cache.Cache
	log   *zap.Logger

	mu     sync.Mutex
	closed bool
}

var _ ports.Provider = (*Provider)(nil)

// New creates a provider over run. The provider owns run and closes it.
func New(run Runner, opts Options) *Provider {
	if opts.StatTTL <= 0 {
		opts.StatTTL = DefaultStatTTL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	root := opts.Root
	if root == "" {
		root = "/"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{
		run:   run,
		root:  path.Clean(root),
		opts:  opts,
		stats: cache.New(opts.StatTTL, 2*opts.StatTTL),
		log:   log,
	}
}

// Root returns the remote root path.
func (p *Provider) Root() string { return p.root }

// Capabilities implements ports.Provider.
func (p *Provider) Capabilities() ports.Capabilities {
	return ports.Capabilities{Remote: true, Watch: true}
}

// remotePath maps a root-relative path onto the host, refusing paths that
// leave the root.
func (p *Provider) remotePath(op, rel string) (string, error) {
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
	return path.Join(p.root, clean), nil
}

func (p *Provider) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// List implements ports.Provider.
func (p *Provider) List(ctx context.Context, dir string) ([]ports.FileInfo, error) {
	if p.isClosed() {
		return nil, &ports.PathError{Op: "list", Path: dir, Err: ports.ErrTransport}
	}
	rp, err := p.remotePath("list", dir)
	if err != nil {
		return nil, err
	}
	out, err := p.run.Run(ctx, listCmd(rp))
	if err != nil {
		return nil, classify("list", dir, err)
	}
	infos := parseList(out)
	for _, fi := range infos {
		p.stats.SetDefault(joinRel(dir, fi.Name), fi)
	}
	return infos, nil
}

// Stat implements ports.Provider. Answers come from the listing cache when
// fresh.
func (p *Provider) Stat(ctx context.Context, rel string) (ports.FileInfo, error) {
	if p.isClosed() {
		return ports.FileInfo{}, &ports.PathError{Op: "stat", Path: rel, Err: ports.ErrTransport}
	}
	if v, ok := p.stats.Get(rel); ok {
		return v.(ports.FileInfo), nil
	}
	rp, err := p.remotePath("stat", rel)
	if err != nil {
		return ports.FileInfo{}, err
	}
	out, err := p.run.Run(ctx, statCmd(rp))
	if err != nil {
		return ports.FileInfo{}, classify("stat", rel, err)
	}
	infos := parseList(out)
	if len(infos) != 1 {
		return ports.FileInfo{}, &ports.PathError{Op: "stat", Path: rel, Err: ports.ErrNotFound}
	}
	fi := infos[0]
	fi.Name = path.Base(rp)
	p.stats.SetDefault(rel, fi)
	return fi, nil
}

// ReadFile implements ports.Provider. The first byte is read before
// returning so a missing or unreadable file fails here, not mid-stream.
func (p *Provider) ReadFile(ctx context.Context, rel string) (io.ReadCloser, error) {
	if p.isClosed() {
		return nil, &ports.PathError{Op: "read", Path: rel, Err: ports.ErrTransport}
	}
	rp, err := p.remotePath("read", rel)
	if err != nil {
		return nil, err
	}
	rc, err := p.run.Stream(ctx, catCmd(rp))
	if err != nil {
		return nil, classify("read", rel, err)
	}
	br := bufio.NewReader(rc)
	if _, err := br.Peek(1); err != nil && !errors.Is(err, io.EOF) {
		rc.Close()
		return nil, classify("read", rel, err)
	}
	return &remoteFile{r: br, closer: rc, op: "read", path: rel}, nil
}

// Close implements ports.Provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.stats.Flush()
	return p.run.Close()
}

// forget drops cached stats for paths reported as changed.
func (p *Provider) forget(dirs []string) {
	for _, d := range dirs {
		p.stats.Delete(d)
	}
	for key := range p.stats.Items() {
		for _, d := range dirs {
			if parentOf(key) == d {
				p.stats.Delete(key)
				break
			}
		}
	}
}

// remoteFile classifies errors surfacing mid-stream.
type remoteFile struct {
	r      *bufio.Reader
	closer io.Closer
	op     string
	path   string
}

func (f *remoteFile) Read(b []byte) (int, error) {
	n, err := f.r.Read(b)
	if err != nil && !errors.Is(err, io.EOF) {
		err = classify(f.op, f.path, err)
	}
	return n, err
}

func (f *remoteFile) Close() error { return f.closer.Close() }

func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func parentOf(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}
