package app

import (
	"context"
	"io"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corey/five/internal/domain/index"
	"github.com/corey/five/internal/domain/status"
	"github.com/corey/five/internal/ports"
)

var memTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type memNode struct {
	kind ports.Kind
	data string
	mod  time.Time
}

// memProvider is an in-memory tree. Paths ending in "/" are directories;
// parents are created implicitly.
type memProvider struct {
	mu     sync.Mutex
	nodes  map[string]memNode
	calls  map[string]int
	caps   ports.Capabilities
	events chan ports.ChangeEvent
	closed bool

	// watchEnds makes every watch stream end immediately.
	watchEnds bool

	// listErr, when set, can fail the n-th List call of dir.
	listErr func(dir string, n int) error
	// block, when set, holds every List call until it is closed or ctx ends.
	block chan struct{}
	// afterList, when set, runs once the n-th listing of dir is taken and
	// before it is returned.
	afterList func(dir string, n int)
}

var _ ports.Provider = (*memProvider)(nil)

func newMemProvider(paths ...string) *memProvider {
	p := &memProvider{
		nodes:  make(map[string]memNode),
		calls:  make(map[string]int),
		events: make(chan ports.ChangeEvent, 16),
	}
	for _, s := range paths {
		p.add(s, "content of "+strings.TrimSuffix(s, "/"))
	}
	return p
}

func (p *memProvider) add(s, data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dir := strings.HasSuffix(s, "/")
	s = strings.TrimSuffix(s, "/")
	for parent := index.Parent(s); parent != ""; parent = index.Parent(parent) {
		p.nodes[parent] = memNode{kind: ports.KindDir, mod: memTime}
	}
	if dir {
		p.nodes[s] = memNode{kind: ports.KindDir, mod: memTime}
		return
	}
	p.nodes[s] = memNode{kind: ports.KindFile, data: data, mod: memTime}
}

func (p *memProvider) remove(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.nodes {
		if k == s || strings.HasPrefix(k, s+"/") {
			delete(p.nodes, k)
		}
	}
}

func (p *memProvider) setListErr(fn func(dir string, n int) error) {
	p.mu.Lock()
	p.listErr = fn
	p.mu.Unlock()
}

func (p *memProvider) callCount(dir string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[dir]
}

func (p *memProvider) List(ctx context.Context, dir string) ([]ports.FileInfo, error) {
	p.mu.Lock()
	p.calls[dir]++
	n, hook, block, after := p.calls[dir], p.listErr, p.block, p.afterList
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ports.WrapPath("list", dir, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, ports.WrapPath("list", dir, err)
	}
	if hook != nil {
		if err := hook(dir, n); err != nil {
			return nil, ports.WrapPath("list", dir, err)
		}
	}

	out, err := p.listing(dir)
	if err == nil && after != nil {
		after(dir, n)
	}
	return out, err
}

func (p *memProvider) listing(dir string) ([]ports.FileInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ports.WrapPath("list", dir, ports.ErrTransport)
	}
	if dir != "" {
		if nd, ok := p.nodes[dir]; !ok || nd.kind != ports.KindDir {
			return nil, ports.WrapPath("list", dir, ports.ErrNotFound)
		}
	}
	var out []ports.FileInfo
	for k, nd := range p.nodes {
		if index.Parent(k) == dir {
			out = append(out, ports.FileInfo{Name: path.Base(k), Kind: nd.kind, Size: int64(len(nd.data)), ModTime: nd.mod})
		}
	}
	return out, nil
}

func (p *memProvider) Stat(ctx context.Context, s string) (ports.FileInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	nd, ok := p.nodes[s]
	if !ok {
		return ports.FileInfo{}, ports.WrapPath("stat", s, ports.ErrNotFound)
	}
	return ports.FileInfo{Name: path.Base(s), Kind: nd.kind, Size: int64(len(nd.data)), ModTime: nd.mod}, nil
}

func (p *memProvider) ReadFile(ctx context.Context, s string) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	nd, ok := p.nodes[s]
	if !ok {
		return nil, ports.WrapPath("read", s, ports.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(nd.data)), nil
}

func (p *memProvider) Watch(ctx context.Context) (<-chan ports.ChangeEvent, error) {
	if !p.caps.Watch {
		return nil, ports.ErrWatchUnsupported
	}
	out := make(chan ports.ChangeEvent)
	if p.watchEnds {
		close(out)
		return out, nil
	}
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-p.events:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *memProvider) Capabilities() ports.Capabilities { return p.caps }

func (p *memProvider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// fastRetry keeps retry tests quick.
func fastRetry(attempts int) IndexerConfig {
	cfg := IndexerConfig{Workers: 3}
	cfg.Retry.MaxAttempts = attempts
	cfg.Retry.InitialWait = time.Millisecond
	cfg.Retry.MaxWait = 5 * time.Millisecond
	cfg.Retry.Multiplier = 2
	return cfg
}

func startIndexer(t *testing.T, p ports.Provider, cfg IndexerConfig) (*Indexer, *index.Index) {
	t.Helper()
	ix := index.New(index.DefaultIgnore)
	in := NewIndexer(p, ix, cfg)
	in.Start(context.Background())
	t.Cleanup(in.Stop)
	return in, ix
}

func waitIdle(t *testing.T, in *Indexer) status.Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := in.WaitIdle(ctx)
	require.NoError(t, err)
	return st
}

func snapshotPaths(s *index.Snapshot) []string {
	out := make([]string, s.Len())
	for i := range out {
		out[i] = s.Entry(i).Path
	}
	return out
}
