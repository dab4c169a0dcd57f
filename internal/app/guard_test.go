package app

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corey/five/internal/ports"
)

func TestGuard_DeadlineIsTimeout(t *testing.T) {
	p := newMemProvider("a.txt")
	p.block = make(chan struct{})
	g := newGuard(p, 1, 30*time.Millisecond)

	start := time.Now()
	_, err := g.List(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrTimeout)
	assert.True(t, ports.IsRetryable(err))
	assert.Less(t, time.Since(start), 2*time.Second)

	var pe *ports.PathError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "list", pe.Op)
}

func TestGuard_CallerCancellation(t *testing.T) {
	p := newMemProvider("a.txt")
	p.block = make(chan struct{})
	g := newGuard(p, 1, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := g.List(ctx, "")
	assert.ErrorIs(t, err, ports.ErrCancelled)
	assert.False(t, ports.IsRetryable(err))
}

func TestGuard_PassesProviderErrors(t *testing.T) {
	g := newGuard(newMemProvider(), 2, time.Second)
	_, err := g.Stat(context.Background(), "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	fi, err := newGuard(newMemProvider("x/y.txt"), 1, 0).Stat(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, ports.KindDir, fi.Kind)
}

// countingProvider tracks the number of concurrent List calls.
type countingProvider struct {
	*memProvider
	cur, max atomic.Int32
	release  chan struct{}
}

func (c *countingProvider) List(ctx context.Context, dir string) ([]ports.FileInfo, error) {
	n := c.cur.Add(1)
	defer c.cur.Add(-1)
	for {
		m := c.max.Load()
		if n <= m || c.max.CompareAndSwap(m, n) {
			break
		}
	}
	<-c.release
	return nil, nil
}

func TestGuard_PermitsBoundConcurrency(t *testing.T) {
	cp := &countingProvider{memProvider: newMemProvider(), release: make(chan struct{})}
	g := newGuard(cp, 2, 0)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.List(context.Background(), "")
		}()
	}
	require.Eventually(t, func() bool { return cp.cur.Load() == 2 }, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), cp.cur.Load())

	close(cp.release)
	wg.Wait()
	assert.Equal(t, int32(2), cp.max.Load())
}

func TestGuard_ReadFileHoldsPermitUntilClose(t *testing.T) {
	p := newMemProvider("notes.txt")
	g := newGuard(p, 1, time.Second)

	rc, err := g.ReadFile(context.Background(), "notes.txt")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	_, err = g.List(ctx, "")
	cancel()
	assert.ErrorIs(t, err, ports.ErrCancelled, "the open reader holds the only permit")

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "content of notes.txt", string(data))
	require.NoError(t, rc.Close())
	require.NoError(t, rc.Close())

	_, err = g.List(context.Background(), "")
	assert.NoError(t, err)
}

func TestGuard_ReadFileErrorReleasesPermit(t *testing.T) {
	g := newGuard(newMemProvider(), 1, time.Second)
	_, err := g.ReadFile(context.Background(), "nope")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	_, err = g.List(context.Background(), "")
	assert.NoError(t, err)
}

// stuckProvider answers List only after release, whatever ctx says, like a
// read on a hung network mount.
type stuckProvider struct {
	*memProvider
	release  chan struct{}
	returned atomic.Bool
}

func (s *stuckProvider) List(ctx context.Context, dir string) ([]ports.FileInfo, error) {
	<-s.release
	s.returned.Store(true)
	return []ports.FileInfo{{Name: "late.txt", Kind: ports.KindFile}}, nil
}

func TestGuard_TimeoutBoundsProviderIgnoringContext(t *testing.T) {
	sp := &stuckProvider{memProvider: newMemProvider(), release: make(chan struct{})}
	g := newGuard(sp, 1, 30*time.Millisecond)

	start := time.Now()
	infos, err := g.List(context.Background(), "")
	assert.ErrorIs(t, err, ports.ErrTimeout)
	assert.Nil(t, infos, "a late answer is dropped")
	assert.Less(t, time.Since(start), time.Second)

	// the stuck call still owns the only permit
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Stat(ctx, "x")
	assert.ErrorIs(t, err, ports.ErrCancelled)

	close(sp.release)
	require.Eventually(t, sp.returned.Load, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		if !g.sem.TryAcquire(1) {
			return false
		}
		g.sem.Release(1)
		return true
	}, time.Second, 5*time.Millisecond, "permit comes back once the call returns")
}
