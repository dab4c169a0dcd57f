package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/corey/five/internal/ports"
)

// guard applies the permit set and the per-call timeout to every blocking
// provider call. The indexer workers and App.ReadFile share one guard.
type guard struct {
	p       ports.Provider
	sem     *semaphore.Weighted
	timeout time.Duration // 0 = no per-call deadline
}

func newGuard(p ports.Provider, permits int, timeout time.Duration) *guard {
	if permits < 1 {
		permits = 1
	}
	return &guard{p: p, sem: semaphore.NewWeighted(int64(permits)), timeout: timeout}
}

func (g *guard) List(ctx context.Context, dir string) ([]ports.FileInfo, error) {
	return guarded(ctx, g, "list", dir, func(cctx context.Context) ([]ports.FileInfo, error) {
		return g.p.List(cctx, dir)
	})
}

func (g *guard) Stat(ctx context.Context, p string) (ports.FileInfo, error) {
	return guarded(ctx, g, "stat", p, func(cctx context.Context) (ports.FileInfo, error) {
		return g.p.Stat(cctx, p)
	})
}

// ReadFile opens p under the guard. The permit and the deadline stay in
// force until the returned reader is closed, so the whole read is bounded.
func (g *guard) ReadFile(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, &ports.PathError{Op: "read", Path: p, Err: ports.ErrCancelled}
	}
	cctx, cancel := g.callContext(ctx)
	opened := make(chan outcome[io.ReadCloser], 1)
	go func() {
		rc, err := g.p.ReadFile(cctx, p)
		opened <- outcome[io.ReadCloser]{rc, err}
	}()

	var res outcome[io.ReadCloser]
	select {
	case res = <-opened:
	case <-cctx.Done():
		// the open is abandoned; whatever it returns later is closed and
		// only then is the permit given back
		go func() {
			if late := <-opened; late.err == nil {
				late.v.Close()
			}
			cancel()
			g.sem.Release(1)
		}()
		return nil, g.classify(ctx, cctx, "read", p, cctx.Err())
	}
	if res.err != nil {
		err := g.classify(ctx, cctx, "read", p, res.err)
		cancel()
		g.sem.Release(1)
		return nil, err
	}
	return &guardedReader{rc: res.v, g: g, parent: ctx, call: cctx, cancel: cancel, path: p}, nil
}

type outcome[T any] struct {
	v   T
	err error
}

// guarded runs fn under a permit and the per-call deadline. fn runs on its
// own goroutine, so a provider that ignores ctx still fails the caller on
// time; its late result is dropped, and the permit is held until it returns.
func guarded[T any](ctx context.Context, g *guard, op, p string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return zero, &ports.PathError{Op: op, Path: p, Err: ports.ErrCancelled}
	}
	cctx, cancel := g.callContext(ctx)
	done := make(chan outcome[T], 1)
	go func() {
		defer g.sem.Release(1)
		defer cancel()
		v, err := fn(cctx)
		done <- outcome[T]{v, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return zero, g.classify(ctx, cctx, op, p, res.err)
		}
		return res.v, nil
	case <-cctx.Done():
		return zero, g.classify(ctx, cctx, op, p, cctx.Err())
	}
}

func (g *guard) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// classify reports a cancelled caller as ErrCancelled and an expired call
// deadline as ErrTimeout, whatever the provider made of the aborted call.
func (g *guard) classify(parent, call context.Context, op, p string, err error) error {
	switch {
	case err == nil:
		return nil
	case parent.Err() != nil:
		return &ports.PathError{Op: op, Path: p, Err: ports.ErrCancelled}
	case errors.Is(call.Err(), context.DeadlineExceeded):
		return &ports.PathError{Op: op, Path: p, Err: fmt.Errorf("%w after %s", ports.ErrTimeout, g.timeout)}
	}
	return ports.WrapPath(op, p, err)
}

type guardedReader struct {
	rc     io.ReadCloser
	g      *guard
	parent context.Context
	call   context.Context
	cancel context.CancelFunc
	path   string
	closed bool
}

func (r *guardedReader) Read(b []byte) (int, error) {
	n, err := r.rc.Read(b)
	if err != nil && err != io.EOF {
		err = r.g.classify(r.parent, r.call, "read", r.path, err)
	}
	return n, err
}

func (r *guardedReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.rc.Close()
	r.cancel()
	r.g.sem.Release(1)
	return err
}
