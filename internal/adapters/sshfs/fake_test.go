package sshfs

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// fakeRunner answers commands from a handler and records what it ran.
type fakeRunner struct {
	mu      sync.Mutex
	cmds    []string
	handler func(cmd string) ([]byte, error)
	closed  bool
}

func newFakeRunner(h func(cmd string) ([]byte, error)) *fakeRunner {
	return &fakeRunner{handler: h}
}

func (f *fakeRunner) Run(ctx context.Context, cmd string) ([]byte, error) {
	f.mu.Lock()
	f.cmds = append(f.cmds, cmd)
	h := f.handler
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h(cmd)
}

func (f *fakeRunner) Stream(ctx context.Context, cmd string) (io.ReadCloser, error) {
	out, err := f.Run(ctx, cmd)
	return &failingStream{r: bytes.NewReader(out), err: err}, nil
}

func (f *fakeRunner) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

// failingStream yields r, then err instead of io.EOF, like a session whose
// command exits non-zero.
type failingStream struct {
	r   *bytes.Reader
	err error
}

func (s *failingStream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err == io.EOF && s.err != nil {
		return n, s.err
	}
	return n, err
}

func (s *failingStream) Close() error { return nil }
