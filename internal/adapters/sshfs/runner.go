package sshfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Runner executes shell commands on the remote host. One call is one SSH
// session; calls may run concurrently.
type Runner interface {
	// Run executes cmd and returns its stdout. A non-zero exit yields an
	// *ExitError carrying stderr.
	Run(ctx context.Context, cmd string) ([]byte, error)

	// Stream starts cmd and returns its stdout. A non-zero exit surfaces as
	// an *ExitError from Read once the output is drained. Closing the reader
	// ends the session.
	Stream(ctx context.Context, cmd string) (io.ReadCloser, error)

	// Close tears down the connection.
	Close() error
}

// ExitError is a remote command that ran and failed.
type ExitError struct {
	Status int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("remote command exited with status %d", e.Status)
	}
	return fmt.Sprintf("remote command exited with status %d: %s", e.Status, msg)
}

// ClientRunner runs commands over an established *ssh.Client.
type ClientRunner struct {
	client *ssh.Client
	once   sync.Once
	err    error
}

// NewClientRunner takes ownership of client.
func NewClientRunner(client *ssh.Client) *ClientRunner {
	return &ClientRunner{client: client}
}

// Run implements Runner.
func (r *ClientRunner) Run(ctx context.Context, cmd string) ([]byte, error) {
	sess, err := r.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return stdout.Bytes(), exitError(err, &stderr)
		}
		return stdout.Bytes(), nil
	}
}

// Stream implements Runner.
func (r *ClientRunner) Stream(ctx context.Context, cmd string) (io.ReadCloser, error) {
	sess, err := r.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	out, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	s := &sessionStream{sess: sess, out: out}
	sess.Stderr = &s.stderr
	if err := sess.Start(cmd); err != nil {
		sess.Close()
		return nil, fmt.Errorf("start %q: %w", cmd, err)
	}
	s.stop = context.AfterFunc(ctx, func() { sess.Close() })
	return s, nil
}

// Close implements Runner.
func (r *ClientRunner) Close() error {
	r.once.Do(func() { r.err = r.client.Close() })
	return r.err
}

type sessionStream struct {
	sess   *ssh.Session
	out    io.Reader
	stderr bytes.Buffer
	stop   func() bool
	waited bool
}

func (s *sessionStream) Read(p []byte) (int, error) {
	n, err := s.out.Read(p)
	if err == io.EOF && !s.waited {
		s.waited = true
		if werr := s.sess.Wait(); werr != nil {
			return n, exitError(werr, &s.stderr)
		}
	}
	return n, err
}

func (s *sessionStream) Close() error {
	s.stop()
	err := s.sess.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// exitError converts a finished session's error. Anything that is not a
// clean remote exit status is left as is and later classified as transport.
func exitError(err error, stderr *bytes.Buffer) error {
	var ee *ssh.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Status: ee.ExitStatus(), Stderr: stderr.String()}
	}
	return err
}
