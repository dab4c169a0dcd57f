package sshfs

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/corey/five/internal/ports"
)

// maxPollFailures ends the watch stream; the indexer then falls back to
// periodic full rescans.
const maxPollFailures = 3

// Watch implements ports.Provider by polling: every PollInterval it asks the
// host for nodes modified since the previous poll, measured on the remote
// clock so local clock skew does not matter.
func (p *Provider) Watch(ctx context.Context) (<-chan ports.ChangeEvent, error) {
	if p.isClosed() {
		return nil, &ports.PathError{Op: "watch", Path: "", Err: ports.ErrTransport}
	}
	out, err := p.run.Run(ctx, clockCmd())
	if err != nil {
		return nil, classify("watch", "", err)
	}
	since, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return nil, &ports.PathError{Op: "watch", Path: "", Err: err}
	}

	ch := make(chan ports.ChangeEvent, 64)
	limiter := rate.NewLimiter(rate.Every(p.opts.PollInterval), 1)
	// the first token would fire immediately
	limiter.Allow()

	go func() {
		defer close(ch)
		failures := 0
		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			// one second of overlap: mtimes and the clock have second granularity
			out, err := p.run.Run(ctx, changesCmd(p.root, since-1, p.opts.Ignore))
			if ctx.Err() != nil {
				return
			}
			var dirs []string
			var now int64
			var ee *ExitError
			if err == nil || (errors.As(err, &ee) && len(out) > 0) {
				// find exits non-zero when a subtree is unreadable but still
				// reports everything else
				now, dirs, err = parseChanges(out)
			}
			if err != nil {
				err = classify("watch", "", err)
				failures++
				p.log.Warn("poll for changes failed", zap.Int("failures", failures), zap.Error(err))
				if failures >= maxPollFailures || !ports.IsRetryable(err) {
					return
				}
				continue
			}
			// since only advances on success, so the next poll covers any gap
			failures = 0
			since = now

			p.forget(dirs)
			for _, d := range dirs {
				if !send(ctx, ch, ports.ChangeEvent{Dir: d}) {
					return
				}
			}
		}
	}()
	return ch, nil
}

func send(ctx context.Context, ch chan<- ports.ChangeEvent, ev ports.ChangeEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
