package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/corey/five/internal/logging"
	"github.com/corey/five/internal/ports"
)

// run owns change tracking: it consumes the provider's watch stream,
// coalesces events per directory and drives the fallback rescan ticker.
func (in *Indexer) run(ctx context.Context) {
	defer in.wg.Done()

	var tick <-chan time.Time
	if in.cfg.RescanInterval > 0 {
		t := time.NewTicker(in.cfg.RescanInterval)
		defer t.Stop()
		tick = t.C
	}

	events := in.startWatch(ctx)

	pending := make(map[string]struct{})
	var flush <-chan time.Time
	var flushTimer *time.Timer
	defer func() {
		if flushTimer != nil {
			flushTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-in.rescanc:
			in.full()

		case <-tick:
			// with a live watch stream the tree is already tracked; a
			// degraded provider still gets its periodic retry
			if events == nil || in.isDegraded() {
				in.full()
			}
			if events == nil && in.caps.Watch {
				events = in.startWatch(ctx)
			}

		case ev, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					in.log.Warn("watch stream ended, falling back to periodic rescans",
						logging.Duration("interval", in.cfg.RescanInterval))
				}
				events = nil
				continue
			}
			if ev.Full {
				clear(pending)
				in.full()
				continue
			}
			if in.ignoredPath(ev.Dir) {
				continue
			}
			pending[ev.Dir] = struct{}{}
			if in.cfg.WatchDebounce <= 0 {
				in.flushDirs(pending)
				continue
			}
			if flushTimer == nil {
				flushTimer = time.NewTimer(in.cfg.WatchDebounce)
				flush = flushTimer.C
			}

		case <-flush:
			flushTimer, flush = nil, nil
			in.flushDirs(pending)
		}
	}
}

// startWatch opens the provider's change stream, or returns nil when the
// provider cannot watch.
func (in *Indexer) startWatch(ctx context.Context) <-chan ports.ChangeEvent {
	if !in.caps.Watch {
		return nil
	}
	ch, err := in.p.Watch(ctx)
	switch {
	case errors.Is(err, ports.ErrWatchUnsupported):
		in.log.Info("watch unsupported, using periodic rescans")
		return nil
	case err != nil:
		in.log.Warn("watch failed", logging.Err(err))
		return nil
	}
	return ch
}

func (in *Indexer) full() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.stopped {
		return
	}
	in.beginFullLocked()
}

func (in *Indexer) isDegraded() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.paused
}

// flushDirs queues the coalesced directories. A directory whose ancestor is
// also pending is still listed on its own; listing is cheap and reconcile
// is idempotent.
func (in *Indexer) flushDirs(pending map[string]struct{}) {
	if len(pending) == 0 {
		return
	}
	dirs := make([]string, 0, len(pending))
	for d := range pending {
		dirs = append(dirs, d)
	}
	clear(pending)

	in.log.Debug("change events", zap.Int("dirs", len(dirs)))
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.stopped {
		return
	}
	in.beginDirsLocked(dirs)
}

// ignoredPath reports whether any segment of a relative path is ignored.
func (in *Indexer) ignoredPath(p string) bool {
	if p == "" {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if in.ix.Ignored(seg) {
			return true
		}
	}
	return false
}
