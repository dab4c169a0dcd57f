package app

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corey/five/internal/domain/index"
	"github.com/corey/five/internal/domain/status"
	"github.com/corey/five/internal/logging"
	"github.com/corey/five/internal/ports"
	"github.com/corey/five/internal/retry"
)

// DefaultRemoteWorkers bounds concurrent listings on a remote provider.
const DefaultRemoteWorkers = 4

// IndexerConfig tunes an Indexer. Zero values pick defaults.
type IndexerConfig struct {
	Workers        int // 0 = GOMAXPROCS locally, DefaultRemoteWorkers remotely
	CallTimeout    time.Duration
	Retry          retry.Config
	WatchDebounce  time.Duration
	RescanInterval time.Duration // fallback full walk; 0 disables it
	Logger         *zap.Logger

	// OnStatus is called, from a single goroutine, after state changes.
	OnStatus func(status.Status)
}

// item is one directory waiting to be listed. Full items descend into every
// child directory; incremental ones only into directories that just appeared.
type item struct {
	dir  string
	gen  uint64
	full bool
}

// Indexer walks the provider breadth-first with a bounded worker pool and
// keeps the Index reconciled with the tree afterwards.
type Indexer struct {
	cfg  IndexerConfig
	p    ports.Provider
	g    *guard
	ix   *index.Index
	log  *zap.Logger
	caps ports.Capabilities

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []item
	queued   map[string]struct{}
	active   int
	paused   bool // provider-wide failure; frontier kept until the next scan
	stopped  bool
	gen      uint64
	fullGen  uint64 // generation of the running full pass, 0 when none
	state    status.State
	lastErr  error
	degraded map[string]uint64 // unreadable subtree -> generation recorded
	listed   int
	rate     *throughput
	started  time.Time
	finished time.Time
	changed  chan struct{} // closed on every state change

	notify  chan struct{}
	rescanc chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewIndexer creates an indexer over p writing into ix. g may be nil, in
// which case a guard is built from cfg.
func NewIndexer(p ports.Provider, ix *index.Index, cfg IndexerConfig) *Indexer {
	return newIndexer(p, nil, ix, cfg)
}

func newIndexer(p ports.Provider, g *guard, ix *index.Index, cfg IndexerConfig) *Indexer {
	caps := p.Capabilities()
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
		if caps.Remote {
			cfg.Workers = DefaultRemoteWorkers
		}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Named("indexer")
	}
	if g == nil {
		g = newGuard(p, cfg.Workers, cfg.CallTimeout)
	}
	in := &Indexer{
		cfg:      cfg,
		p:        p,
		g:        g,
		ix:       ix,
		log:      cfg.Logger,
		caps:     caps,
		queued:   make(map[string]struct{}),
		degraded: make(map[string]uint64),
		rate:     newThroughput(throughputWindow),
		changed:  make(chan struct{}),
		notify:   make(chan struct{}, 1),
		rescanc:  make(chan struct{}, 1),
	}
	in.cond = sync.NewCond(&in.mu)
	if in.cfg.Retry.OnRetry == nil {
		in.cfg.Retry.OnRetry = func(attempt int, err error, wait time.Duration) {
			in.log.Debug("retrying", zap.Int("attempt", attempt), logging.Err(err), logging.Duration("wait", wait))
		}
	}
	return in
}

// SeedGeneration makes every later pass use a generation above gen. Call
// it after loading a persisted snapshot, before Start.
func (in *Indexer) SeedGeneration(gen uint64) {
	in.mu.Lock()
	if gen > in.gen {
		in.gen = gen
	}
	in.mu.Unlock()
}

// Start begins the first full walk and the change-tracking loop. The state
// is Scanning when Start returns.
func (in *Indexer) Start(ctx context.Context) {
	ctx, in.cancel = context.WithCancel(ctx)

	in.mu.Lock()
	in.beginFullLocked()
	in.mu.Unlock()

	for i := 0; i < in.cfg.Workers; i++ {
		in.wg.Add(1)
		go in.worker(ctx)
	}
	in.wg.Add(2)
	go in.notifier(ctx)
	go in.run(ctx)

	in.log.Info("indexer started", zap.Int("workers", in.cfg.Workers), zap.Bool("remote", in.caps.Remote))
}

// Stop cancels the walk and waits for every goroutine to exit.
func (in *Indexer) Stop() {
	in.mu.Lock()
	if in.stopped {
		in.mu.Unlock()
		return
	}
	in.stopped = true
	in.cond.Broadcast()
	in.mu.Unlock()
	if in.cancel != nil {
		in.cancel()
	}
	in.wg.Wait()
}

// Rescan asks for a full walk. A Degraded indexer resumes from its frontier.
func (in *Indexer) Rescan() {
	select {
	case in.rescanc <- struct{}{}:
	default:
	}
}

// Status returns the current report.
func (in *Indexer) Status() status.Status {
	files, dirs := in.ix.Counts()

	in.mu.Lock()
	defer in.mu.Unlock()
	st := status.Status{
		State:      in.state,
		Files:      files,
		Dirs:       dirs,
		Listed:     in.listed,
		Rate:       in.rate.perSecondAt(time.Now()),
		Pending:    len(in.queue) + in.active,
		Generation: in.gen,
		StartedAt:  in.started,
		FinishedAt: in.finished,
	}
	if in.lastErr != nil && in.state == status.Degraded {
		st.Err = in.lastErr.Error()
	}
	if len(in.degraded) > 0 {
		st.DegradedPaths = make([]string, 0, len(in.degraded))
		for p := range in.degraded {
			st.DegradedPaths = append(st.DegradedPaths, p)
		}
		sort.Strings(st.DegradedPaths)
	}
	return st
}

// WaitIdle blocks until the indexer is no longer Scanning. It returns the
// status at that point, or ctx.Err().
func (in *Indexer) WaitIdle(ctx context.Context) (status.Status, error) {
	for {
		in.mu.Lock()
		st, ch := in.state, in.changed
		in.mu.Unlock()
		if st != status.Scanning {
			return in.Status(), nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return in.Status(), ctx.Err()
		}
	}
}

// Generation is the latest generation handed out.
func (in *Indexer) Generation() uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.gen
}

// Completed reports whether the tree was fully walked and nothing is pending.
func (in *Indexer) Completed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state == status.Idle && !in.finished.IsZero()
}

func (in *Indexer) worker(ctx context.Context) {
	defer in.wg.Done()
	for {
		it, ok := in.next()
		if !ok {
			return
		}
		in.process(ctx, it)
		in.done()
	}
}

func (in *Indexer) next() (item, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for !in.stopped && (in.paused || len(in.queue) == 0) {
		in.cond.Wait()
	}
	if in.stopped {
		return item{}, false
	}
	it := in.queue[0]
	in.queue[0] = item{}
	in.queue = in.queue[1:]
	delete(in.queued, it.dir)
	in.active++
	return it, true
}

func (in *Indexer) done() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.active--
	if in.active == 0 && len(in.queue) == 0 && !in.paused && !in.stopped {
		in.finishLocked()
	}
}

func (in *Indexer) process(ctx context.Context, it item) {
	infos, err := retry.DoWithResult(ctx, in.cfg.Retry, func() ([]ports.FileInfo, error) {
		return in.g.List(ctx, it.dir)
	})
	if err != nil {
		in.fail(ctx, it, err)
		return
	}

	res := in.ix.ReconcileDir(it.dir, infos, it.gen)
	if res.Stale {
		return
	}
	if res.Superseded {
		// a newer listing of dir is already applied; a full pass still
		// descends through the children it left
		in.log.Debug("older listing dropped", logging.Path(it.dir), zap.Uint64("gen", it.gen))
	}
	if res.Added+res.Changed+res.Removed > 0 {
		in.log.Debug("reconciled", logging.Path(it.dir),
			zap.Int("added", res.Added), zap.Int("changed", res.Changed), zap.Int("removed", res.Removed))
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	in.listed++
	in.rate.recordAt(time.Now(), len(infos))
	delete(in.degraded, it.dir)
	dirs := res.NewDirs
	if it.full {
		dirs = res.Dirs
	}
	for _, d := range dirs {
		in.enqueueLocked(item{dir: d, gen: it.gen, full: it.full}, false)
	}
}

// fail contains a listing failure. Subdirectory failures evict the subtree
// and the walk goes on; root and transport failures are provider-wide.
func (in *Indexer) fail(ctx context.Context, it item, err error) {
	if ctx.Err() != nil || ports.IsCancelled(err) {
		return
	}
	log := in.log.With(logging.Path(it.dir), logging.Err(err))

	if it.dir != "" && !retry.IsRetryable(err) {
		n := in.ix.RemoveSubtree(it.dir)
		if errors.Is(err, ports.ErrNotFound) {
			// vanished between the parent listing and ours
			log.Debug("directory gone", zap.Int("evicted", n))
			return
		}
		log.Warn("directory unreadable", zap.Int("evicted", n))
		in.mu.Lock()
		in.degraded[it.dir] = it.gen
		in.mu.Unlock()
		return
	}

	if it.dir == "" && errors.Is(err, ports.ErrNotFound) {
		n := in.ix.RemoveSubtree("")
		log.Warn("root is gone, index cleared", zap.Int("evicted", n))
	} else {
		log.Error("provider degraded")
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	in.paused = true
	in.enqueueLocked(it, true)
	in.setStateLocked(status.Degraded, err)
}

// enqueueLocked adds a directory unless it is already waiting. front puts
// it at the head of the queue, for frontiers kept across a failure.
func (in *Indexer) enqueueLocked(it item, front bool) {
	if _, ok := in.queued[it.dir]; ok {
		for i := range in.queue {
			if in.queue[i].dir == it.dir {
				if it.gen > in.queue[i].gen {
					in.queue[i].gen = it.gen
				}
				in.queue[i].full = in.queue[i].full || it.full
				break
			}
		}
		return
	}
	in.queued[it.dir] = struct{}{}
	if front {
		in.queue = append([]item{it}, in.queue...)
	} else {
		in.queue = append(in.queue, it)
	}
	in.cond.Signal()
}

// beginFullLocked starts a full pass at a new generation, resuming a
// paused frontier.
func (in *Indexer) beginFullLocked() {
	in.gen++
	in.fullGen = in.gen
	in.listed = 0
	in.rate.reset()
	in.started = time.Now()
	in.finished = time.Time{}
	in.paused = false
	in.enqueueLocked(item{dir: "", gen: in.gen, full: true}, true)
	in.setStateLocked(status.Scanning, nil)
	in.cond.Broadcast()
}

// beginDirsLocked re-lists dirs after change events at a new generation.
func (in *Indexer) beginDirsLocked(dirs []string) {
	if len(dirs) == 0 {
		return
	}
	in.gen++
	in.paused = false
	for _, d := range dirs {
		in.enqueueLocked(item{dir: d, gen: in.gen}, false)
	}
	in.setStateLocked(status.Scanning, nil)
	in.cond.Broadcast()
}

func (in *Indexer) finishLocked() {
	if in.fullGen != 0 {
		if n := in.ix.Sweep(in.fullGen); n > 0 {
			in.log.Debug("swept unobserved directories", zap.Int("evicted", n))
		}
		for p, g := range in.degraded {
			if g < in.fullGen {
				delete(in.degraded, p)
			}
		}
		in.fullGen = 0
		in.finished = time.Now()
		files, dirs := in.ix.Counts()
		in.log.Info("scan complete",
			zap.Int("files", files), zap.Int("dirs", dirs),
			zap.Int("unreadable", len(in.degraded)),
			logging.Duration("elapsed", in.finished.Sub(in.started)))
	}
	in.setStateLocked(status.Idle, nil)
}

func (in *Indexer) setStateLocked(s status.State, err error) {
	if in.state == s && err == nil {
		return
	}
	in.state = s
	in.lastErr = err
	close(in.changed)
	in.changed = make(chan struct{})
	select {
	case in.notify <- struct{}{}:
	default:
	}
}

func (in *Indexer) notifier(ctx context.Context) {
	defer in.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-in.notify:
			if in.cfg.OnStatus != nil {
				in.cfg.OnStatus(in.Status())
			}
		}
	}
}
