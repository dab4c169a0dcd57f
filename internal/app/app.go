// Package app wires together all adapters and domain logic.
// It provides lifecycle management for one opened tree: create, start, stop.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corey/five/internal/adapters/bbolt"
	"github.com/corey/five/internal/adapters/local"
	"github.com/corey/five/internal/adapters/sshfs"
	"github.com/corey/five/internal/config"
	"github.com/corey/five/internal/domain/index"
	"github.com/corey/five/internal/domain/status"
	"github.com/corey/five/internal/domain/target"
	"github.com/corey/five/internal/logging"
	"github.com/corey/five/internal/ports"
	"github.com/corey/five/internal/retry"
)

// App is the top-level container wiring all components together.
type App struct {
	Target   target.Target
	Provider ports.Provider
	Store    ports.SnapshotStore // nil when persistence is off or unavailable
	Index    *index.Index
	Indexer  *Indexer

	settings *config.Config
	paths    *Paths
	guard    *guard
	log      *zap.Logger

	onStatus func(status.Status)

	mu       sync.Mutex
	started  bool
	stopped  bool
	warmFrom time.Time // SavedAt of the snapshot loaded at start
}

// Config holds initialization parameters for the App.
type Config struct {
	Target   target.Target
	Settings *config.Config // nil = config.Default()
	Paths    *Paths         // nil = no status file; DB falls back to Settings

	// Provider and Store override what New would open for Target.
	Provider ports.Provider
	Store    ports.SnapshotStore

	// OnStatus observes indexer state changes.
	OnStatus func(status.Status)
	Logger   *zap.Logger
}

// New creates an App with all dependencies wired. Does not start services.
// A remote target is dialed here.
func New(cfg Config) (*App, error) {
	if cfg.Settings == nil {
		cfg.Settings = config.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.L()
	}
	set := cfg.Settings

	t, err := cfg.Target.Resolve()
	if err != nil {
		return nil, err
	}

	a := &App{
		Target:   t,
		settings: set,
		paths:    cfg.Paths,
		log:      cfg.Logger.With(zap.String("target", t.String())),
		onStatus: cfg.OnStatus,
	}

	a.Provider = cfg.Provider
	if a.Provider == nil {
		a.Provider, err = OpenProvider(t, set, cfg.Logger)
		if err != nil {
			return nil, err
		}
	}

	a.Store = cfg.Store
	if a.Store == nil && set.Index.Persist {
		a.Store = a.openStore()
	}

	caps := a.Provider.Capabilities()
	workers := set.Index.LocalWorkers
	if caps.Remote {
		workers = set.Index.RemoteWorkers
	}

	a.Index = index.New(set.Index.Ignore)
	icfg := IndexerConfig{
		Workers:        workers,
		CallTimeout:    set.Index.CallTimeout,
		WatchDebounce:  set.Index.WatchDebounce,
		RescanInterval: set.Index.RescanInterval,
		Retry: retry.Config{
			MaxAttempts: set.Index.RetryAttempts,
			InitialWait: set.Index.RetryInitialWait,
			MaxWait:     set.Index.RetryMaxWait,
			Multiplier:  2.0,
			Jitter:      0.1,
		},
		Logger:   a.log.Named("indexer"),
		OnStatus: a.statusChanged,
	}
	a.Indexer = newIndexer(a.Provider, nil, a.Index, icfg)
	a.guard = a.Indexer.g
	return a, nil
}

// OpenProvider opens the provider for t. Remote targets are dialed and
// authenticated with the settings' SSH options.
func OpenProvider(t target.Target, set *config.Config, log *zap.Logger) (ports.Provider, error) {
	if log == nil {
		log = logging.L()
	}
	if t.Kind == target.Local {
		p, err := local.New(t.Root, local.Options{
			Ignore: set.Index.Ignore,
			Logger: log.Named("local"),
		})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", t.Root, err)
		}
		return p, nil
	}

	if t.Port == target.DefaultSSHPort && set.Remote.Port > 0 {
		t.Port = set.Remote.Port
	}
	ctx, cancel := context.WithTimeout(context.Background(), set.Remote.DialTimeout)
	defer cancel()
	client, err := sshfs.Dial(ctx, t, sshfs.DialConfig{
		User:                  set.Remote.User,
		IdentityFiles:         set.Remote.IdentityFiles,
		UseAgent:              set.Remote.UseAgent,
		KnownHosts:            set.Remote.KnownHosts,
		InsecureIgnoreHostKey: set.Remote.InsecureIgnoreHostKey,
		Timeout:               set.Remote.DialTimeout,
		Logger:                log.Named("ssh"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", t.Address(), err)
	}
	return sshfs.New(sshfs.NewClientRunner(client), sshfs.Options{
		Root:         t.Root,
		StatTTL:      set.Remote.StatCacheTTL,
		PollInterval: set.Remote.PollInterval,
		Ignore:       set.Index.Ignore,
		Logger:       log.Named("sshfs"),
	}), nil
}

// openStore opens the snapshot database. Failure is not fatal: another
// five process may hold the lock, and the app still works without it.
func (a *App) openStore() ports.SnapshotStore {
	dbPath := a.settings.Index.DBPath
	if dbPath == "" && a.paths != nil {
		dbPath = a.paths.DB
	}
	if dbPath == "" {
		return nil
	}
	store, err := bbolt.NewStore(dbPath)
	if err != nil {
		a.log.Warn("snapshot store unavailable, starting cold", logging.Err(err))
		return nil
	}
	return store
}

// Start loads the persisted snapshot, if any, and starts the background
// indexer. Queries are answered from the loaded snapshot right away.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("app already started")
	}
	a.started = true

	if a.Store != nil {
		snap, err := a.Store.LoadSnapshot(a.Target.ID())
		switch {
		case err != nil:
			a.log.Warn("load snapshot", logging.Err(err))
		case snap != nil:
			n := a.Index.Load(snap.Entries)
			a.Indexer.SeedGeneration(snap.Generation)
			a.warmFrom = snap.SavedAt
			a.log.Info("warm start", zap.Int("entries", n), zap.Time("saved_at", snap.SavedAt))
		}
	}

	a.Indexer.Start(ctx)
	return nil
}

// Stop stops the indexer, persists the index when the last scan completed,
// and releases the provider and the store.
func (a *App) Stop() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	a.Indexer.Stop()

	var errs []error
	if a.Store != nil && a.Indexer.Completed() {
		if err := a.saveSnapshot(); err != nil {
			errs = append(errs, fmt.Errorf("save snapshot: %w", err))
		}
	}
	a.writeStatus(a.Indexer.Status())

	if err := a.Provider.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close provider: %w", err))
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) saveSnapshot() error {
	entries := a.Index.Entries()
	err := a.Store.SaveSnapshot(a.Target.ID(), &ports.StoredSnapshot{
		SavedAt:    time.Now(),
		Generation: a.Indexer.Generation(),
		Entries:    entries,
	})
	if err == nil {
		a.log.Debug("snapshot saved", zap.Int("entries", len(entries)))
	}
	return err
}

// Status reports the indexer state.
func (a *App) Status() status.Status { return a.Indexer.Status() }

// WaitIdle blocks until the indexer leaves Scanning.
func (a *App) WaitIdle(ctx context.Context) (status.Status, error) {
	return a.Indexer.WaitIdle(ctx)
}

// Rescan triggers a full walk.
func (a *App) Rescan() { a.Indexer.Rescan() }

// Snapshot returns the current immutable view of the index.
func (a *App) Snapshot() *index.Snapshot { return a.Index.Snapshot() }

// WarmFrom is when the snapshot loaded at start was saved; zero when the
// app started cold.
func (a *App) WarmFrom() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.warmFrom
}

// ReadFile opens a file for preview or editing. It shares the permit set
// and per-call timeout with the indexer. The caller closes the reader.
func (a *App) ReadFile(ctx context.Context, p string) (io.ReadCloser, error) {
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	return a.guard.ReadFile(ctx, clean)
}

// Search runs one ranked query against the current snapshot, matching text
// as given. A blank query returns an empty set.
func (a *App) Search(ctx context.Context, text string) (Results, error) {
	res := Results{Query: text, Status: a.Status()}
	if strings.TrimSpace(text) == "" {
		return res, nil
	}
	k := a.settings.QuickOpen.MaxResults
	if k <= 0 {
		k = DefaultMaxResults
	}
	items, matched, err := rank(ctx, a.Snapshot(), text, k)
	if err != nil {
		return res, err
	}
	res.Items, res.Matched = items, matched
	return res, nil
}

// OpenQuickOpen starts a quick-open session over this app's index.
func (a *App) OpenQuickOpen() *Session {
	return newSession(a, SessionConfig{
		MaxResults: a.settings.QuickOpen.MaxResults,
		Debounce:   a.settings.QuickOpen.Debounce,
		Logger:     a.log.Named("quickopen"),
	})
}

func (a *App) statusChanged(st status.Status) {
	a.writeStatus(st)
	if a.onStatus != nil {
		a.onStatus(st)
	}
}

func (a *App) writeStatus(st status.Status) {
	if a.paths == nil {
		return
	}
	if err := status.WriteJSON(a.paths.Status, st); err != nil {
		a.log.Debug("write status", logging.Err(err))
	}
}

// Wipe deletes the persisted snapshot of a target.
func Wipe(store ports.SnapshotStore, t target.Target) error {
	t, err := t.Resolve()
	if err != nil {
		return err
	}
	return store.DeleteSnapshot(t.ID())
}
