package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/corey/five/internal/domain/fuzzy"
	"github.com/corey/five/internal/domain/index"
	"github.com/corey/five/internal/domain/status"
	"github.com/corey/five/internal/logging"
	"github.com/corey/five/internal/ports"
)

// DefaultMaxResults caps a result set when nothing is configured.
const DefaultMaxResults = 50

// Result is one ranked entry. Positions are matched rune offsets in the
// path, for highlighting.
type Result struct {
	Entry     ports.Entry
	Score     int
	Positions []int
}

// Results is a ranked result set for one query.
type Results struct {
	Seq     uint64
	Query   string
	Items   []Result
	Matched int // matches before truncation to K

	// Status is the scan state at scoring time. An empty set while
	// Scanning or Degraded means "not known yet", not "no matches".
	Status status.Status
}

// source is what a session reads: a snapshot pointer and the scan status.
type source interface {
	Snapshot() *index.Snapshot
	Status() status.Status
}

// rank scores text against one snapshot. Only ctx errors are returned.
func rank(ctx context.Context, snap *index.Snapshot, text string, k int) ([]Result, int, error) {
	q := fuzzy.NewQuery(text)
	cands := snap.Candidates()
	ranked, matched, err := fuzzy.Select(ctx, q, cands, k)
	if err != nil {
		return nil, matched, err
	}
	items := make([]Result, len(ranked))
	for i, r := range ranked {
		items[i] = Result{
			Entry:     snap.Entry(r.Index),
			Score:     r.Score,
			Positions: fuzzy.Positions(q, cands[r.Index]),
		}
	}
	return items, matched, nil
}

// Phase is where a session's latest query is.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePending
	PhaseCancelled
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePending:
		return "pending"
	case PhaseCancelled:
		return "cancelled"
	case PhaseCompleted:
		return "completed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// QueryState is a session's state: a phase and the sequence it refers to.
type QueryState struct {
	Phase Phase
	Seq   uint64
}

// SessionConfig tunes a quick-open session.
type SessionConfig struct {
	MaxResults int           // K; 0 = DefaultMaxResults
	Debounce   time.Duration // 0 = score every keystroke immediately
	Logger     *zap.Logger
}

// Session is one quick-open interaction. Every query change supersedes
// the previous one; results reach the UI in sequence order only.
type Session struct {
	id  string
	src source
	cfg SessionConfig
	log *zap.Logger

	mu     sync.Mutex
	seq    uint64
	state  QueryState
	cancel context.CancelFunc
	timer  *time.Timer
	out    chan Results
	closed bool
}

func newSession(src source, cfg SessionConfig) *Session {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Named("quickopen")
	}
	id := uuid.NewString()
	return &Session{
		id:  id,
		src: src,
		cfg: cfg,
		log: cfg.Logger.With(zap.String("session", id)),
		out: make(chan Results, 1),
	}
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Results delivers result sets. It holds at most one undelivered set, the
// newest, and is closed by Close.
func (s *Session) Results() <-chan Results { return s.out }

// State returns the phase of the latest query.
func (s *Session) State() QueryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnQueryChanged supersedes any pending query with text and returns its
// sequence number. A blank query yields an empty set right away; any other
// text is matched as typed, spaces included.
func (s *Session) OnQueryChanged(text string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.seq
	}
	s.stopLocked()
	s.seq++
	seq := s.seq

	if strings.TrimSpace(text) == "" {
		s.state = QueryState{Phase: PhaseCompleted, Seq: seq}
		s.deliverLocked(Results{Seq: seq, Query: text, Status: s.src.Status()})
		return seq
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = QueryState{Phase: PhasePending, Seq: seq}

	score := func() { s.score(ctx, seq, text) }
	if s.cfg.Debounce <= 0 {
		go score()
	} else {
		s.timer = time.AfterFunc(s.cfg.Debounce, score)
	}
	return seq
}

// Cancel abandons the pending query, if any.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Close cancels pending work and closes the results channel.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopLocked()
	s.closed = true
	close(s.out)
}

// stopLocked cancels the debounce timer and in-flight scoring.
func (s *Session) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.state.Phase == PhasePending {
		s.state.Phase = PhaseCancelled
	}
}

func (s *Session) score(ctx context.Context, seq uint64, q string) {
	start := time.Now()
	snap := s.src.Snapshot()
	items, matched, err := rank(ctx, snap, q, s.cfg.MaxResults)
	if err != nil {
		return // superseded
	}
	res := Results{Seq: seq, Query: q, Items: items, Matched: matched, Status: s.src.Status()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || seq != s.seq {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.timer = nil
	s.state = QueryState{Phase: PhaseCompleted, Seq: seq}
	s.deliverLocked(res)
	s.log.Debug("query scored",
		zap.Uint64("seq", seq), zap.Int("candidates", snap.Len()),
		zap.Int("matched", matched), logging.Duration("elapsed", time.Since(start)))
}

// deliverLocked replaces any undelivered set with res. The send cannot
// block: only deliverLocked writes, and it drains the slot first.
func (s *Session) deliverLocked(res Results) {
	select {
	case <-s.out:
	default:
	}
	s.out <- res
}
