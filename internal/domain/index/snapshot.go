package index

import (
	"sort"

	"github.com/corey/five/internal/domain/fuzzy"
	"github.com/corey/five/internal/ports"
)

// Snapshot is an immutable view of the openable entries (files and
// symlinks) of an Index, ordered by path. It is safe to share between
// goroutines and stays valid while the index keeps changing.
type Snapshot struct {
	version uint64
	entries []ports.Entry
	cands   []fuzzy.Candidate
	dirs    int
}

// Len returns the number of openable entries.
func (s *Snapshot) Len() int { return len(s.entries) }

// Entry returns the i-th entry in path order.
func (s *Snapshot) Entry(i int) ports.Entry { return s.entries[i] }

// Candidates returns the pre-folded match keys, parallel to the entries.
// The slice must not be modified.
func (s *Snapshot) Candidates() []fuzzy.Candidate { return s.cands }

// Version is the index version the snapshot was built from.
func (s *Snapshot) Version() uint64 { return s.version }

// Dirs returns the number of directories indexed when the snapshot was built.
func (s *Snapshot) Dirs() int { return s.dirs }

// Snapshot returns the current view. When nothing changed since the last
// call it is a single atomic load.
func (ix *Index) Snapshot() *Snapshot {
	if s := ix.snap.Load(); s != nil && s.version == ix.version.Load() {
		return s
	}

	ix.rebuildMu.Lock()
	defer ix.rebuildMu.Unlock()
	if s := ix.snap.Load(); s != nil && s.version == ix.version.Load() {
		return s
	}

	ix.mu.RLock()
	s := &Snapshot{
		version: ix.version.Load(),
		entries: make([]ports.Entry, 0, ix.files),
		dirs:    ix.dirs,
	}
	nodes := make([]*node, 0, ix.files)
	for _, n := range ix.nodes {
		if n.entry.Kind != ports.KindDir {
			nodes = append(nodes, n)
		}
	}
	ix.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].entry.Path < nodes[j].entry.Path })
	s.cands = make([]fuzzy.Candidate, len(nodes))
	for i, n := range nodes {
		s.entries = append(s.entries, n.entry)
		s.cands[i] = n.cand
	}
	ix.snap.Store(s)
	return s
}
