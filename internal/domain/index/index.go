// Package index holds the in-memory path index of one opened tree.
//
// The Index is the only mutable state. Readers never see it directly: they
// take a Snapshot, an immutable sorted view that is rebuilt lazily the first
// time it is requested after a change. Every mutation that commits one
// directory listing happens under a single write lock, so a Snapshot shows
// either all of a directory's reconciled children or none of them.
package index

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/corey/five/internal/domain/fuzzy"
	"github.com/corey/five/internal/ports"
)

// DefaultIgnore lists names that are never indexed.
var DefaultIgnore = []string{
	".git", ".hg", ".svn", "node_modules", "__pycache__", ".venv",
	".idea", ".vscode", ".DS_Store", ".cache", "target", "vendor",
}

// node is one indexed path. cand is folded once, when the entry is created.
type node struct {
	entry ports.Entry
	cand  fuzzy.Candidate
}

// Index maps root-relative paths to entries. Directories additionally track
// their child names and the generation they were last listed at. The root
// itself is the empty path and has no entry.
type Index struct {
	mu       sync.RWMutex
	nodes    map[string]*node
	children map[string]map[string]struct{}
	listed   map[string]uint64
	ignore   map[string]bool
	files    int
	dirs     int

	version   atomic.Uint64
	snap      atomic.Pointer[Snapshot]
	rebuildMu sync.Mutex
}

// New creates an empty index. Names in ignore are never added, at any depth.
func New(ignore []string) *Index {
	ig := make(map[string]bool, len(ignore))
	for _, n := range ignore {
		if n = strings.TrimSpace(n); n != "" {
			ig[n] = true
		}
	}
	return &Index{
		nodes:    make(map[string]*node),
		children: map[string]map[string]struct{}{"": {}},
		listed:   make(map[string]uint64),
		ignore:   ig,
	}
}

// Ignored reports whether name is excluded from the index.
func (ix *Index) Ignored(name string) bool {
	return ix.ignore[name]
}

// Join builds a child path. The root is "".
func Join(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// Parent returns the directory containing p ("" for top-level paths).
func Parent(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsRune(name, '/')
}

// Reconciled describes what one ReconcileDir call did.
type Reconciled struct {
	Added   int
	Changed int
	Removed int // entries evicted, including the contents of removed subtrees

	// Dirs are all child directories present after the call; NewDirs are the
	// ones that were added or changed kind.
	Dirs    []string
	NewDirs []string

	// Stale is set when dir is no longer in the index; nothing was applied.
	Stale bool

	// Superseded is set when dir was already reconciled at a newer
	// generation; nothing was applied and Dirs holds the child directories
	// currently indexed.
	Superseded bool
}

// ReconcileDir makes dir's children exactly match listing, atomically.
// Absent children are evicted (directories together with their subtree),
// new or changed children get a fresh entry at gen, unchanged ones keep
// theirs. Ignored and malformed names are skipped. A listing older than the
// last one applied to dir is dropped.
func (ix *Index) ReconcileDir(dir string, listing []ports.FileInfo, gen uint64) Reconciled {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var res Reconciled
	if dir != "" {
		n, ok := ix.nodes[dir]
		if !ok || n.entry.Kind != ports.KindDir {
			res.Stale = true
			return res
		}
	}
	if last, ok := ix.listed[dir]; ok && gen < last {
		res.Superseded = true
		for name := range ix.children[dir] {
			p := Join(dir, name)
			if n := ix.nodes[p]; n != nil && n.entry.Kind == ports.KindDir {
				res.Dirs = append(res.Dirs, p)
			}
		}
		sort.Strings(res.Dirs)
		return res
	}

	seen := make(map[string]struct{}, len(listing))
	for _, fi := range listing {
		if !validName(fi.Name) || ix.ignore[fi.Name] {
			continue
		}
		if _, dup := seen[fi.Name]; dup {
			continue
		}
		seen[fi.Name] = struct{}{}

		p := Join(dir, fi.Name)
		e := ports.Entry{Path: p, Kind: fi.Kind, Size: fi.Size, ModTime: fi.ModTime, Generation: gen}
		old, exists := ix.nodes[p]
		switch {
		case !exists:
			ix.insertLocked(e)
			res.Added++
			if e.Kind == ports.KindDir {
				res.NewDirs = append(res.NewDirs, p)
			}
		case old.entry.SameContent(e):
		default:
			if old.entry.Kind == ports.KindDir && e.Kind != ports.KindDir {
				// the directory became a file: its contents are gone
				res.Removed += ix.removeChildrenLocked(p)
			}
			if old.entry.Kind != ports.KindDir && e.Kind == ports.KindDir {
				res.NewDirs = append(res.NewDirs, p)
			}
			ix.replaceLocked(old, e)
			res.Changed++
		}
		if e.Kind == ports.KindDir {
			res.Dirs = append(res.Dirs, p)
		}
	}

	for name := range ix.children[dir] {
		if _, ok := seen[name]; ok {
			continue
		}
		res.Removed += ix.removeLocked(Join(dir, name))
	}

	ix.listed[dir] = gen
	if res.Added+res.Changed+res.Removed > 0 {
		ix.version.Add(1)
	}
	return res
}

// RemoveSubtree evicts p and everything below it. The root ("") clears the
// index. Returns the number of entries removed.
func (ix *Index) RemoveSubtree(p string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var n int
	if p == "" {
		n = len(ix.nodes)
		ix.nodes = make(map[string]*node)
		ix.children = map[string]map[string]struct{}{"": {}}
		ix.listed = make(map[string]uint64)
		ix.files, ix.dirs = 0, 0
	} else {
		n = ix.removeLocked(p)
	}
	if n > 0 {
		ix.version.Add(1)
	}
	return n
}

// Sweep evicts every directory that was not listed at gen or later, with its
// subtree. Call it only after a full walk at gen completed.
func (ix *Index) Sweep(gen uint64) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var stale []string
	for p, n := range ix.nodes {
		if n.entry.Kind == ports.KindDir && ix.listed[p] < gen {
			stale = append(stale, p)
		}
	}
	// parents first; removing a parent takes its children with it
	sort.Strings(stale)

	removed := 0
	for _, p := range stale {
		if _, ok := ix.nodes[p]; ok {
			removed += ix.removeLocked(p)
		}
	}
	if removed > 0 {
		ix.version.Add(1)
	}
	return removed
}

// Load replaces the index contents with persisted entries. Entries whose
// parent is missing, or whose name is ignored, are dropped. Loaded
// directories count as listed at their own generation.
func (ix *Index) Load(entries []ports.Entry) int {
	sorted := make([]ports.Entry, len(entries))
	copy(sorted, entries)
	// a path sorts after its own prefix, so parents come first
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.nodes = make(map[string]*node, len(sorted))
	ix.children = map[string]map[string]struct{}{"": {}}
	ix.listed = make(map[string]uint64)
	ix.files, ix.dirs = 0, 0

	loaded := 0
	for _, e := range sorted {
		parent := Parent(e.Path)
		name := e.Name()
		if !validName(name) || ix.ignore[name] {
			continue
		}
		if _, ok := ix.children[parent]; !ok {
			continue
		}
		if _, dup := ix.nodes[e.Path]; dup {
			continue
		}
		ix.insertLocked(e)
		if e.Kind == ports.KindDir {
			ix.listed[e.Path] = e.Generation
		}
		loaded++
	}
	ix.version.Add(1)
	return loaded
}

// Get returns the entry at p.
func (ix *Index) Get(p string) (ports.Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n, ok := ix.nodes[p]
	if !ok {
		return ports.Entry{}, false
	}
	return n.entry, true
}

// Children returns the sorted child paths of dir, and whether dir is known.
func (ix *Index) Children(dir string) ([]string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	set, ok := ix.children[dir]
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, Join(dir, name))
	}
	sort.Strings(out)
	return out, true
}

// Dirs returns every indexed directory path, sorted.
func (ix *Index) Dirs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, 0, ix.dirs)
	for p, n := range ix.nodes {
		if n.entry.Kind == ports.KindDir {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Entries returns a sorted copy of every entry, directories included.
func (ix *Index) Entries() []ports.Entry {
	ix.mu.RLock()
	out := make([]ports.Entry, 0, len(ix.nodes))
	for _, n := range ix.nodes {
		out = append(out, n.entry)
	}
	ix.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Counts returns the number of indexed files (symlinks included) and directories.
func (ix *Index) Counts() (files, dirs int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.files, ix.dirs
}

// Version increases on every change that is visible in a Snapshot.
func (ix *Index) Version() uint64 {
	return ix.version.Load()
}

func (ix *Index) insertLocked(e ports.Entry) {
	ix.nodes[e.Path] = &node{entry: e, cand: fuzzy.NewCandidate(e.Path)}
	parent := Parent(e.Path)
	ix.children[parent][e.Name()] = struct{}{}
	if e.Kind == ports.KindDir {
		ix.children[e.Path] = make(map[string]struct{})
		ix.dirs++
	} else {
		ix.files++
	}
}

func (ix *Index) replaceLocked(old *node, e ports.Entry) {
	if old.entry.Kind == ports.KindDir {
		ix.dirs--
		if e.Kind != ports.KindDir {
			delete(ix.children, e.Path)
			delete(ix.listed, e.Path)
		}
	} else {
		ix.files--
	}
	if e.Kind == ports.KindDir {
		if _, ok := ix.children[e.Path]; !ok {
			ix.children[e.Path] = make(map[string]struct{})
		}
		ix.dirs++
	} else {
		ix.files++
	}
	ix.nodes[e.Path] = &node{entry: e, cand: old.cand}
}

// removeLocked evicts p and its subtree and unlinks it from its parent.
func (ix *Index) removeLocked(p string) int {
	n, ok := ix.nodes[p]
	if !ok {
		return 0
	}
	removed := 0
	if n.entry.Kind == ports.KindDir {
		removed += ix.removeChildrenLocked(p)
		delete(ix.children, p)
		delete(ix.listed, p)
		ix.dirs--
	} else {
		ix.files--
	}
	delete(ix.nodes, p)
	if set, ok := ix.children[Parent(p)]; ok {
		delete(set, n.entry.Name())
	}
	return removed + 1
}

func (ix *Index) removeChildrenLocked(dir string) int {
	removed := 0
	for name := range ix.children[dir] {
		removed += ix.removeLocked(Join(dir, name))
	}
	return removed
}
