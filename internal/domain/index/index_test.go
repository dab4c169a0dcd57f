package index

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/corey/five/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func file(name string, size int64) ports.FileInfo {
	return ports.FileInfo{Name: name, Kind: ports.KindFile, Size: size, ModTime: t0}
}

func dir(name string) ports.FileInfo {
	return ports.FileInfo{Name: name, Kind: ports.KindDir, ModTime: t0}
}

func snapshotPaths(s *Snapshot) []string {
	out := make([]string, s.Len())
	for i := range out {
		out[i] = s.Entry(i).Path
	}
	return out
}

// buildTree indexes:
//
//	README.md
//	src/main.go
//	src/util/helpers.go
func buildTree(t *testing.T) *Index {
	t.Helper()
	ix := New(DefaultIgnore)
	res := ix.ReconcileDir("", []ports.FileInfo{file("README.md", 10), dir("src")}, 1)
	require.Equal(t, []string{"src"}, res.NewDirs)
	ix.ReconcileDir("src", []ports.FileInfo{file("main.go", 20), dir("util")}, 1)
	ix.ReconcileDir("src/util", []ports.FileInfo{file("helpers.go", 30)}, 1)
	return ix
}

// =============================================================================
// Reconcile
// =============================================================================

func TestReconcileDir_Builds(t *testing.T) {
	ix := buildTree(t)

	files, dirs := ix.Counts()
	assert.Equal(t, 3, files)
	assert.Equal(t, 2, dirs)
	assert.Equal(t, []string{"README.md", "src/main.go", "src/util/helpers.go"}, snapshotPaths(ix.Snapshot()))

	e, ok := ix.Get("src/util/helpers.go")
	require.True(t, ok)
	assert.Equal(t, int64(30), e.Size)
	assert.Equal(t, uint64(1), e.Generation)

	kids, ok := ix.Children("src")
	require.True(t, ok)
	assert.Equal(t, []string{"src/main.go", "src/util"}, kids)
}

func TestReconcileDir_IgnoredNamesNeverEnter(t *testing.T) {
	ix := New([]string{".git", "node_modules"})
	res := ix.ReconcileDir("", []ports.FileInfo{dir(".git"), dir("node_modules"), file("a.go", 1), file("", 1), file("x/y", 1)}, 1)

	assert.Equal(t, 1, res.Added)
	assert.Empty(t, res.Dirs)
	_, ok := ix.Get(".git")
	assert.False(t, ok)
	assert.True(t, ix.Ignored("node_modules"))
	assert.Equal(t, []string{"a.go"}, snapshotPaths(ix.Snapshot()))
}

func TestReconcileDir_UnchangedKeepsGeneration(t *testing.T) {
	ix := buildTree(t)
	v := ix.Version()

	res := ix.ReconcileDir("src", []ports.FileInfo{file("main.go", 20), dir("util")}, 2)
	assert.Zero(t, res.Added+res.Changed+res.Removed)
	assert.Equal(t, []string{"src/util"}, res.Dirs)
	assert.Empty(t, res.NewDirs)
	assert.Equal(t, v, ix.Version(), "no visible change, no new version")

	e, _ := ix.Get("src/main.go")
	assert.Equal(t, uint64(1), e.Generation)
}

func TestReconcileDir_ChangedGetsNewGeneration(t *testing.T) {
	ix := buildTree(t)

	res := ix.ReconcileDir("src", []ports.FileInfo{file("main.go", 21), dir("util")}, 2)
	assert.Equal(t, 1, res.Changed)
	e, _ := ix.Get("src/main.go")
	assert.Equal(t, uint64(2), e.Generation)
	assert.Equal(t, int64(21), e.Size)
}

func TestReconcileDir_EvictsRemovedSubtree(t *testing.T) {
	ix := buildTree(t)

	res := ix.ReconcileDir("", []ports.FileInfo{file("README.md", 10)}, 2)
	assert.Equal(t, 4, res.Removed, "src, src/main.go, src/util, src/util/helpers.go")

	for _, p := range []string{"src", "src/main.go", "src/util", "src/util/helpers.go"} {
		_, ok := ix.Get(p)
		assert.False(t, ok, p)
	}
	_, ok := ix.Children("src/util")
	assert.False(t, ok)
	assert.Equal(t, []string{"README.md"}, snapshotPaths(ix.Snapshot()))

	files, dirs := ix.Counts()
	assert.Equal(t, 1, files)
	assert.Equal(t, 0, dirs)
}

func TestReconcileDir_DirBecomesFile(t *testing.T) {
	ix := buildTree(t)

	res := ix.ReconcileDir("src", []ports.FileInfo{file("main.go", 20), file("util", 5)}, 2)
	assert.Equal(t, 1, res.Changed)
	assert.Equal(t, 1, res.Removed)

	e, ok := ix.Get("src/util")
	require.True(t, ok)
	assert.Equal(t, ports.KindFile, e.Kind)
	_, ok = ix.Get("src/util/helpers.go")
	assert.False(t, ok)
	assert.Contains(t, snapshotPaths(ix.Snapshot()), "src/util")
}

func TestReconcileDir_FileBecomesDir(t *testing.T) {
	ix := buildTree(t)

	res := ix.ReconcileDir("", []ports.FileInfo{dir("README.md"), dir("src")}, 2)
	assert.Equal(t, []string{"README.md"}, res.NewDirs)
	ix.ReconcileDir("README.md", []ports.FileInfo{file("inner.txt", 1)}, 2)

	assert.Contains(t, snapshotPaths(ix.Snapshot()), "README.md/inner.txt")
	assert.NotContains(t, snapshotPaths(ix.Snapshot()), "README.md")
}

func TestReconcileDir_StaleDirectory(t *testing.T) {
	ix := buildTree(t)
	ix.ReconcileDir("", []ports.FileInfo{file("README.md", 10)}, 2)

	// a worker that listed src/util before the eviction must not resurrect it
	res := ix.ReconcileDir("src/util", []ports.FileInfo{file("helpers.go", 30)}, 2)
	assert.True(t, res.Stale)
	_, ok := ix.Get("src/util/helpers.go")
	assert.False(t, ok)
}

func TestReconcileDir_OlderListingIsDropped(t *testing.T) {
	ix := New(nil)
	ix.ReconcileDir("", []ports.FileInfo{file("a.go", 1), dir("pkg")}, 3)

	// listed at gen 2, finished after the gen 3 listing that saw gone.go deleted
	res := ix.ReconcileDir("", []ports.FileInfo{file("a.go", 1), file("gone.go", 1), dir("pkg")}, 2)
	assert.True(t, res.Superseded)
	assert.False(t, res.Stale)
	assert.Zero(t, res.Added)
	assert.Equal(t, []string{"pkg"}, res.Dirs)
	_, ok := ix.Get("gone.go")
	assert.False(t, ok)

	// same or newer generations still apply
	res = ix.ReconcileDir("", []ports.FileInfo{file("a.go", 1)}, 3)
	assert.False(t, res.Superseded)
	assert.Equal(t, 1, res.Removed)
}

// =============================================================================
// Subtree removal, sweep, load
// =============================================================================

func TestRemoveSubtree(t *testing.T) {
	ix := buildTree(t)

	assert.Equal(t, 2, ix.RemoveSubtree("src/util"))
	_, ok := ix.Get("src/util")
	assert.False(t, ok)
	kids, _ := ix.Children("src")
	assert.Equal(t, []string{"src/main.go"}, kids)

	assert.Equal(t, 0, ix.RemoveSubtree("nope"))

	assert.Equal(t, 3, ix.RemoveSubtree(""))
	assert.Zero(t, ix.Snapshot().Len())
	files, dirs := ix.Counts()
	assert.Zero(t, files+dirs)
}

func TestSweep(t *testing.T) {
	ix := buildTree(t)

	// a second full pass lists root and src but never reaches src/util
	ix.ReconcileDir("", []ports.FileInfo{file("README.md", 10), dir("src")}, 2)
	ix.ReconcileDir("src", []ports.FileInfo{file("main.go", 20), dir("util")}, 2)

	assert.Equal(t, 2, ix.Sweep(2))
	assert.Equal(t, []string{"README.md", "src/main.go"}, snapshotPaths(ix.Snapshot()))
	assert.Equal(t, 0, ix.Sweep(2))
}

func TestLoad(t *testing.T) {
	ix := New([]string{"node_modules"})
	n := ix.Load([]ports.Entry{
		{Path: "src/main.go", Kind: ports.KindFile, Generation: 3},
		{Path: "src", Kind: ports.KindDir, Generation: 3},
		{Path: "orphan/x.go", Kind: ports.KindFile, Generation: 3},
		{Path: "node_modules", Kind: ports.KindDir, Generation: 3},
		{Path: "node_modules/a.js", Kind: ports.KindFile, Generation: 3},
		{Path: "link", Kind: ports.KindSymlink, Generation: 3},
	})

	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"link", "src/main.go"}, snapshotPaths(ix.Snapshot()))
	entries := ix.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "link", entries[0].Path)
	assert.Equal(t, []string{"src"}, ix.Dirs())

	// loaded directories are stale relative to a newer pass
	assert.Equal(t, 2, ix.Sweep(4))
}

// =============================================================================
// Snapshots
// =============================================================================

func TestSnapshot_Isolation(t *testing.T) {
	ix := buildTree(t)
	before := ix.Snapshot()
	assert.Same(t, before, ix.Snapshot(), "unchanged index reuses the snapshot")

	ix.ReconcileDir("", []ports.FileInfo{file("README.md", 10), file("NEW.md", 1), dir("src")}, 2)
	after := ix.Snapshot()

	assert.Equal(t, []string{"README.md", "src/main.go", "src/util/helpers.go"}, snapshotPaths(before))
	assert.Equal(t, []string{"NEW.md", "README.md", "src/main.go", "src/util/helpers.go"}, snapshotPaths(after))
	assert.Greater(t, after.Version(), before.Version())
	assert.Equal(t, 2, after.Dirs())
	assert.Len(t, after.Candidates(), after.Len())
	assert.Equal(t, "NEW.md", after.Candidates()[0].Path)
}

func TestSnapshot_DirectoryCommitIsAtomic(t *testing.T) {
	ix := New(nil)
	ix.ReconcileDir("", []ports.FileInfo{dir("d")}, 1)

	setA := make([]ports.FileInfo, 50)
	setB := make([]ports.FileInfo, 50)
	for i := range setA {
		setA[i] = file(fmt.Sprintf("a%02d", i), 1)
		setB[i] = file(fmt.Sprintf("b%02d", i), 1)
	}
	ix.ReconcileDir("d", setA, 1)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		gen := uint64(2)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if gen%2 == 0 {
				ix.ReconcileDir("d", setB, gen)
			} else {
				ix.ReconcileDir("d", setA, gen)
			}
			gen++
		}
	}()

	for i := 0; i < 500; i++ {
		s := ix.Snapshot()
		require.Equal(t, 50, s.Len())
		prefix := s.Entry(0).Path[:3]
		for j := 0; j < s.Len(); j++ {
			require.True(t, strings.HasPrefix(s.Entry(j).Path, prefix), "mixed listing in one snapshot")
		}
	}
	close(stop)
	wg.Wait()
}

func TestJoinAndParent(t *testing.T) {
	assert.Equal(t, "a", Join("", "a"))
	assert.Equal(t, "a/b", Join("a", "b"))
	assert.Equal(t, "", Parent("a"))
	assert.Equal(t, "a/b", Parent("a/b/c"))
}
