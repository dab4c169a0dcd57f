package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corey/five/internal/domain/index"
	"github.com/corey/five/internal/domain/status"
	"github.com/corey/five/internal/ports"
)

func TestIndexer_WatchEventReconcilesOneDirectory(t *testing.T) {
	p := newMemProvider("README.md", "src/main.go", "src/util/helpers.go")
	p.caps.Watch = true
	cfg := IndexerConfig{WatchDebounce: 10 * time.Millisecond}
	in, ix := startIndexer(t, p, cfg)
	waitIdle(t, in)
	rootCalls := p.callCount("")

	p.remove("src/util")
	p.add("src/new.go", "package src")
	p.events <- ports.ChangeEvent{Dir: "src"}

	require.Eventually(t, func() bool {
		_, ok := ix.Get("src/new.go")
		return ok
	}, 5*time.Second, 5*time.Millisecond)
	waitIdle(t, in)

	assert.Equal(t, []string{"README.md", "src/main.go", "src/new.go"}, snapshotPaths(ix.Snapshot()))
	assert.Equal(t, rootCalls, p.callCount(""), "only the affected directory is listed")

	readme, _ := ix.Get("README.md")
	added, _ := ix.Get("src/new.go")
	assert.Equal(t, uint64(1), readme.Generation, "untouched entries keep their generation")
	assert.Greater(t, added.Generation, readme.Generation)
}

func TestIndexer_WatchEventsAreCoalesced(t *testing.T) {
	p := newMemProvider("src/main.go")
	p.caps.Watch = true
	in, ix := startIndexer(t, p, IndexerConfig{WatchDebounce: 50 * time.Millisecond})
	waitIdle(t, in)
	before := p.callCount("src")

	p.add("src/a.go", "")
	for i := 0; i < 5; i++ {
		p.events <- ports.ChangeEvent{Dir: "src"}
	}
	require.Eventually(t, func() bool {
		_, ok := ix.Get("src/a.go")
		return ok
	}, 5*time.Second, 5*time.Millisecond)
	waitIdle(t, in)

	assert.Equal(t, before+1, p.callCount("src"))
}

func TestIndexer_WatchWalksNewDirectories(t *testing.T) {
	p := newMemProvider("README.md")
	p.caps.Watch = true
	in, ix := startIndexer(t, p, IndexerConfig{})
	waitIdle(t, in)

	p.add("pkg/deep/file.go", "")
	p.events <- ports.ChangeEvent{Dir: ""}

	require.Eventually(t, func() bool {
		_, ok := ix.Get("pkg/deep/file.go")
		return ok
	}, 5*time.Second, 5*time.Millisecond)
}

func TestIndexer_FullEventRescans(t *testing.T) {
	p := newMemProvider("a/one.txt", "b/two.txt")
	p.caps.Watch = true
	in, ix := startIndexer(t, p, IndexerConfig{})
	waitIdle(t, in)

	p.remove("b")
	p.events <- ports.ChangeEvent{Full: true}

	require.Eventually(t, func() bool {
		return in.Status().State == status.Idle && ix.Snapshot().Len() == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a/one.txt"}, snapshotPaths(ix.Snapshot()))
}

func TestIndexer_FallbackRescanWithoutWatch(t *testing.T) {
	p := newMemProvider("keep.txt", "gone/x.txt")
	in, ix := startIndexer(t, p, IndexerConfig{RescanInterval: 20 * time.Millisecond})
	waitIdle(t, in)

	p.remove("gone")
	p.add("fresh/y.txt", "")

	require.Eventually(t, func() bool {
		paths := snapshotPaths(ix.Snapshot())
		return len(paths) == 2 && paths[0] == "fresh/y.txt" && paths[1] == "keep.txt"
	}, 5*time.Second, 5*time.Millisecond)
}

func TestIndexer_IgnoredEventsAreDropped(t *testing.T) {
	p := newMemProvider("src/main.go")
	p.caps.Watch = true
	in, _ := startIndexer(t, p, IndexerConfig{})
	waitIdle(t, in)
	before := p.callCount("node_modules/pkg")

	p.events <- ports.ChangeEvent{Dir: "node_modules/pkg"}
	p.events <- ports.ChangeEvent{Dir: "src"}
	require.Eventually(t, func() bool { return p.callCount("src") == 2 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, before, p.callCount("node_modules/pkg"))
}

func TestIndexer_EndedStreamFallsBackToRescans(t *testing.T) {
	p := newMemProvider("a.txt")
	p.caps.Watch = true
	p.watchEnds = true
	ix := index.New(nil)
	in := NewIndexer(p, ix, IndexerConfig{RescanInterval: 20 * time.Millisecond})
	in.Start(t.Context())
	defer in.Stop()
	waitIdle(t, in)

	p.add("b.txt", "")
	require.Eventually(t, func() bool { return ix.Snapshot().Len() == 2 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, status.Idle, waitIdle(t, in).State)
}

func TestIndexer_IgnoredPath(t *testing.T) {
	in := NewIndexer(newMemProvider(), index.New([]string{".git"}), IndexerConfig{})
	assert.False(t, in.ignoredPath(""))
	assert.False(t, in.ignoredPath("src/app"))
	assert.True(t, in.ignoredPath(".git"))
	assert.True(t, in.ignoredPath("sub/.git/objects"))
}
