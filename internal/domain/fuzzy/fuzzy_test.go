package fuzzy

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isSubsequence is the reference definition the matcher must agree with.
func isSubsequence(q, p string) bool {
	qr := []rune(strings.Map(unicode.ToLower, q))
	pr := []rune(strings.Map(unicode.ToLower, p))
	i := 0
	for _, r := range pr {
		if i < len(qr) && r == qr[i] {
			i++
		}
	}
	return i == len(qr)
}

func randomString(rng *rand.Rand, alphabet []rune, n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return string(b)
}

func TestMatch_AgreesWithSubsequence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("abcABC/._-x")
	for i := 0; i < 5000; i++ {
		q := randomString(rng, alphabet, 1+rng.Intn(4))
		p := randomString(rng, alphabet, 1+rng.Intn(20))
		_, ok := Match(NewQuery(q), NewCandidate(p))
		require.Equal(t, isSubsequence(q, p), ok, "query %q path %q", q, p)
	}
}

func TestMatch_Deterministic(t *testing.T) {
	q := NewQuery("hlp")
	c := NewCandidate("src/util/helpers.go")
	s1, ok1 := Match(q, c)
	s2, ok2 := Match(NewQuery("hlp"), NewCandidate("src/util/helpers.go"))
	assert.True(t, ok1)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, s1, s2)
}

func TestMatch_CaseInsensitive(t *testing.T) {
	_, ok := Match(NewQuery("READ"), NewCandidate("readme.md"))
	assert.True(t, ok)
	_, ok = Match(NewQuery("rm"), NewCandidate("README.md"))
	assert.True(t, ok)
}

func TestMatch_Examples(t *testing.T) {
	_, ok := Match(NewQuery("mn"), NewCandidate("README.md"))
	assert.False(t, ok, "m then n does not occur in order")

	_, ok = Match(NewQuery("mn"), NewCandidate("src/main.go"))
	assert.True(t, ok)

	_, ok = Match(NewQuery("hlp"), NewCandidate("src/util/helpers.go"))
	assert.True(t, ok)

	_, ok = Match(NewQuery("toolong"), NewCandidate("a.go"))
	assert.False(t, ok)
}

func TestMatch_EmptyQuery(t *testing.T) {
	score, ok := Match(NewQuery(""), NewCandidate("anything"))
	assert.True(t, ok)
	assert.Equal(t, 0, score)
	assert.True(t, NewQuery("").Empty())
}

func TestMatch_PrefersFilenameStart(t *testing.T) {
	q := NewQuery("main")
	inName, _ := Match(q, NewCandidate("cmd/main.go"))
	inDir, _ := Match(q, NewCandidate("domain/util.go"))
	assert.Greater(t, inName, inDir)
}

func TestMatch_PrefersContiguousAndBoundaries(t *testing.T) {
	q := NewQuery("abc")
	contiguous, _ := Match(q, NewCandidate("x/abc.go"))
	scattered, _ := Match(q, NewCandidate("x/a_b_c.go"))
	assert.Greater(t, contiguous, scattered)

	boundary, _ := Match(NewQuery("u"), NewCandidate("src/util"))
	middle, _ := Match(NewQuery("u"), NewCandidate("src/xuti"))
	assert.Greater(t, boundary, middle)
}

func TestMatch_PrefersShorterPaths(t *testing.T) {
	q := NewQuery("x")
	short, _ := Match(q, NewCandidate("a/x"))
	long, _ := Match(q, NewCandidate("aaaaaaaaaaaaaaaaaaaaaaaaaa/x"))
	assert.Greater(t, short, long)
}

func TestMatch_LaterAlignmentWins(t *testing.T) {
	// the earliest window sits inside "domain"; the later one is the file name
	q := NewQuery("main")
	c := NewCandidate("domain/main.go")
	pos := Positions(q, c)
	assert.Equal(t, []int{7, 8, 9, 10}, pos)
}

func TestPositions(t *testing.T) {
	assert.Equal(t, []int{9, 11, 12}, Positions(NewQuery("hlp"), NewCandidate("src/util/helpers.go")))
	assert.Nil(t, Positions(NewQuery("zz"), NewCandidate("src/main.go")))
	assert.Nil(t, Positions(NewQuery(""), NewCandidate("src/main.go")))
}

func candidates(paths ...string) []Candidate {
	out := make([]Candidate, len(paths))
	for i, p := range paths {
		out[i] = NewCandidate(p)
	}
	return out
}

func paths(cands []Candidate, ranked []Ranked) []string {
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = cands[r.Index].Path
	}
	return out
}

func TestSelect_TieBreak(t *testing.T) {
	cands := candidates("b/x.go", "ab/x.go", "a/x.go", "nothing")
	ranked, matched, err := Select(context.Background(), NewQuery("x"), cands, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, matched)
	assert.Equal(t, []string{"a/x.go", "b/x.go", "ab/x.go"}, paths(cands, ranked))
}

func TestSelect_BoundedK(t *testing.T) {
	cands := candidates("src/main.go", "src/util/helpers.go", "README.md", "cmd/main_test.go", "docs/manual.md")
	ranked, matched, err := Select(context.Background(), NewQuery("mn"), cands, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, matched)
	require.Len(t, ranked, 2)
	// manual.md has a one-rune gap, main.go a two-rune gap, main_test.go is longer
	assert.Equal(t, []string{"docs/manual.md", "src/main.go"}, paths(cands, ranked))
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
}

func TestSelect_MatchesFullSort(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("abcde/._")
	var ps []string
	seen := map[string]bool{}
	for len(ps) < 400 {
		p := randomString(rng, alphabet, 3+rng.Intn(15))
		if !seen[p] {
			seen[p] = true
			ps = append(ps, p)
		}
	}
	cands := candidates(ps...)
	q := NewQuery("ab")

	var all []Ranked
	for i, c := range cands {
		if s, ok := Match(q, c); ok {
			all = append(all, Ranked{Index: i, Score: s})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return Better(cands[all[i].Index], cands[all[j].Index], all[i].Score, all[j].Score)
	})

	for _, k := range []int{1, 5, 50, 1000} {
		got, matched, err := Select(context.Background(), q, cands, k)
		require.NoError(t, err)
		assert.Equal(t, len(all), matched)
		want := all
		if len(want) > k {
			want = want[:k]
		}
		assert.Equal(t, want, got, "k=%d", k)
	}
}

func TestSelect_Stable(t *testing.T) {
	cands := candidates("a/b/c.go", "a/bc.go", "abc.go", "x/a/b/c", "c/b/a")
	first, _, _ := Select(context.Background(), NewQuery("abc"), cands, 10)
	for i := 0; i < 20; i++ {
		again, _, _ := Select(context.Background(), NewQuery("abc"), cands, 10)
		assert.Equal(t, first, again)
	}
}

func TestSelect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ranked, _, err := Select(ctx, NewQuery("a"), candidates("a", "b"), 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, ranked)
}

func TestSelect_ZeroK(t *testing.T) {
	ranked, matched, err := Select(context.Background(), NewQuery("a"), candidates("a"), 0)
	assert.NoError(t, err)
	assert.Nil(t, ranked)
	assert.Equal(t, 0, matched)
}
