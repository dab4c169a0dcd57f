// Package fuzzy scores quick-open queries against slash-separated paths.
//
// A query matches a path when its characters appear in the path in order,
// case-insensitively, not necessarily contiguous. Scoring is a pure function
// of (query, path):
//
//	+ every matched character
//	+ matches right after '/' (segment start)
//	+ matches at the start of the final segment (file name)
//	+ matches after '-', '_', '.', ' '
//	+ consecutive runs of matched characters
//	- gaps between matched characters (start and extension)
//	- overall path length
//
// Two alignments are tried per candidate, the tightest window ending earliest
// and the one starting latest, and the higher score wins. Both are linear in
// the path length so a keystroke stays cheap over a large index.
package fuzzy

import (
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Scoring weights.
const (
	scoreMatch        = 16
	scoreGapStart     = -3
	scoreGapExtension = -1

	bonusBoundary    = 8 // after '/' or at position 0
	bonusFilename    = 8 // added on top of bonusBoundary at the file name start
	bonusWord        = 6 // after '-', '_', '.', ' '
	bonusConsecutive = 4

	bonusFirstCharMultiplier = 2

	// one point lost per lengthPenaltyDivisor runes of path
	lengthPenaltyDivisor = 8
)

// Query is a folded quick-open query. The zero value is the empty query.
type Query struct {
	text  string
	runes []rune
}

// NewQuery folds text for matching.
func NewQuery(text string) Query {
	return Query{text: text, runes: fold(text)}
}

// Empty reports whether the query has no characters.
func (q Query) Empty() bool { return len(q.runes) == 0 }

// String returns the text the query was built from.
func (q Query) String() string { return q.text }

// Candidate is a path prepared for repeated matching. Build it once when the
// path enters the index, not per keystroke.
type Candidate struct {
	Path   string
	folded []rune
	base   int // rune offset of the final segment
}

// NewCandidate folds path and records where its file name starts.
func NewCandidate(path string) Candidate {
	f := fold(path)
	base := 0
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '/' {
			base = i + 1
			break
		}
	}
	return Candidate{Path: path, folded: f, base: base}
}

// Len returns the path length in runes.
func (c Candidate) Len() int { return len(c.folded) }

// Match scores q against c. ok is false when q is not a subsequence of c.
// The empty query matches everything with score 0.
func Match(q Query, c Candidate) (score int, ok bool) {
	score, _, ok = c.match(q.runes)
	return score, ok
}

// Positions returns the rune offsets in c.Path matched by q, following the
// same alignment Match scored. Nil when there is no match.
func Positions(q Query, c Candidate) []int {
	_, start, ok := c.match(q.runes)
	if !ok || len(q.runes) == 0 {
		return nil
	}
	pos := make([]int, 0, len(q.runes))
	pi := 0
	for i := start; i < len(c.folded) && pi < len(q.runes); i++ {
		if c.folded[i] == q.runes[pi] {
			pos = append(pos, i)
			pi++
		}
	}
	return pos
}

func (c Candidate) match(p []rune) (score, start int, ok bool) {
	t := c.folded
	if len(p) == 0 {
		return 0, 0, true
	}
	if len(p) > len(t) {
		return 0, 0, false
	}

	end := forward(p, t)
	if end < 0 {
		return 0, 0, false
	}

	start = backward(p, t, end)
	score = c.scoreFrom(p, start)

	if late := backward(p, t, len(t)-1); late != start {
		if s := c.scoreFrom(p, late); s > score {
			score, start = s, late
		}
	}
	return score, start, true
}

// forward returns the index where the first complete in-order match of p
// ends, or -1.
func forward(p, t []rune) int {
	pi := 0
	for i, r := range t {
		if r == p[pi] {
			pi++
			if pi == len(p) {
				return i
			}
		}
	}
	return -1
}

// backward walks left from index from and returns the latest start of an
// in-order match of p that ends at or before from, or -1.
func backward(p, t []rune, from int) int {
	pi := len(p) - 1
	for i := from; i >= 0; i-- {
		if t[i] == p[pi] {
			pi--
			if pi < 0 {
				return i
			}
		}
	}
	return -1
}

// scoreFrom greedily aligns p starting at start (where t[start] == p[0]).
func (c Candidate) scoreFrom(p []rune, start int) int {
	t := c.folded
	score := 0
	pi := 0
	run := 0
	runBonus := 0
	inGap := false

	for i := start; i < len(t) && pi < len(p); i++ {
		if t[i] != p[pi] {
			if inGap {
				score += scoreGapExtension
			} else {
				score += scoreGapStart
			}
			inGap = true
			run = 0
			continue
		}

		b := c.bonusAt(i)
		if run > 0 {
			b = max(b, runBonus, bonusConsecutive)
		} else {
			runBonus = b
		}
		if pi == 0 {
			b *= bonusFirstCharMultiplier
		}
		score += scoreMatch + b
		run++
		inGap = false
		pi++
	}
	return score - len(t)/lengthPenaltyDivisor
}

func (c Candidate) bonusAt(i int) int {
	if i == 0 {
		if c.base == 0 {
			return bonusBoundary + bonusFilename
		}
		return bonusBoundary
	}
	switch c.folded[i-1] {
	case '/':
		if i == c.base {
			return bonusBoundary + bonusFilename
		}
		return bonusBoundary
	case '-', '_', '.', ' ':
		return bonusWord
	}
	return 0
}

// fold normalises to NFC and lower-cases rune by rune, so the folded form
// has exactly one rune per rune of the NFC input.
func fold(s string) []rune {
	r := []rune(norm.NFC.String(s))
	for i, c := range r {
		r[i] = unicode.ToLower(c)
	}
	return r
}
