package fuzzy

import (
	"container/heap"
	"context"
	"sort"
)

// Ranked is one selected candidate.
type Ranked struct {
	Index int // position in the candidate slice passed to Select
	Score int
}

// Better reports whether a ranks before b: higher score, then shorter path,
// then lexicographically smaller path. Paths are unique, so the order is total.
func Better(a, b Candidate, scoreA, scoreB int) bool {
	if scoreA != scoreB {
		return scoreA > scoreB
	}
	if len(a.folded) != len(b.folded) {
		return len(a.folded) < len(b.folded)
	}
	return a.Path < b.Path
}

// Select scores every candidate against q and returns the best k, best first,
// together with the total number of matches. The scan is cooperative: ctx is
// checked before every candidate and ctx.Err() is returned once it is done.
//
// Only k results are ever held, in a bounded min-heap, so a keystroke over a
// large index costs O(n log k) rather than a full sort.
func Select(ctx context.Context, q Query, cands []Candidate, k int) ([]Ranked, int, error) {
	if k <= 0 {
		return nil, 0, nil
	}
	done := ctx.Done()
	h := &rankHeap{cands: cands}
	matched := 0

	for i := range cands {
		select {
		case <-done:
			return nil, matched, ctx.Err()
		default:
		}

		score, ok := Match(q, cands[i])
		if !ok {
			continue
		}
		matched++
		r := Ranked{Index: i, Score: score}
		if h.Len() < k {
			heap.Push(h, r)
			continue
		}
		if h.better(r, h.items[0]) {
			h.items[0] = r
			heap.Fix(h, 0)
		}
	}

	out := h.items
	sort.Slice(out, func(i, j int) bool { return h.better(out[i], out[j]) })
	return out, matched, nil
}

// rankHeap keeps the worst kept result at the root.
type rankHeap struct {
	cands []Candidate
	items []Ranked
}

func (h *rankHeap) better(a, b Ranked) bool {
	return Better(h.cands[a.Index], h.cands[b.Index], a.Score, b.Score)
}

func (h *rankHeap) Len() int           { return len(h.items) }
func (h *rankHeap) Less(i, j int) bool { return h.better(h.items[j], h.items[i]) }
func (h *rankHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *rankHeap) Push(x any)         { h.items = append(h.items, x.(Ranked)) }
func (h *rankHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}
