package app

import "time"

// throughputWindow is how far back the scan rate looks.
const throughputWindow = 10 * time.Second

// throughput computes a rolling listing rate over a window.
// Not thread-safe; the indexer's mutex serializes access.
type throughput struct {
	window  time.Duration
	samples []rateSample
	total   int64
}

type rateSample struct {
	ts      time.Time
	entries int
}

func newThroughput(window time.Duration) *throughput {
	return &throughput{window: window}
}

// recordAt adds the entries seen by one listing.
func (t *throughput) recordAt(ts time.Time, entries int) {
	t.samples = append(t.samples, rateSample{ts: ts, entries: entries})
	t.total += int64(entries)
	t.evict(ts)
}

// perSecondAt is the number of entries listed per second as of now.
func (t *throughput) perSecondAt(now time.Time) float64 {
	t.evict(now)
	if len(t.samples) < 2 {
		return 0
	}
	span := now.Sub(t.samples[0].ts)
	if span <= 0 {
		return 0
	}
	sum := 0
	for _, s := range t.samples {
		sum += s.entries
	}
	return float64(sum) / span.Seconds()
}

// reset starts a new pass.
func (t *throughput) reset() {
	t.samples = nil
	t.total = 0
}

// evict removes samples older than the window.
func (t *throughput) evict(now time.Time) {
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(t.samples) && t.samples[i].ts.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.samples = t.samples[i:]
	}
}
