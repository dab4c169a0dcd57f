// Package status describes how far indexing of the opened tree has got.
//
// The indexer publishes a Status on every state change. The TUI renders it
// as the scan indicator next to quick-open results, `five scan --json`
// prints it, and the app writes it to status.json in the cache dir so other
// tools can read it.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// StatusFile is the filename within the cache directory where status JSON is written.
const StatusFile = "status.json"

// State is the scan state of one provider.
type State int

const (
	NotStarted State = iota
	Scanning
	Idle
	Degraded
)

var stateNames = [...]string{"not_started", "scanning", "idle", "degraded"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown scan state %q", b)
}

// Status is a point-in-time report. It is a value; publishing a new one
// never mutates an old one.
type Status struct {
	State State  `json:"state"`
	Err   string `json:"error,omitempty"` // set when State is Degraded

	Files int `json:"files"`
	Dirs  int `json:"dirs"`

	Listed  int `json:"dirs_listed"`  // directories listed in the current pass
	Pending int `json:"dirs_pending"` // directories queued or in flight

	// Rate is entries listed per second over the last few seconds.
	Rate float64 `json:"entries_per_sec"`

	// DegradedPaths are subtrees that could not be listed (not found or
	// permission denied) and were left out of the index.
	DegradedPaths []string `json:"degraded_paths,omitempty"`

	Generation uint64    `json:"generation"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Ready reports whether the index is complete for the last pass.
func (s Status) Ready() bool { return s.State == Idle }

// Elapsed is the duration of the last pass, or of the running one so far.
func (s Status) Elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.FinishedAt.IsZero() || s.FinishedAt.Before(s.StartedAt) {
		return now.Sub(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Indicator is the short line shown next to quick-open results.
func (s Status) Indicator() string {
	switch s.State {
	case NotStarted:
		return "index: not started"
	case Scanning:
		line := fmt.Sprintf("indexing… %s files, %d dirs pending", count(s.Files), s.Pending)
		if s.Rate >= 1 {
			line += fmt.Sprintf(" (%s/s)", count(int(s.Rate)))
		}
		return line
	case Degraded:
		return fmt.Sprintf("index degraded: %s (%s files)", s.Err, count(s.Files))
	}
	line := fmt.Sprintf("%s files", count(s.Files))
	if n := len(s.DegradedPaths); n > 0 {
		line += fmt.Sprintf(", %d unreadable", n)
	}
	return line
}

func (s Status) String() string { return s.Indicator() }

// WriteJSON writes the status as JSON to a file.
func WriteJSON(path string, s Status) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// count formats n with thousands separators.
func count(n int) string {
	s := fmt.Sprintf("%d", n)
	if n < 1000 && n > -1000 {
		return s
	}
	neg := s[0] == '-'
	if neg {
		s = s[1:]
	}
	var out []byte
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
