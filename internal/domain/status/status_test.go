package status

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "not_started", NotStarted.String())
	assert.Equal(t, "scanning", Scanning.String())
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "degraded", Degraded.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestState_TextRoundtrip(t *testing.T) {
	var s State
	require.NoError(t, s.UnmarshalText([]byte("degraded")))
	assert.Equal(t, Degraded, s)
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
}

func TestIndicator(t *testing.T) {
	tests := []struct {
		name string
		st   Status
		want string
	}{
		{"not started", Status{}, "index: not started"},
		{"scanning", Status{State: Scanning, Files: 1234, Pending: 7}, "indexing… 1,234 files, 7 dirs pending"},
		{"scanning with rate", Status{State: Scanning, Files: 40, Pending: 2, Rate: 2500.7}, "indexing… 40 files, 2 dirs pending (2,500/s)"},
		{"idle", Status{State: Idle, Files: 12, Rate: 99}, "12 files"},
		{"idle with holes", Status{State: Idle, Files: 1000000, DegradedPaths: []string{"secret"}}, "1,000,000 files, 1 unreadable"},
		{"degraded", Status{State: Degraded, Err: "connection lost", Files: 3}, "index degraded: connection lost (3 files)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.st.Indicator())
			assert.Equal(t, tt.want, tt.st.String())
		})
	}
}

func TestReadyAndElapsed(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Status{State: Scanning, StartedAt: start}
	assert.False(t, s.Ready())
	assert.Equal(t, 5*time.Second, s.Elapsed(start.Add(5*time.Second)))

	s.State = Idle
	s.FinishedAt = start.Add(2 * time.Second)
	assert.True(t, s.Ready())
	assert.Equal(t, 2*time.Second, s.Elapsed(start.Add(time.Hour)))

	assert.Zero(t, Status{}.Elapsed(start))
}

func TestWriteJSON_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, StatusFile)

	err := WriteJSON(path, Status{State: Idle, Files: 100, Dirs: 3, DegradedPaths: []string{"a/b"}, Generation: 4})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded Status
	require.NoError(t, json.Unmarshal(raw, &loaded))
	assert.Equal(t, Idle, loaded.State)
	assert.Equal(t, 100, loaded.Files)
	assert.Equal(t, 3, loaded.Dirs)
	assert.Equal(t, []string{"a/b"}, loaded.DegradedPaths)
	assert.Equal(t, uint64(4), loaded.Generation)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, "idle", generic["state"])
	assert.NotContains(t, generic, "started_at", "zero times are omitted")
}

func TestWriteJSON_Overwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, StatusFile)

	require.NoError(t, WriteJSON(path, Status{Files: 1}))
	require.NoError(t, WriteJSON(path, Status{Files: 2}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded Status
	require.NoError(t, json.Unmarshal(raw, &loaded))
	assert.Equal(t, 2, loaded.Files)
}
