package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/corey/five/internal/app"
	"github.com/corey/five/internal/domain/status"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorCyan   = "\033[36m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// formatResults renders a ranked result set, matched characters in yellow.
//
//	⚡ 3 of 12 matches │ 4ms
//	  src/util/helpers.go
func formatResults(res app.Results, elapsed time.Duration) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s⚡ %d of %d matches%s │ %s\n",
		colorBold, len(res.Items), res.Matched, colorReset, elapsed.Round(time.Millisecond))
	if len(res.Items) == 0 && !res.Status.Ready() {
		fmt.Fprintf(&sb, "  %s%s%s\n", colorYellow, res.Status.Indicator(), colorReset)
	}
	for _, it := range res.Items {
		sb.WriteString("  ")
		sb.WriteString(markPositions(it.Entry.Path, it.Positions))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// markPositions wraps the runes at the given offsets in color codes.
func markPositions(p string, positions []int) string {
	if len(positions) == 0 {
		return p
	}
	hit := make(map[int]bool, len(positions))
	for _, i := range positions {
		hit[i] = true
	}
	var sb strings.Builder
	for i, r := range []rune(p) {
		if hit[i] {
			sb.WriteString(colorYellow + colorBold + string(r) + colorReset)
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// formatStatus renders a scan report.
func formatStatus(name string, st status.Status, now time.Time) string {
	state := colorGreen + st.State.String() + colorReset
	switch st.State {
	case status.Scanning:
		state = colorYellow + st.State.String() + colorReset
	case status.Degraded:
		state = colorRed + st.State.String() + colorReset
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s⚡ %s%s\n", colorBold, name, colorReset)
	fmt.Fprintf(&sb, "  State:      %s\n", state)
	if st.Err != "" {
		fmt.Fprintf(&sb, "  Error:      %s\n", st.Err)
	}
	fmt.Fprintf(&sb, "  Files:      %d\n", st.Files)
	fmt.Fprintf(&sb, "  Dirs:       %d (%d listed, %d pending)\n", st.Dirs, st.Listed, st.Pending)
	fmt.Fprintf(&sb, "  Generation: %d\n", st.Generation)
	fmt.Fprintf(&sb, "  Elapsed:    %s\n", st.Elapsed(now).Round(time.Millisecond))
	for _, p := range st.DegradedPaths {
		fmt.Fprintf(&sb, "  %sunreadable: %s%s\n", colorGray, p, colorReset)
	}
	return sb.String()
}
