package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	cyan   = lipgloss.Color("#00D7FF")
	purple = lipgloss.Color("#AF87FF")
	amber  = lipgloss.Color("#FFAF00")
	red    = lipgloss.Color("#FF5F5F")
	muted  = lipgloss.Color("#6C6C6C")
	fg     = lipgloss.Color("#E4E4E4")

	titleStyle    = lipgloss.NewStyle().Foreground(purple).Bold(true)
	promptStyle   = lipgloss.NewStyle().Foreground(cyan).Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(muted)
	warnStyle     = lipgloss.NewStyle().Foreground(amber)
	errorStyle    = lipgloss.NewStyle().Foreground(red)
	itemStyle     = lipgloss.NewStyle().Foreground(fg)
	selectedStyle = lipgloss.NewStyle().Foreground(cyan).Bold(true)
	matchStyle    = lipgloss.NewStyle().Foreground(amber).Bold(true).Underline(true)
	previewStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted)
)

// highlight renders s with the runes at positions (sorted rune offsets)
// passed through hit and all other runs through plain.
func highlight(s string, positions []int, plain, hit func(string) string) string {
	if len(positions) == 0 {
		return plain(s)
	}
	runes := []rune(s)
	var b strings.Builder
	j, start := 0, 0
	for start < len(runes) {
		matched := j < len(positions) && positions[j] == start
		end := start
		for end < len(runes) {
			isHit := j < len(positions) && positions[j] == end
			if isHit != matched {
				break
			}
			if isHit {
				j++
			}
			end++
		}
		seg := string(runes[start:end])
		if matched {
			b.WriteString(hit(seg))
		} else {
			b.WriteString(plain(seg))
		}
		start = end
	}
	return b.String()
}

func render(st lipgloss.Style) func(string) string {
	return func(s string) string { return st.Render(s) }
}
