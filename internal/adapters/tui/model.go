// Package tui is the terminal quick-open front-end: a query line, the
// ranked matches with their matched characters highlighted, a preview of
// the selected file and the scan indicator.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/corey/five/internal/app"
	"github.com/corey/five/internal/domain/status"
	"github.com/corey/five/internal/logging"
)

const (
	tickInterval   = 250 * time.Millisecond
	previewTimeout = 5 * time.Second
	maxListRows    = 10
)

// Backend is the part of app.App the front-end drives.
type Backend interface {
	OpenQuickOpen() *app.Session
	ReadFile(ctx context.Context, path string) (io.ReadCloser, error)
	Status() status.Status
	Rescan()
}

// Options configures the model.
type Options struct {
	Title        string // shown in the header, usually the target
	PreviewBytes int
	Logger       *zap.Logger
}

type (
	resultsMsg struct {
		session string
		res     app.Results
	}
	sessionDoneMsg struct{ session string }
	tickMsg        time.Time
	previewMsg     struct {
		path string
		body string
		err  error
	}
)

// Model is the bubbletea model for one opened tree.
type Model struct {
	b    Backend
	opts Options
	log  *zap.Logger

	session *app.Session // nil while the palette is closed
	input   textinput.Model
	spin    spinner.Model
	preview viewport.Model

	results   app.Results
	selected  int
	previewOf string
	opened    string

	status        status.Status
	width, height int
	quitting      bool
}

// New creates a model. The palette opens on Init.
func New(b Backend, opts Options) *Model {
	if opts.PreviewBytes <= 0 {
		opts.PreviewBytes = DefaultPreviewBytes
	}
	if opts.Logger == nil {
		opts.Logger = logging.L()
	}

	ti := textinput.New()
	ti.Placeholder = "Search files by name..."
	ti.Prompt = "> "
	ti.CharLimit = 256
	ti.PromptStyle = promptStyle
	ti.PlaceholderStyle = mutedStyle.Italic(true)

	sp := spinner.New()
	sp.Spinner = spinner.Line
	sp.Style = warnStyle

	m := &Model{
		b:       b,
		opts:    opts,
		log:     opts.Logger.Named("tui"),
		input:   ti,
		spin:    sp,
		preview: viewport.New(78, 10),
		status:  b.Status(),
		width:   80,
		height:  24,
	}
	m.layout()
	return m
}

// Opened is the last path chosen with Enter, empty if none.
func (m *Model) Opened() string { return m.opened }

// Init opens the palette and starts the status tick.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.spin.Tick, m.openPalette())
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tickMsg:
		m.status = m.b.Status()
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case resultsMsg:
		if m.session == nil || msg.session != m.session.ID() {
			return m, nil
		}
		m.results = msg.res
		m.status = msg.res.Status
		m.selected = 0
		return m, tea.Batch(listen(m.session), m.loadPreview(m.current()))

	case sessionDoneMsg:
		return m, nil

	case previewMsg:
		if msg.path != m.previewOf {
			return m, nil
		}
		if msg.err != nil {
			m.log.Debug("preview", logging.Path(msg.path), logging.Err(msg.err))
			m.preview.SetContent(errorStyle.Render(msg.err.Error()))
		} else {
			m.preview.SetContent(msg.body)
		}
		m.preview.GotoTop()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.closePalette()
		m.quitting = true
		return m, tea.Quit
	}

	if m.session == nil {
		switch msg.String() {
		case "ctrl+p":
			return m, m.openPalette()
		case "ctrl+r":
			m.b.Rescan()
			return m, nil
		case "q", "esc":
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.preview, cmd = m.preview.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "esc", "ctrl+p":
		m.closePalette()
		return m, nil
	case "enter":
		p := m.current()
		if p == "" {
			return m, nil
		}
		m.opened = p
		m.log.Debug("open", logging.Path(p))
		m.closePalette()
		return m, m.loadPreview(p)
	case "up", "ctrl+k":
		m.move(-1)
		return m, m.loadPreview(m.current())
	case "down", "ctrl+j", "ctrl+n", "tab":
		m.move(1)
		return m, m.loadPreview(m.current())
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.preview, cmd = m.preview.Update(msg)
		return m, cmd
	}

	prev := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if v := m.input.Value(); v != prev {
		m.session.OnQueryChanged(v)
	}
	return m, cmd
}

func (m *Model) openPalette() tea.Cmd {
	if m.session != nil {
		return nil
	}
	m.session = m.b.OpenQuickOpen()
	m.input.Reset()
	m.results = app.Results{}
	m.selected = 0
	m.layout()
	m.log.Debug("palette opened", zap.String("session", m.session.ID()))
	return tea.Batch(m.input.Focus(), listen(m.session))
}

func (m *Model) closePalette() {
	if m.session == nil {
		return
	}
	m.session.Close()
	m.session = nil
	m.input.Blur()
	m.layout()
}

func (m *Model) current() string {
	if m.selected < 0 || m.selected >= len(m.results.Items) {
		return ""
	}
	return m.results.Items[m.selected].Entry.Path
}

func (m *Model) move(d int) {
	n := len(m.results.Items)
	if n == 0 {
		return
	}
	m.selected = (m.selected + d + n) % n
}

func (m *Model) loadPreview(p string) tea.Cmd {
	if p == m.previewOf {
		return nil
	}
	m.previewOf = p
	if p == "" {
		m.preview.SetContent("")
		return nil
	}
	b, n, width := m.b, m.opts.PreviewBytes, m.preview.Width
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), previewTimeout)
		defer cancel()
		data, truncated, err := readPreview(ctx, b, p, n)
		if err != nil {
			return previewMsg{path: p, err: err}
		}
		return previewMsg{path: p, body: renderPreview(p, data, truncated, width)}
	}
}

// layout sizes the preview to what the header, palette and footer leave.
func (m *Model) layout() {
	used := 1 + 1 + 2 // header, footer, preview border
	if m.session != nil {
		used += 1 + maxListRows + 1 // input, list, match count
	}
	h := m.height - used
	if h < 3 {
		h = 3
	}
	w := m.width - 2
	if w < 10 {
		w = 10
	}
	m.preview.Width, m.preview.Height = w, h
	m.input.Width = w - 4
}

// View renders the screen.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteByte('\n')
	if m.session != nil {
		b.WriteString(m.input.View())
		b.WriteByte('\n')
		b.WriteString(m.list())
	}
	b.WriteString(previewStyle.Render(m.preview.View()))
	b.WriteByte('\n')
	b.WriteString(m.footer())
	return b.String()
}

func (m *Model) header() string {
	title := titleStyle.Render(m.opts.Title)
	ind := m.status.Indicator()
	switch m.status.State {
	case status.Scanning:
		ind = m.spin.View() + " " + warnStyle.Render(ind)
	case status.Degraded:
		ind = errorStyle.Render(ind)
	default:
		ind = mutedStyle.Render(ind)
	}
	return title + "  " + ind
}

func (m *Model) list() string {
	var b strings.Builder
	items := m.results.Items
	rows := 0
	switch {
	case len(items) > 0:
		first := 0
		if m.selected >= maxListRows {
			first = m.selected - maxListRows + 1
		}
		for i := first; i < len(items) && rows < maxListRows; i++ {
			it := items[i]
			cursor, plain := "  ", render(itemStyle)
			if i == m.selected {
				cursor, plain = "> ", render(selectedStyle)
			}
			b.WriteString(cursor + highlight(it.Entry.Path, it.Positions, plain, render(matchStyle)))
			b.WriteByte('\n')
			rows++
		}
	case strings.TrimSpace(m.input.Value()) == "":
		b.WriteString(mutedStyle.Render("  type to search"))
		b.WriteByte('\n')
		rows++
	case !m.results.Status.Ready():
		// Not a final answer yet; the index is still filling in.
		b.WriteString(warnStyle.Render("  " + m.results.Status.Indicator()))
		b.WriteByte('\n')
		rows++
	default:
		b.WriteString(mutedStyle.Render("  no matches"))
		b.WriteByte('\n')
		rows++
	}
	for ; rows < maxListRows; rows++ {
		b.WriteByte('\n')
	}
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  %d of %d", len(items), m.results.Matched)))
	b.WriteByte('\n')
	return b.String()
}

func (m *Model) footer() string {
	if m.session != nil {
		return mutedStyle.Render("enter open · esc/ctrl+p close · ↑/↓ select · ctrl+c quit")
	}
	label := "ctrl+p quick open · ctrl+r rescan · q quit"
	if m.opened != "" {
		label = m.opened + "  " + label
	}
	return mutedStyle.Render(label)
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// listen waits for the next result set of s.
func listen(s *app.Session) tea.Cmd {
	id, ch := s.ID(), s.Results()
	return func() tea.Msg {
		res, ok := <-ch
		if !ok {
			return sessionDoneMsg{session: id}
		}
		return resultsMsg{session: id, res: res}
	}
}
