package tui

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromastyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
)

// DefaultPreviewBytes bounds how much of a file is read for the preview pane.
const DefaultPreviewBytes = 64 * 1024

const truncatedNote = "\n… (truncated)"

// readPreview reads at most n bytes of p. The second result reports
// whether the file was longer.
func readPreview(ctx context.Context, b Backend, p string, n int) ([]byte, bool, error) {
	rc, err := b.ReadFile(ctx, p)
	if err != nil {
		return nil, false, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, int64(n)+1))
	if err != nil {
		return nil, false, err
	}
	if len(data) <= n {
		return data, false, nil
	}
	return trimPartialRune(data[:n]), true, nil
}

// trimPartialRune drops a multi-byte sequence cut off at the end.
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		r, size := utf8.DecodeLastRune(b)
		if r != utf8.RuneError || size > 1 {
			break
		}
		b = b[:len(b)-1]
	}
	return b
}

// isBinary sniffs the head of a file: NUL bytes or a non-text MIME type.
func isBinary(b []byte) bool {
	head := b
	if len(head) > 512 {
		head = head[:512]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	if len(b) > 0 && !isTextMIME(http.DetectContentType(head)) {
		return true
	}
	return !utf8.Valid(b)
}

func isTextMIME(mime string) bool {
	if strings.HasPrefix(mime, "text/") {
		return true
	}
	switch {
	case strings.Contains(mime, "javascript"),
		strings.Contains(mime, "json"),
		strings.Contains(mime, "xml"),
		strings.Contains(mime, "yaml"):
		return true
	}
	return false
}

// renderPreview turns file bytes into terminal text: markdown through
// glamour, known source languages through chroma, everything else as is.
func renderPreview(name string, data []byte, truncated bool, width int) string {
	if isBinary(data) {
		return fmt.Sprintf("binary file (%d bytes shown)", len(data))
	}
	text := string(data)
	out := text
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".md", ".markdown":
		if s, err := renderMarkdown(text, width); err == nil {
			out = s
		}
	default:
		if s, ok := highlightSource(name, text); ok {
			out = s
		}
	}
	if truncated {
		out += truncatedNote
	}
	return out
}

func renderMarkdown(text string, width int) (string, error) {
	if width < 20 {
		width = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(text)
}

func highlightSource(name, text string) (string, bool) {
	lexer := lexers.Match(path.Base(name))
	if lexer == nil || lexer.Config().Name == "plaintext" {
		return "", false
	}
	it, err := chroma.Coalesce(lexer).Tokenise(nil, text)
	if err != nil {
		return "", false
	}
	var buf strings.Builder
	if err := formatters.TTY256.Format(&buf, chromastyles.Get("monokai"), it); err != nil {
		return "", false
	}
	return buf.String(), true
}
