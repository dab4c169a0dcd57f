package sshfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/corey/five/internal/ports"
)

// Remote hosts need GNU find (for -printf and -newermt) and a POSIX shell.
const (
	listFormat   = `%y\t%s\t%T@\t%f\0`
	changeFormat = `%y\t%P\0`
)

// quote single-quotes s for a POSIX shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// argPath keeps a path from being read as a find option.
func argPath(p string) string {
	if strings.HasPrefix(p, "-") {
		return "./" + p
	}
	return p
}

func listCmd(dir string) string {
	return fmt.Sprintf("LC_ALL=C find %s -mindepth 1 -maxdepth 1 -printf '%s'", quote(argPath(dir)), listFormat)
}

func statCmd(p string) string {
	return fmt.Sprintf("LC_ALL=C find %s -maxdepth 0 -printf '%s'", quote(argPath(p)), listFormat)
}

func catCmd(p string) string {
	return "LC_ALL=C cat -- " + quote(p)
}

func clockCmd() string {
	return "date +%s"
}

// changesCmd prints the remote clock, then every node under root modified
// at or after since. Ignored names are pruned.
func changesCmd(root string, since int64, ignore []string) string {
	var b strings.Builder
	b.WriteString("date +%s; LC_ALL=C find ")
	b.WriteString(quote(argPath(root)))
	if len(ignore) > 0 {
		b.WriteString(" \\(")
		for i, n := range ignore {
			if i > 0 {
				b.WriteString(" -o")
			}
			b.WriteString(" -name ")
			b.WriteString(quote(n))
		}
		b.WriteString(" \\) -prune -o")
	}
	fmt.Fprintf(&b, " -newermt @%d -printf '%s'", since, changeFormat)
	return b.String()
}

func kindOf(y string) ports.Kind {
	switch y {
	case "d":
		return ports.KindDir
	case "l":
		return ports.KindSymlink
	}
	return ports.KindFile
}

// parseList decodes listFormat records. Malformed records are skipped.
func parseList(out []byte) []ports.FileInfo {
	var infos []ports.FileInfo
	for _, rec := range bytes.Split(out, []byte{0}) {
		if len(rec) == 0 {
			continue
		}
		f := strings.SplitN(string(rec), "\t", 4)
		if len(f) != 4 || f[3] == "" {
			continue
		}
		size, _ := strconv.ParseInt(f[1], 10, 64)
		fi := ports.FileInfo{
			Name:    f[3],
			Kind:    kindOf(f[0]),
			Size:    size,
			ModTime: parseEpoch(f[2]),
		}
		if fi.Kind == ports.KindDir {
			fi.Size = 0
		}
		infos = append(infos, fi)
	}
	return infos
}

// parseEpoch reads find's %T@, seconds with an optional fraction.
func parseEpoch(s string) time.Time {
	sec, frac, _ := strings.Cut(s, ".")
	secs, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nanos int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nanos, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(secs, nanos).UTC()
}

// parseChanges splits changesCmd output into the remote clock and the
// affected directories, relative to the root.
func parseChanges(out []byte) (now int64, dirs []string, err error) {
	line, rest, _ := bytes.Cut(out, []byte{'\n'})
	now, err = strconv.ParseInt(strings.TrimSpace(string(line)), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("parse remote clock %q: %w", line, err)
	}

	seen := make(map[string]bool)
	add := func(d string) {
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	for _, rec := range bytes.Split(rest, []byte{0}) {
		if len(rec) == 0 {
			continue
		}
		y, p, ok := strings.Cut(string(rec), "\t")
		if !ok {
			continue
		}
		if p != "" {
			add(parent(p))
		}
		if y == "d" {
			// a directory's own mtime moves when its children change
			add(p)
		}
	}
	return now, dirs, nil
}

func parent(p string) string {
	d := path.Dir(p)
	if d == "." {
		return ""
	}
	return d
}

// classify maps a runner failure onto the provider error taxonomy.
func classify(op, p string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ports.WrapPath(op, p, err)
	}
	var pe *ports.PathError
	if errors.As(err, &pe) {
		return err
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		switch {
		case strings.Contains(ee.Stderr, "No such file or directory"),
			strings.Contains(ee.Stderr, "Not a directory"):
			return &ports.PathError{Op: op, Path: p, Err: fmt.Errorf("%w: %s", ports.ErrNotFound, firstLine(ee.Stderr))}
		case strings.Contains(ee.Stderr, "Permission denied"):
			return &ports.PathError{Op: op, Path: p, Err: fmt.Errorf("%w: %s", ports.ErrPermission, firstLine(ee.Stderr))}
		}
		// the host could not run the tool (missing, non-GNU, killed): the
		// remote end failed, not the path
		return &ports.PathError{Op: op, Path: p, Err: fmt.Errorf("%w: %w", ports.ErrTransport, ee)}
	}
	return &ports.PathError{Op: op, Path: p, Err: fmt.Errorf("%w: %v", ports.ErrTransport, err)}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
