// Package target parses what the user asked to open into an immutable
// descriptor. It does not touch the filesystem or the network except for
// Resolve, which makes local roots absolute.
package target

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// Kind distinguishes local from remote targets.
type Kind int

const (
	Local Kind = iota
	Remote
)

// String returns the kind name.
func (k Kind) String() string {
	if k == Remote {
		return "remote"
	}
	return "local"
}

// DefaultSSHPort is used when a remote target names no port.
const DefaultSSHPort = 22

// Target is created once at startup and never mutated.
type Target struct {
	Kind Kind
	Root string // local: OS path; remote: absolute or home-relative POSIX path
	User string // remote only; empty means the configured/default user
	Host string // remote only
	Port int    // remote only
}

// Parse turns a command-line target into a Target. Accepted forms:
//
//	""                          current directory
//	/some/path, ./rel, C:\dir   local path
//	[user@]host:path            remote (scp-style); empty path means "/"
//	ssh://[user@]host[:port]/p  remote (URL)
func Parse(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{Kind: Local, Root: "."}, nil
	}
	if strings.HasPrefix(s, "ssh://") {
		return parseURL(s)
	}
	if host, p, ok := splitSCP(s); ok {
		return remote(host, p, 0)
	}
	return Target{Kind: Local, Root: s}, nil
}

// ParseRemote forces a remote interpretation (the --ssh flag). A bare host
// with no ':' opens its root directory.
func ParseRemote(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "ssh://") {
		return parseURL(s)
	}
	if host, p, ok := splitSCP(s); ok {
		return remote(host, p, 0)
	}
	if s == "" || strings.ContainsAny(s, "/\\") {
		return Target{}, fmt.Errorf("invalid remote target %q: want [user@]host[:path]", s)
	}
	return remote(s, "", 0)
}

// Resolve returns a copy with local roots made absolute and cleaned.
func (t Target) Resolve() (Target, error) {
	if t.Kind != Local {
		return t, nil
	}
	abs, err := filepath.Abs(t.Root)
	if err != nil {
		return t, fmt.Errorf("resolve %q: %w", t.Root, err)
	}
	t.Root = abs
	return t, nil
}

// ID is a stable key for the target, used to scope persisted state.
func (t Target) ID() string {
	if t.Kind == Local {
		return "local:" + filepath.ToSlash(filepath.Clean(t.Root))
	}
	return "ssh://" + t.Address() + t.Root
}

// Address returns user@host:port for remote targets.
func (t Target) Address() string {
	hp := t.Host + ":" + strconv.Itoa(t.Port)
	if t.User != "" {
		return t.User + "@" + hp
	}
	return hp
}

// HostPort returns host:port for dialing.
func (t Target) HostPort() string {
	return t.Host + ":" + strconv.Itoa(t.Port)
}

func (t Target) String() string {
	if t.Kind == Local {
		return t.Root
	}
	host := t.Host
	if t.User != "" {
		host = t.User + "@" + host
	}
	if t.Port != DefaultSSHPort {
		return fmt.Sprintf("ssh://%s:%d%s", host, t.Port, t.Root)
	}
	return host + ":" + t.Root
}

// splitSCP recognises [user@]host:path. A single letter before the colon is a
// Windows drive, and a slash before the colon means a local path.
func splitSCP(s string) (host, p string, ok bool) {
	i := strings.IndexByte(s, ':')
	if i <= 0 {
		return "", "", false
	}
	host = s[:i]
	if strings.ContainsAny(host, "/\\") {
		return "", "", false
	}
	if len(host) == 1 {
		return "", "", false
	}
	return host, s[i+1:], true
}

func parseURL(s string) (Target, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Target{}, fmt.Errorf("invalid target %q: %w", s, err)
	}
	if u.Hostname() == "" {
		return Target{}, fmt.Errorf("invalid target %q: missing host", s)
	}
	port := 0
	if ps := u.Port(); ps != "" {
		port, err = strconv.Atoi(ps)
		if err != nil || port <= 0 || port > 65535 {
			return Target{}, fmt.Errorf("invalid target %q: bad port %q", s, ps)
		}
	}
	host := u.Hostname()
	if u.User != nil {
		host = u.User.Username() + "@" + host
	}
	return remote(host, u.Path, port)
}

func remote(userHost, p string, port int) (Target, error) {
	t := Target{Kind: Remote, Host: userHost, Port: port}
	if at := strings.LastIndexByte(userHost, '@'); at >= 0 {
		t.User = userHost[:at]
		t.Host = userHost[at+1:]
	}
	if t.Host == "" {
		return Target{}, fmt.Errorf("invalid remote target %q: missing host", userHost)
	}
	if t.Port == 0 {
		t.Port = DefaultSSHPort
	}
	t.Root = "/"
	if p != "" {
		// relative paths stay relative to the remote home, as scp does
		t.Root = path.Clean(p)
	}
	return t, nil
}
