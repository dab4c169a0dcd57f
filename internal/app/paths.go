package app

import (
	"os"
	"path/filepath"

	"github.com/corey/five/internal/domain/status"
)

// Paths holds the resolved locations under five's cache directory.
type Paths struct {
	Root   string // ~/.cache/five/
	DB     string // ~/.cache/five/index.db
	Status string // ~/.cache/five/status.json

	LogDir  string // ~/.cache/five/log/
	LogFile string // ~/.cache/five/log/five.log
}

// NewPaths resolves every path below root.
func NewPaths(root string) *Paths {
	return &Paths{
		Root:   root,
		DB:     filepath.Join(root, "index.db"),
		Status: filepath.Join(root, status.StatusFile),

		LogDir:  filepath.Join(root, "log"),
		LogFile: filepath.Join(root, "log", "five.log"),
	}
}

// DefaultPaths uses the user cache directory, or a temp dir when the
// platform has none.
func DefaultPaths() *Paths {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return NewPaths(filepath.Join(dir, "five"))
}

// EnsureDirs creates the cache directories. Idempotent.
func (p *Paths) EnsureDirs() error {
	for _, d := range []string{p.Root, p.LogDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}

// CleanEphemeral removes files that only describe a running process.
func (p *Paths) CleanEphemeral() {
	os.Remove(p.Status)
}
