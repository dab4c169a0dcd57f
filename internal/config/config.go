// Package config loads five's settings from defaults, an optional TOML
// file and FIVE_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/corey/five/internal/domain/index"
)

// EnvPrefix prefixes every environment override: FIVE_INDEX_REMOTE_WORKERS.
const EnvPrefix = "FIVE"

// Config is the full configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Index     IndexConfig     `mapstructure:"index"`
	QuickOpen QuickOpenConfig `mapstructure:"quick_open"`
	Remote    RemoteConfig    `mapstructure:"remote"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
	Output string `mapstructure:"output"` // stderr, stdout or a file; empty picks per command
}

// IndexConfig tunes the background indexer.
type IndexConfig struct {
	LocalWorkers     int           `mapstructure:"local_workers"` // 0 = GOMAXPROCS
	RemoteWorkers    int           `mapstructure:"remote_workers"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	RescanInterval   time.Duration `mapstructure:"rescan_interval"`
	WatchDebounce    time.Duration `mapstructure:"watch_debounce"`
	Ignore           []string      `mapstructure:"ignore"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryInitialWait time.Duration `mapstructure:"retry_initial_wait"`
	RetryMaxWait     time.Duration `mapstructure:"retry_max_wait"`
	Persist          bool          `mapstructure:"persist"` // keep snapshots for warm starts
	DBPath           string        `mapstructure:"db_path"` // empty = cache dir
}

// QuickOpenConfig tunes query sessions.
type QuickOpenConfig struct {
	MaxResults   int           `mapstructure:"max_results"`
	Debounce     time.Duration `mapstructure:"debounce"`
	PreviewBytes int           `mapstructure:"preview_bytes"`
}

// RemoteConfig holds SSH settings.
type RemoteConfig struct {
	User                  string        `mapstructure:"user"`
	Port                  int           `mapstructure:"port"`
	IdentityFiles         []string      `mapstructure:"identity_files"`
	UseAgent              bool          `mapstructure:"use_agent"`
	KnownHosts            string        `mapstructure:"known_hosts"`
	InsecureIgnoreHostKey bool          `mapstructure:"insecure_ignore_host_key"`
	DialTimeout           time.Duration `mapstructure:"dial_timeout"`
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	StatCacheTTL          time.Duration `mapstructure:"stat_cache_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "")

	v.SetDefault("index.local_workers", 0)
	v.SetDefault("index.remote_workers", 4)
	v.SetDefault("index.call_timeout", 10*time.Second)
	v.SetDefault("index.rescan_interval", 5*time.Minute)
	v.SetDefault("index.watch_debounce", 100*time.Millisecond)
	v.SetDefault("index.ignore", index.DefaultIgnore)
	v.SetDefault("index.retry_attempts", 3)
	v.SetDefault("index.retry_initial_wait", 200*time.Millisecond)
	v.SetDefault("index.retry_max_wait", 5*time.Second)
	v.SetDefault("index.persist", true)
	v.SetDefault("index.db_path", "")

	v.SetDefault("quick_open.max_results", 50)
	v.SetDefault("quick_open.debounce", 30*time.Millisecond)
	v.SetDefault("quick_open.preview_bytes", 64*1024)

	v.SetDefault("remote.user", "")
	v.SetDefault("remote.port", 22)
	v.SetDefault("remote.identity_files", []string{})
	v.SetDefault("remote.use_agent", true)
	v.SetDefault("remote.known_hosts", "")
	v.SetDefault("remote.insecure_ignore_host_key", false)
	v.SetDefault("remote.dial_timeout", 10*time.Second)
	v.SetDefault("remote.poll_interval", 5*time.Second)
	v.SetDefault("remote.stat_cache_ttl", 30*time.Second)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// DefaultPath is $XDG_CONFIG_HOME/five/config.toml (or the OS equivalent).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "five", "config.toml")
}

// Default returns the built-in configuration, ignoring files and environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &cfg
}

// Load reads configuration. An explicit path must exist; with an empty path
// DefaultPath is read when present.
func Load(path string) (*Config, error) {
	v := newViper()

	file := path
	if file == "" {
		if p := DefaultPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				file = p
			}
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = file
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the indexer or session cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Index.LocalWorkers < 0 {
		errs = append(errs, errors.New("index.local_workers must be >= 0"))
	}
	if c.Index.RemoteWorkers <= 0 {
		errs = append(errs, errors.New("index.remote_workers must be > 0"))
	}
	if c.Index.CallTimeout <= 0 {
		errs = append(errs, errors.New("index.call_timeout must be > 0"))
	}
	if c.Index.RetryAttempts <= 0 {
		errs = append(errs, errors.New("index.retry_attempts must be > 0"))
	}
	if c.Index.WatchDebounce < 0 || c.Index.RescanInterval < 0 {
		errs = append(errs, errors.New("index intervals must be >= 0"))
	}
	if c.QuickOpen.MaxResults <= 0 {
		errs = append(errs, errors.New("quick_open.max_results must be > 0"))
	}
	if c.QuickOpen.Debounce < 0 {
		errs = append(errs, errors.New("quick_open.debounce must be >= 0"))
	}
	if c.Remote.Port <= 0 || c.Remote.Port > 65535 {
		errs = append(errs, fmt.Errorf("remote.port %d out of range", c.Remote.Port))
	}
	if c.Remote.PollInterval <= 0 {
		errs = append(errs, errors.New("remote.poll_interval must be > 0"))
	}
	return errors.Join(errs...)
}

// WriteDefaults writes the built-in configuration as TOML.
func WriteDefaults(w io.Writer) error {
	v := viper.New()
	setDefaults(v)
	return toml.NewEncoder(w).Encode(tomlValues(v.AllSettings()))
}

// tomlValues renders durations as strings ("5m0s") so the file reads back
// through viper's duration hook.
func tomlValues(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		switch x := val.(type) {
		case map[string]any:
			out[k] = tomlValues(x)
		case time.Duration:
			out[k] = x.String()
		default:
			out[k] = val
		}
	}
	return out
}
