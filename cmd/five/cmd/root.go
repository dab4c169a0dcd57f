package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corey/five/internal/app"
	"github.com/corey/five/internal/config"
	"github.com/corey/five/internal/domain/target"
	"github.com/corey/five/internal/logging"
)

var (
	flagConfig   string
	flagLogLevel string
	flagSSH      bool

	// settings is loaded once per invocation by loadSettings.
	settings *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "five",
	Short:         "five: quick-open for local and remote trees",
	Long:          "Indexes a local directory or an SSH remote in the background and finds files by fuzzy name.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override log.level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&flagSSH, "ssh", false, "treat the target as [user@]host[:path]")

	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(wipeCmd)
}

// loadSettings reads the configuration and starts logging. defaultOutput
// is used when the config names no log output.
func loadSettings(defaultOutput string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	out := cfg.Log.Output
	if out == "" {
		out = defaultOutput
	}
	if err := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, OutputPath: out}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	if flagLogLevel != "" {
		logging.SetLevel(flagLogLevel)
		cfg.Log.Level = logging.Level().String()
	}
	settings = cfg
	return nil
}

// parseTarget reads a target argument; --ssh forces the remote form.
func parseTarget(args []string) (target.Target, error) {
	var s string
	if len(args) > 0 {
		s = args[0]
	}
	if flagSSH {
		return target.ParseRemote(s)
	}
	return target.Parse(s)
}

// openApp builds the app for a target argument. With cache paths the app
// keeps its snapshot and status file there.
func openApp(args []string, cache bool) (*app.App, error) {
	t, err := parseTarget(args)
	if err != nil {
		return nil, err
	}
	var paths *app.Paths
	if cache {
		paths = app.DefaultPaths()
		if err := paths.EnsureDirs(); err != nil {
			return nil, err
		}
	}
	return app.New(app.Config{Target: t, Settings: settings, Paths: paths})
}
