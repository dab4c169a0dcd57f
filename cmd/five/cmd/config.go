package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/corey/five/internal/app"
	"github.com/corey/five/internal/config"
)

var (
	configWrite bool
	configForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long:  "Shows the config file, cache paths and effective settings. --write creates a config file with the defaults.",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configWrite, "write", false, "write the default configuration file")
	configCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file with --write")
}

func runConfig(cmd *cobra.Command, args []string) error {
	if configWrite {
		return writeConfig()
	}
	if err := loadSettings("stderr"); err != nil {
		return err
	}
	paths := app.DefaultPaths()
	file := settings.File
	if file == "" {
		file = fmt.Sprintf("%s(none, defaults)%s", colorGray, colorReset)
	}
	db := settings.Index.DBPath
	if db == "" {
		db = paths.DB
	}

	fmt.Printf("%s⚡ five config%s\n", colorBold, colorReset)
	fmt.Printf("  File:       %s\n", file)
	fmt.Printf("  Cache:      %s\n", paths.Root)
	fmt.Printf("  DB:         %s (persist %v)\n", db, settings.Index.Persist)
	fmt.Printf("  Log:        %s\n", paths.LogFile)
	fmt.Printf("  Workers:    local %d, remote %d\n", settings.Index.LocalWorkers, settings.Index.RemoteWorkers)
	fmt.Printf("  Timeout:    %s per call, %d attempts\n", settings.Index.CallTimeout, settings.Index.RetryAttempts)
	fmt.Printf("  Rescan:     every %s\n", settings.Index.RescanInterval)
	fmt.Printf("  Results:    %d\n", settings.QuickOpen.MaxResults)
	fmt.Printf("  Ignore:     %v\n", settings.Index.Ignore)
	return nil
}

func writeConfig() error {
	path := flagConfig
	if path == "" {
		path = config.DefaultPath()
	}
	if path == "" {
		return fmt.Errorf("no config directory; pass --config")
	}
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := config.WriteDefaults(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("⚡ wrote %s\n", path)
	return nil
}
