package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/corey/five/internal/adapters/tui"
	"github.com/corey/five/internal/app"
	"github.com/corey/five/internal/logging"
)

var openCmd = &cobra.Command{
	Use:   "open [target]",
	Short: "Open a tree in the quick-open UI",
	Long: "Indexes the target in the background and opens the quick-open UI.\n" +
		"Targets: a local path (default .), [user@]host:path, or ssh://user@host:port/path.",
	Args: cobra.MaximumNArgs(1),
	RunE: runOpen,
}

func runOpen(cmd *cobra.Command, args []string) error {
	// The screen belongs to the UI, so logs go to the cache dir.
	if err := loadSettings(app.DefaultPaths().LogFile); err != nil {
		return err
	}
	defer logging.Sync()

	a, err := openApp(args, true)
	if err != nil {
		return err
	}
	if err := a.Start(context.Background()); err != nil {
		a.Stop()
		return err
	}

	m := tui.New(a, tui.Options{
		Title:        a.Target.String(),
		PreviewBytes: settings.QuickOpen.PreviewBytes,
	})
	_, runErr := tea.NewProgram(m, tea.WithAltScreen()).Run()
	stopErr := a.Stop()
	if runErr != nil {
		return runErr
	}
	if p := m.Opened(); p != "" {
		fmt.Println(p)
	}
	return stopErr
}
