package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/corey/five/internal/logging"
)

var (
	scanJSON bool
	scanWait time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan <target>",
	Short: "Index a tree and report the scan status",
	Long:  "Runs one full scan and prints the result. The snapshot is saved for the next warm start.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "print the status as JSON")
	scanCmd.Flags().DurationVar(&scanWait, "wait", 10*time.Minute, "how long to wait for the scan")
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := loadSettings("stderr"); err != nil {
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

	ctx, cancel := context.WithTimeout(context.Background(), scanWait)
	defer cancel()
	st, waitErr := a.WaitIdle(ctx)
	if err := a.Stop(); err != nil {
		logging.L().Warn("stop", logging.Err(err))
	}

	if scanJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			return err
		}
	} else {
		fmt.Print(formatStatus(a.Target.String(), st, time.Now()))
		if w := a.WarmFrom(); !w.IsZero() {
			fmt.Printf("  %swarm start from snapshot saved %s%s\n", colorGray, w.Local().Format(time.DateTime), colorReset)
		}
	}
	if waitErr != nil {
		return fmt.Errorf("scan did not finish: %w", waitErr)
	}
	if st.Err != "" {
		return fmt.Errorf("scan degraded: %s", st.Err)
	}
	return nil
}
