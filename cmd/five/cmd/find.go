package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/corey/five/internal/logging"
)

var (
	findLimit int
	findWait  time.Duration
)

var findCmd = &cobra.Command{
	Use:   "find <target> <query>",
	Short: "Print the best fuzzy matches for a query",
	Long:  "Indexes the target, waits for the scan to settle (or --wait to pass) and prints ranked matches.",
	Args:  cobra.ExactArgs(2),
	RunE:  runFind,
}

func init() {
	findCmd.Flags().IntVarP(&findLimit, "limit", "n", 0, "maximum results (default quick_open.max_results)")
	findCmd.Flags().DurationVar(&findWait, "wait", time.Minute, "how long to wait for the scan")
}

func runFind(cmd *cobra.Command, args []string) error {
	if err := loadSettings("stderr"); err != nil {
		return err
	}
	defer logging.Sync()
	if findLimit > 0 {
		settings.QuickOpen.MaxResults = findLimit
	}

	a, err := openApp(args[:1], true)
	if err != nil {
		return err
	}
	defer a.Stop()
	if err := a.Start(context.Background()); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), findWait)
	defer cancel()
	if _, err := a.WaitIdle(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	start := time.Now()
	res, err := a.Search(context.Background(), args[1])
	if err != nil {
		return err
	}
	fmt.Print(formatResults(res, time.Since(start)))
	return nil
}
