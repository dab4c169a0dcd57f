package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corey/five/internal/adapters/bbolt"
	"github.com/corey/five/internal/app"
	"github.com/corey/five/internal/domain/target"
)

var (
	wipeForce bool
	wipeAll   bool
)

var wipeCmd = &cobra.Command{
	Use:   "wipe [target]",
	Short: "Delete the saved index of a tree",
	Long:  "Deletes the persisted snapshot of the target, or of every target with --all. The next open starts cold.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWipe,
}

func init() {
	wipeCmd.Flags().BoolVar(&wipeForce, "force", false, "Skip confirmation prompt")
	wipeCmd.Flags().BoolVar(&wipeAll, "all", false, "Delete the saved index of every target")
}

func runWipe(cmd *cobra.Command, args []string) error {
	if err := loadSettings("stderr"); err != nil {
		return err
	}
	what := "every saved index"
	var t target.Target
	if !wipeAll {
		var err error
		if t, err = parseTarget(args); err != nil {
			return err
		}
		if t, err = t.Resolve(); err != nil {
			return err
		}
		what = "the saved index for " + t.String()
	}

	if !wipeForce {
		fmt.Printf("⚠ This will delete %s. Continue? [y/N] ", what)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("cancelled")
			return nil
		}
	}

	dbPath := settings.Index.DBPath
	if dbPath == "" {
		dbPath = app.DefaultPaths().DB
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("⚡ no data to wipe")
		return nil
	}

	store, err := bbolt.NewStore(dbPath)
	if err != nil {
		if isDBLockError(err) {
			return fmt.Errorf("%s\n%s", err, dbLockHint)
		}
		return fmt.Errorf("open store: %w", err)
	}
	n, err := wipeStore(store, t)
	if err != nil {
		store.Close()
		return err
	}
	if err := store.Close(); err != nil {
		return err
	}
	if wipeAll {
		app.DefaultPaths().CleanEphemeral()
	}
	fmt.Printf("⚡ %d index(es) wiped\n", n)
	return nil
}

// wipeStore deletes t's snapshot, or every snapshot with --all, and
// returns how many were deleted.
func wipeStore(store *bbolt.Store, t target.Target) (int, error) {
	if !wipeAll {
		return 1, app.Wipe(store, t)
	}
	ids, err := store.Targets()
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := store.DeleteSnapshot(id); err != nil {
			return 0, fmt.Errorf("delete %s: %w", id, err)
		}
	}
	return len(ids), nil
}
