package cmd

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/corey/five/internal/logging"
)

var catCmd = &cobra.Command{
	Use:   "cat <target> <path>",
	Short: "Print a file from a tree",
	Long:  "Reads one file through the target's provider, relative to its root. No index is built.",
	Args:  cobra.ExactArgs(2),
	RunE:  runCat,
}

func runCat(cmd *cobra.Command, args []string) error {
	if err := loadSettings("stderr"); err != nil {
		return err
	}
	defer logging.Sync()
	settings.Index.Persist = false // nothing is indexed

	a, err := openApp(args[:1], false)
	if err != nil {
		return err
	}
	defer a.Stop()

	rc, err := a.ReadFile(context.Background(), args[1])
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(os.Stdout, rc)
	return err
}
