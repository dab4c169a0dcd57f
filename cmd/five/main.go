// five opens a local directory or a remote tree over SSH and finds files in
// it by fuzzy name matching, with the index kept fresh in the background.
package main

import (
	"fmt"
	"os"

	"github.com/corey/five/cmd/five/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
