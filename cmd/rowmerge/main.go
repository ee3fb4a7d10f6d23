// Command rowmerge folds a multi-writer operation log into table rows.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/rowmerge/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
