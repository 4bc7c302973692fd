// Command stitch maps tabular records to graph entities.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/stitch/internal/cli"
	"github.com/roach88/stitch/internal/errors"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Command failures are already reported by the output formatter.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
