// Command attest manages append-only, admin-gated record ledgers.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/attest/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}
	// ExitErrors have already been reported in the requested format.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCommandError)
	}
	os.Exit(cli.GetExitCode(err))
}
