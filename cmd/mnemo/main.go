// Command mnemo is the personal knowledge memory CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/mnemo/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	err := cmd.Execute()
	if err != nil {
		// Commands that already wrote an error envelope return an ExitError;
		// anything else (flag parsing, unknown command) is printed here.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(cli.ExitCommandError)
		}
	}
	os.Exit(cli.GetExitCode(err))
}
