package main

import (
	"errors"
	"os"

	"github.com/BakeLens/shellgate/internal/cli"
	"github.com/BakeLens/shellgate/internal/tui"
)

func main() {
	err := cli.Execute()
	if err == nil {
		return
	}
	var exitErr *cli.ExitCodeError
	if !errors.As(err, &exitErr) || exitErr.Err != nil {
		tui.Failure(os.Stderr, "%v", err)
	}
	os.Exit(cli.ExitCode(err))
}
