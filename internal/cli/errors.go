package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/BakeLens/shellgate/internal/permission"
	"github.com/BakeLens/shellgate/internal/process"
	"github.com/BakeLens/shellgate/internal/rules"
	"github.com/BakeLens/shellgate/internal/sandbox"
	"github.com/BakeLens/shellgate/internal/tool"
)

// Process exit codes for failures that happen before a command runs. A
// command that did run exits with its own code.
const (
	ExitFailure  = 1
	ExitUsage    = 2
	ExitRejected = 3 // obfuscated or unparseable command
	ExitDenied   = 4 // denied by policy, rejected by the user, or no PIN
	ExitSpawn    = 5
	ExitTimeout  = 124
	ExitAborted  = 130
)

// ExitCodeError carries the exit code the process should terminate with.
// Err is printed by the caller of Execute; nil means there is nothing left to
// report.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitCodeError) Unwrap() error { return e.Err }

func usageError(err error) error {
	return &ExitCodeError{Code: ExitUsage, Err: err}
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var (
		obf      *rules.ObfuscationError
		parseErr *rules.ParseError
		denied   *permission.DeniedError
		rejected *permission.RejectedError
		spawn    *process.SpawnError
		setup    *sandbox.SetupError
	)
	switch {
	case errors.Is(err, tool.ErrInvalidInput):
		return ExitUsage
	case errors.As(err, &obf), errors.As(err, &parseErr):
		return ExitRejected
	case errors.As(err, &denied), errors.As(err, &rejected),
		errors.Is(err, permission.ErrPinNotConfigured),
		errors.Is(err, permission.ErrNoTerminal):
		return ExitDenied
	case errors.Is(err, context.Canceled):
		return ExitAborted
	case errors.As(err, &spawn), errors.As(err, &setup):
		return ExitSpawn
	}
	return ExitFailure
}
