package sandbox

import (
	"encoding/json"
	"fmt"
)

// ExitSetupError is the exit code a wrapper uses when it could not set up
// confinement. The command itself never ran.
const ExitSetupError = 125

// ErrorCode classifies wrapper setup failures.
type ErrorCode string

const (
	ErrParse                  ErrorCode = "parse_error"
	ErrEnforcementUnavailable ErrorCode = "enforcement_unavailable"
	ErrCommandNotFound        ErrorCode = "command_not_found"
	ErrExecFailed             ErrorCode = "exec_failed"
)

// SetupError is the structured error a wrapper writes as the last line of
// its output, e.g. {"error":"exec_failed","message":"..."}.
type SetupError struct {
	Code    ErrorCode `json:"error"`
	Message string    `json:"message"`
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// SetupFailure reports the setup error of a wrapped run that exited with
// ExitSetupError and ended its output with a structured error line. Any other
// run, including one where the wrapped command itself exited 125 without such
// a line, returns nil.
func SetupFailure(exitCode *int, output string) *SetupError {
	if exitCode == nil || *exitCode != ExitSetupError {
		return nil
	}
	_, last, ok := cutLastLine(output)
	if !ok {
		return nil
	}
	return parseSetupError([]byte(last))
}

// parseSetupError returns nil unless line is a complete setup error.
func parseSetupError(line []byte) *SetupError {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	if len(line) == 0 || line[0] != '{' {
		return nil
	}
	var se SetupError
	if err := json.Unmarshal(line, &se); err != nil {
		return nil //nolint:nilerr // ordinary output that happens to start with a brace
	}
	if se.Code == "" || se.Message == "" {
		return nil
	}
	return &se
}
