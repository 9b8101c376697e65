// Package telemetry keeps an audit log of every command that went through
// the gate, including the ones that never ran.
package telemetry

import (
	"context"
	"time"
)

// Outcome is how a request ended.
type Outcome string

// Request outcomes
const (
	OutcomeDenied   Outcome = "denied"    // a deny rule matched
	OutcomeRejected Outcome = "rejected"  // an approval was refused or cancelled
	OutcomeError    Outcome = "error"     // invalid input, obfuscation, parse or spawn failure
	OutcomeExited   Outcome = "exited"    // the process ran to completion
	OutcomeTimedOut Outcome = "timed_out" // the process was killed by the timeout
	OutcomeAborted  Outcome = "aborted"   // the process was killed by cancellation
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeDenied, OutcomeRejected, OutcomeError, OutcomeExited, OutcomeTimedOut, OutcomeAborted:
		return true
	}
	return false
}

// Execution is one audited request.
type Execution struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Agent       string    `json:"agent,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	MessageID   string    `json:"message_id,omitempty"`
	CallID      string    `json:"call_id,omitempty"`
	Command     string    `json:"command"`
	Description string    `json:"description,omitempty"`
	Outcome     Outcome   `json:"outcome"`
	// Rule is the deny pattern or error text that stopped the request.
	Rule       string `json:"rule,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Truncated  bool   `json:"truncated"`
	OutputSize int64  `json:"output_size"`
	Output     string `json:"output,omitempty"`
}

// Recorder receives audited requests.
type Recorder interface {
	LogExecution(ctx context.Context, e Execution) error
}

// Discard is a Recorder that drops everything.
type Discard struct{}

// LogExecution implements Recorder.
func (Discard) LogExecution(context.Context, Execution) error { return nil }

var (
	_ Recorder = Discard{}
	_ Recorder = (*Storage)(nil)
)
