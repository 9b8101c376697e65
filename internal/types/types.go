// Package types defines common type-safe enums used across the codebase.
package types

import "fmt"

// Tier is the risk tier a policy assigns to one command invocation.
type Tier string

const (
	// TierAllow runs the invocation without asking.
	TierAllow Tier = "allow"
	// TierAsk requires an approval from the operator.
	TierAsk Tier = "ask"
	// TierPin requires an approval confirmed with the configured PIN.
	TierPin Tier = "pin"
	// TierDeny blocks the whole request.
	TierDeny Tier = "deny"
)

// Tiers lists every tier from lowest to highest precedence.
var Tiers = []Tier{TierAllow, TierAsk, TierPin, TierDeny}

// Valid returns true if the Tier is a known valid value.
func (t Tier) Valid() bool {
	switch t {
	case TierAllow, TierAsk, TierPin, TierDeny:
		return true
	}
	return false
}

// Rank orders tiers by precedence: deny > pin > ask > allow.
func (t Tier) Rank() int {
	switch t {
	case TierAllow:
		return 1
	case TierAsk:
		return 2
	case TierPin:
		return 3
	case TierDeny:
		return 4
	}
	return 0
}

// Max returns the tier with the higher precedence.
func (t Tier) Max(other Tier) Tier {
	if other.Rank() > t.Rank() {
		return other
	}
	return t
}

// NeedsApproval reports whether the tier requires an approval request.
func (t Tier) NeedsApproval() bool {
	return t == TierAsk || t == TierPin
}

// ProcessState is the lifecycle state of a supervised process.
type ProcessState int32

const (
	StatePending ProcessState = iota
	StateRunning
	StateExited
	StateTimedOut
	StateAborted
)

// Terminal returns true once the state can no longer change.
func (s ProcessState) Terminal() bool {
	return s == StateExited || s == StateTimedOut || s == StateAborted
}

func (s ProcessState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateTimedOut:
		return "timed_out"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("ProcessState(%d)", int32(s))
}

// RequestKind tags an approval request.
type RequestKind string

const (
	// KindBash asks to run invocations matching ask-tier patterns.
	KindBash RequestKind = "bash"
	// KindPin asks to run invocations matching pin-tier patterns.
	KindPin RequestKind = "pin"
	// KindExternalDirectory asks to touch directories outside the project root.
	KindExternalDirectory RequestKind = "external_directory"
)

// Valid returns true if the RequestKind is a known valid value.
func (k RequestKind) Valid() bool {
	return k == KindBash || k == KindPin || k == KindExternalDirectory
}

// Response is the approval collaborator's answer.
type Response string

const (
	ResponseOnce   Response = "once"
	ResponseAlways Response = "always"
	ResponseReject Response = "reject"
)

// Approves returns true for responses that authorize the invocation.
func (r Response) Approves() bool {
	return r == ResponseOnce || r == ResponseAlways
}

// LogLevel represents a logging verbosity level.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Valid returns true if the LogLevel is a known valid value.
func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}
