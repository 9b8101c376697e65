package permission

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BakeLens/shellgate/internal/types"
)

// ErrPinNotConfigured is returned when a pin-tier pattern matches but no PIN
// secret exists. Pin requests are never downgraded to ask.
var ErrPinNotConfigured = errors.New("command matches a pin-tier rule but no PIN is configured (set SHELLGATE_PIN)")

// DeniedError blocks a whole request because at least one invocation matched
// a deny rule.
type DeniedError struct {
	Commands []string // offending invocations, reassembled
	Rules    []string // deny patterns that matched, parallel to Commands
}

func (e *DeniedError) Error() string {
	var sb strings.Builder
	sb.WriteString("command denied by policy: ")
	for i, cmd := range e.Commands {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "`%s`", cmd)
		if i < len(e.Rules) && e.Rules[i] != "" {
			fmt.Fprintf(&sb, " (rule %q)", e.Rules[i])
		}
	}
	sb.WriteString(". It will not be run automatically; if it is really needed, ask the user to run it manually")
	return sb.String()
}

// RejectedError reports an approval request the user turned down.
type RejectedError struct {
	Kind     types.RequestKind
	Patterns []string
	Message  string // optional reason supplied with the rejection
}

func (e *RejectedError) Error() string {
	msg := fmt.Sprintf("permission rejected for %s: %s", e.Kind, strings.Join(e.Patterns, ", "))
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}
