package tool

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BakeLens/shellgate/internal/permission"
	"github.com/BakeLens/shellgate/internal/process"
)

// assemble turns a process result into what the agent sees: output capped
// with a note when anything was cut, sandbox report lines from the cut part,
// notes for timeout and cancellation, then the sandbox's violation report.
func (t *Tool) assemble(in Input, cc permission.CallContext, res *process.Result, timeout time.Duration) *Output {
	raw := res.Output
	total := res.TotalBytes
	if total < int64(len(raw)) {
		total = int64(len(raw))
	}
	truncated := res.Truncated || len(raw) > t.opts.MaxOutput
	output := capOutput(raw, t.opts.MaxOutput)

	var notes []string
	if truncated {
		notes = append(notes, fmt.Sprintf("output truncated: showing the first %d of %d bytes", len(output), total))
	}
	// Sandbox report lines from the cut part still reach the annotation.
	if len(res.Kept) > 0 {
		output += "\n" + strings.Join(res.Kept, "\n")
		notes = append(notes, fmt.Sprintf("%d sandbox report line(s) from the cut output are shown after it", len(res.Kept)))
	}
	if res.KeptDropped > 0 {
		notes = append(notes, fmt.Sprintf("%d further sandbox report line(s) were dropped", res.KeptDropped))
	}
	if res.TimedOut {
		notes = append(notes, fmt.Sprintf("command terminated after exceeding the %d ms timeout", timeout.Milliseconds()))
	}
	if res.Aborted {
		notes = append(notes, "command aborted before it finished")
	}
	if len(notes) > 0 {
		output += "\n\n<shell_metadata>\n" + strings.Join(notes, "\n") + "\n</shell_metadata>"
	}

	output = t.annotate(in.Command, output, cc)

	return &Output{
		Title:  in.Command,
		Output: output,
		Metadata: Metadata{
			Output:      output,
			Exit:        res.ExitCode,
			Description: in.Description,
			Truncated:   truncated,
			OutputBytes: total,
			TimedOut:    res.TimedOut,
			Aborted:     res.Aborted,
			KillSignal:  res.KillSignal,
		},
	}
}

// capOutput returns at most max bytes of s without splitting a UTF-8
// sequence.
func capOutput(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
