package sandbox

import (
	"github.com/BakeLens/shellgate/internal/logger"
)

var log = logger.New("sandbox")

// Context scopes one execution. It is set before the command is wrapped and
// cleared after its output has been annotated.
type Context struct {
	SessionID   string
	CallID      string
	ProjectRoot string
}

// Sandbox rewrites cleared commands for confined execution and reports what
// the confinement blocked.
type Sandbox interface {
	SetContext(ctx Context)
	ClearContext()
	// WrapCommand returns the shell text that runs command under confinement.
	WrapCommand(command string) (string, error)
	// AnnotateOutput appends confinement violations found in output.
	AnnotateOutput(command, output string) string
}

// LineReporter is implemented by sandboxes that report through output
// lines. Lines it selects must survive output truncation so that
// AnnotateOutput can still see them.
type LineReporter interface {
	ReportsLine(line string) bool
}

// Nop runs commands unconfined.
type Nop struct{}

func (Nop) SetContext(Context) {}
func (Nop) ClearContext()      {}

func (Nop) WrapCommand(command string) (string, error) { return command, nil }

func (Nop) AnnotateOutput(_, output string) string { return output }

var _ Sandbox = Nop{}
