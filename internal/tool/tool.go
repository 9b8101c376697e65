// Package tool is the entry point agents call to run a shell command. It
// chains the sanitizer, parser, classifier, permission gate, sandbox and
// process supervisor, and assembles the result the agent sees.
package tool

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/BakeLens/shellgate/internal/logger"
	"github.com/BakeLens/shellgate/internal/permission"
	"github.com/BakeLens/shellgate/internal/process"
	"github.com/BakeLens/shellgate/internal/rules"
	"github.com/BakeLens/shellgate/internal/sandbox"
	"github.com/BakeLens/shellgate/internal/telemetry"
)

var log = logger.New("tool")

// Defaults applied when Options leaves a limit unset.
const (
	DefaultTimeout   = 2 * time.Minute
	DefaultMaxOutput = 30000
)

// ErrInvalidInput is wrapped by every input validation failure.
var ErrInvalidInput = errors.New("invalid input")

// Input is what the agent sends.
type Input struct {
	Command string `json:"command" validate:"required"`
	// Timeout in milliseconds. Absent or zero uses the default.
	Timeout     *int   `json:"timeout,omitempty" validate:"omitempty,min=0"`
	Description string `json:"description"`
}

// Metadata is the structured part of the result.
type Metadata struct {
	Output      string `json:"output"`
	Exit        *int   `json:"exit"`
	Description string `json:"description"`
	Truncated   bool   `json:"truncated"`
	// OutputBytes is how much the command wrote, before any truncation.
	OutputBytes int64  `json:"output_bytes"`
	TimedOut    bool   `json:"timed_out"`
	Aborted     bool   `json:"aborted"`
	KillSignal  string `json:"kill_signal,omitempty"`
}

// Output is what the agent gets back.
type Output struct {
	Title    string   `json:"title"`
	Output   string   `json:"output"`
	Metadata Metadata `json:"metadata"`
}

// PolicySource hands out the current policy for an agent.
type PolicySource interface {
	Policy(agent string) *rules.Policy
}

// Options wires a Tool.
type Options struct {
	Policies   PolicySource
	Classifier *rules.Classifier
	Gate       *permission.Gate
	Runner     *process.Runner
	Sandbox    sandbox.Sandbox    // nil runs unconfined
	Recorder   telemetry.Recorder // nil keeps no audit log

	Agent          string
	ProjectRoot    string
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration // 0 means no cap
	MaxOutput      int           // characters of output returned to the agent
	// TrustedCommands skip the sandbox wrapper in addition to the policy's
	// own trusted_commands.
	TrustedCommands []string
}

// Tool runs shell commands on behalf of an agent.
type Tool struct {
	opts     Options
	trusted  *rules.Policy
	validate *validator.Validate

	// sandboxMu brackets SetContext/WrapCommand and
	// SetContext/AnnotateOutput/ClearContext so concurrent calls do not see
	// each other's context.
	sandboxMu sync.Mutex
}

// New validates opts and returns a Tool.
func New(opts Options) (*Tool, error) {
	if opts.Policies == nil || opts.Classifier == nil || opts.Gate == nil {
		return nil, errors.New("tool: policies, classifier and gate are required")
	}
	if opts.Runner == nil {
		opts.Runner = &process.Runner{Dir: opts.ProjectRoot}
	}
	if opts.Sandbox == nil {
		opts.Sandbox = sandbox.Nop{}
	}
	if opts.Recorder == nil {
		opts.Recorder = telemetry.Discard{}
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.MaxTimeout > 0 && opts.MaxTimeout < opts.DefaultTimeout {
		return nil, fmt.Errorf("tool: max timeout %s is below default %s", opts.MaxTimeout, opts.DefaultTimeout)
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = DefaultMaxOutput
	}

	// The runner holds no more than the agent sees, and keeps the sandbox's
	// report lines from the part it cuts.
	runner := *opts.Runner
	if runner.MaxOutput <= 0 || runner.MaxOutput > opts.MaxOutput {
		runner.MaxOutput = opts.MaxOutput
	}
	if lr, ok := opts.Sandbox.(sandbox.LineReporter); ok && runner.Keep == nil {
		runner.Keep = lr.ReportsLine
	}
	opts.Runner = &runner

	trusted := &rules.Policy{Agent: opts.Agent}
	for _, raw := range opts.TrustedCommands {
		p, err := rules.CompilePattern(raw)
		if err != nil {
			return nil, fmt.Errorf("tool: trusted command %q: %w", raw, err)
		}
		trusted.Trusted = append(trusted.Trusted, p)
	}

	return &Tool{
		opts:     opts,
		trusted:  trusted,
		validate: validator.New(),
	}, nil
}

// timeout resolves the requested timeout against the configured default and
// cap.
func (t *Tool) timeout(ms *int) time.Duration {
	d := t.opts.DefaultTimeout
	if ms != nil && *ms > 0 {
		d = time.Duration(*ms) * time.Millisecond
	}
	if t.opts.MaxTimeout > 0 && d > t.opts.MaxTimeout {
		log.Debug("timeout %s clamped to %s", d, t.opts.MaxTimeout)
		d = t.opts.MaxTimeout
	}
	return d
}

func (t *Tool) validateInput(in Input) error {
	if err := t.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if strings.TrimSpace(in.Command) == "" {
		return fmt.Errorf("%w: command is empty", ErrInvalidInput)
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
