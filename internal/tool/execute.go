package tool

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BakeLens/shellgate/internal/logger"
	"github.com/BakeLens/shellgate/internal/permission"
	"github.com/BakeLens/shellgate/internal/rules"
	"github.com/BakeLens/shellgate/internal/sandbox"
	"github.com/BakeLens/shellgate/internal/telemetry"
)

// Execute runs one command through the whole gate. Every fatal condition is
// returned as an error, and the command itself never runs; timeouts,
// cancellation of a running process and truncation are reported in the Output
// instead.
// onProgress, when set, receives the output so far while the command runs.
func (t *Tool) Execute(ctx context.Context, in Input, cc permission.CallContext, onProgress func(Metadata)) (*Output, error) {
	start := time.Now()
	audit := telemetry.Execution{
		Agent:       t.opts.Agent,
		SessionID:   cc.SessionID,
		MessageID:   cc.MessageID,
		CallID:      cc.CallID,
		Command:     in.Command,
		Description: in.Description,
	}

	out, err := t.execute(ctx, in, cc, onProgress)
	audit.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		audit.Outcome, audit.Rule = failureOutcome(err)
		log.Info("%s: %v", audit.Outcome, err)
	} else {
		audit.Outcome = resultOutcome(out.Metadata)
		audit.ExitCode = out.Metadata.Exit
		audit.Truncated = out.Metadata.Truncated
		audit.OutputSize = out.Metadata.OutputBytes
		audit.Output = out.Metadata.Output
	}
	// The audit row is written even when ctx was cancelled.
	if rerr := t.opts.Recorder.LogExecution(context.WithoutCancel(ctx), audit); rerr != nil {
		log.Warn("audit log: %v", rerr)
	}
	return out, err
}

func (t *Tool) execute(ctx context.Context, in Input, cc permission.CallContext, onProgress func(Metadata)) (*Output, error) {
	if err := t.validateInput(in); err != nil {
		return nil, err
	}
	timeout := t.timeout(in.Timeout)

	policy := t.opts.Policies.Policy(t.opts.Agent)
	analysis, err := t.opts.Classifier.Analyze(in.Command, policy)
	if err != nil {
		return nil, err
	}
	if logger.Enabled(logger.LevelDebug) {
		for _, d := range analysis.Decisions {
			log.Debug("%s: %s (rule %q)", d.Tier, d.Command, d.Rule)
		}
	}

	if err := t.opts.Gate.Authorize(ctx, analysis.Classification, in.Description, cc); err != nil {
		return nil, err
	}

	command, err := t.wrap(in.Command, analysis.Tree, policy, cc)
	if err != nil {
		return nil, err
	}

	var progress func(string)
	if onProgress != nil {
		progress = func(s string) {
			onProgress(Metadata{Output: capOutput(s, t.opts.MaxOutput), Description: in.Description})
		}
	}

	log.Debug("running %q (timeout %s)", command, timeout)
	res, err := t.opts.Runner.Run(ctx, command, timeout, progress)
	if err == nil && command != in.Command {
		tail := res.Output
		if res.Truncated {
			tail = res.LastLine
		}
		if se := sandbox.SetupFailure(res.ExitCode, tail); se != nil {
			err = se
		}
	}
	if err != nil {
		t.sandboxMu.Lock()
		t.opts.Sandbox.ClearContext()
		t.sandboxMu.Unlock()
		return nil, err
	}

	return t.assemble(in, cc, res, timeout), nil
}

// wrap applies the sandbox transform unless every invocation is trusted.
func (t *Tool) wrap(command string, tree *rules.Tree, policy *rules.Policy, cc permission.CallContext) (string, error) {
	if policy.IsTrusted(tree) || t.trusted.IsTrusted(tree) {
		log.Debug("trusted command, not wrapping")
		return command, nil
	}
	t.sandboxMu.Lock()
	defer t.sandboxMu.Unlock()
	t.opts.Sandbox.SetContext(t.sandboxContext(cc))
	wrapped, err := t.opts.Sandbox.WrapCommand(command)
	if err != nil {
		t.opts.Sandbox.ClearContext()
		return "", err
	}
	return wrapped, nil
}

func (t *Tool) sandboxContext(cc permission.CallContext) sandbox.Context {
	return sandbox.Context{
		SessionID:   cc.SessionID,
		CallID:      cc.CallID,
		ProjectRoot: t.opts.ProjectRoot,
	}
}

// annotate passes output through the sandbox's violation report and closes
// the execution's sandbox context.
func (t *Tool) annotate(command, output string, cc permission.CallContext) string {
	t.sandboxMu.Lock()
	defer t.sandboxMu.Unlock()
	t.opts.Sandbox.SetContext(t.sandboxContext(cc))
	defer t.opts.Sandbox.ClearContext()
	return t.opts.Sandbox.AnnotateOutput(command, output)
}

// failureOutcome maps a pipeline error to its audit outcome and the rule or
// reason worth recording.
func failureOutcome(err error) (telemetry.Outcome, string) {
	var denied *permission.DeniedError
	if errors.As(err, &denied) {
		return telemetry.OutcomeDenied, strings.Join(denied.Rules, ", ")
	}
	var rejected *permission.RejectedError
	if errors.As(err, &rejected) {
		return telemetry.OutcomeRejected, rejected.Message
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return telemetry.OutcomeRejected, err.Error()
	}
	return telemetry.OutcomeError, err.Error()
}

func resultOutcome(m Metadata) telemetry.Outcome {
	switch {
	case m.TimedOut:
		return telemetry.OutcomeTimedOut
	case m.Aborted:
		return telemetry.OutcomeAborted
	}
	return telemetry.OutcomeExited
}
