//go:build unix

package tool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BakeLens/shellgate/internal/permission"
	"github.com/BakeLens/shellgate/internal/rules"
	"github.com/BakeLens/shellgate/internal/sandbox"
	"github.com/BakeLens/shellgate/internal/telemetry"
	"github.com/BakeLens/shellgate/internal/types"
)

var testCall = permission.CallContext{SessionID: "ses_1", MessageID: "msg_1", CallID: "call_1"}

func TestExecute_DenyBlocksWholeCommand(t *testing.T) {
	f := newFixture(t, rules.TierConfig{Deny: rules.StringOrArray{"rm *"}}, nil)

	in := Input{Command: "echo hello && rm -rf /etc", Timeout: intPtr(1000), Description: "test"}
	out, err := f.tool.Execute(context.Background(), in, testCall, nil)

	var denied *permission.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("error = %v, want *DeniedError", err)
	}
	if !strings.Contains(err.Error(), "rm -rf /etc") {
		t.Errorf("error %q does not name the offending command", err)
	}
	if out != nil {
		t.Error("denied command produced output")
	}
	if f.approver.count() != 0 {
		t.Error("approval requested for a denied command")
	}

	row := f.audit.last(t)
	if row.Outcome != telemetry.OutcomeDenied || row.Rule != "rm *" || row.SessionID != "ses_1" {
		t.Errorf("audit row = %+v", row)
	}
}

func TestExecute_DeniedNeverSpawns(t *testing.T) {
	f := newFixture(t, rules.TierConfig{Allow: rules.StringOrArray{"touch *"}, Deny: rules.StringOrArray{"rm *"}}, nil)
	marker := filepath.Join(f.root, "marker")

	_, err := f.tool.Execute(context.Background(), Input{Command: "touch " + marker + " && rm -rf /etc"}, testCall, nil)
	if err == nil {
		t.Fatal("expected denial")
	}
	if _, statErr := os.Stat(marker); !os.IsNotExist(statErr) {
		t.Error("first invocation ran even though a later one was denied")
	}
}

func TestExecute_LookAlikeQuoteCannotHideCommand(t *testing.T) {
	f := newFixture(t, rules.TierConfig{Allow: rules.StringOrArray{"echo *"}, Deny: rules.StringOrArray{"rm *"}}, nil)
	victim := filepath.Join(f.root, "victim")
	if err := os.WriteFile(victim, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	// U+FF02 folds to '"' when normalized, but the shell splits on the ';'.
	cmd := "echo \uff02; rm -f " + victim + " \uff02"
	_, err := f.tool.Execute(context.Background(), Input{Command: cmd}, testCall, nil)
	var denied *permission.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("error = %v, want *DeniedError", err)
	}
	if f.approver.count() != 0 {
		t.Errorf("asked %d times for a denied command", f.approver.count())
	}
	if _, err := os.Stat(victim); err != nil {
		t.Errorf("victim file: %v", err)
	}
}

func TestExecute_AskOnceRuns(t *testing.T) {
	f := newFixture(t, rules.TierConfig{}, nil)
	if err := os.WriteFile(filepath.Join(f.root, "hello.txt"), []byte("hi"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := f.tool.Execute(context.Background(), Input{Command: "ls -la", Timeout: intPtr(1000)}, testCall, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(f.approver.requests) != 1 {
		t.Fatalf("got %d approval requests, want 1", len(f.approver.requests))
	}
	req := f.approver.requests[0]
	if req.Kind != types.KindBash || !reflect.DeepEqual(req.Patterns, []string{"ls *"}) {
		t.Errorf("request = %+v, want bash [ls *]", req)
	}
	if req.CallContext != testCall {
		t.Errorf("request call context = %+v", req.CallContext)
	}

	if out.Metadata.Exit == nil || *out.Metadata.Exit != 0 {
		t.Errorf("exit = %v, want 0", out.Metadata.Exit)
	}
	if !strings.Contains(out.Output, "hello.txt") {
		t.Errorf("output is not a listing of the project root:\n%s", out.Output)
	}
	if out.Title != "ls -la" {
		t.Errorf("Title = %q, want the command", out.Title)
	}

	row := f.audit.last(t)
	if row.Outcome != telemetry.OutcomeExited || row.ExitCode == nil || *row.ExitCode != 0 {
		t.Errorf("audit row = %+v", row)
	}
}

func TestExecute_AllowedNeverAsks(t *testing.T) {
	f := newFixture(t, rules.TierConfig{Allow: rules.StringOrArray{"echo *", "true *"}}, nil)

	out, err := f.tool.Execute(context.Background(), Input{Command: "echo one; true | echo two", Description: "print"}, testCall, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if f.approver.count() != 0 {
		t.Errorf("allowed command asked %d times", f.approver.count())
	}
	if out.Title != "echo one; true | echo two" || out.Metadata.Description != "print" {
		t.Errorf("title/description = %q/%q", out.Title, out.Metadata.Description)
	}
}

func TestExecute_Rejected(t *testing.T) {
	f := newFixture(t, rules.TierConfig{}, nil)
	f.approver.reply = permission.Reply{Response: types.ResponseReject, Message: "not now"}

	_, err := f.tool.Execute(context.Background(), Input{Command: "make deploy"}, testCall, nil)
	var rejected *permission.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("error = %v, want *RejectedError", err)
	}
	if !strings.Contains(err.Error(), "not now") {
		t.Errorf("rejection message lost: %v", err)
	}
	if row := f.audit.last(t); row.Outcome != telemetry.OutcomeRejected {
		t.Errorf("audit outcome = %s", row.Outcome)
	}
}

func TestExecute_CancelDuringApproval(t *testing.T) {
	f := newFixture(t, rules.TierConfig{}, func(o *Options) {
		o.Gate = permission.NewGate(permission.ApproverFunc(func(ctx context.Context, _ permission.Request) (permission.Reply, error) {
			<-ctx.Done()
			return permission.Reply{}, ctx.Err()
		}))
	})

	marker := filepath.Join(f.root, "marker")
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := f.tool.Execute(ctx, Input{Command: "sh -c 'echo x > " + marker + "'"}, testCall, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if _, statErr := os.Stat(marker); !os.IsNotExist(statErr) {
		t.Error("command ran after the approval was cancelled")
	}
	if row := f.audit.last(t); row.Outcome != telemetry.OutcomeRejected {
		t.Errorf("audit outcome = %s, want rejected", row.Outcome)
	}
}

func TestExecute_Obfuscation(t *testing.T) {
	f := newFixture(t, rules.TierConfig{Allow: rules.StringOrArray{"*"}}, nil)
	_, err := f.tool.Execute(context.Background(), Input{Command: "echo \u202e hi"}, testCall, nil)
	var obf *rules.ObfuscationError
	if !errors.As(err, &obf) {
		t.Fatalf("error = %v, want *ObfuscationError", err)
	}
}

func TestExecute_ParseError(t *testing.T) {
	f := newFixture(t, rules.TierConfig{Allow: rules.StringOrArray{"*"}}, nil)
	_, err := f.tool.Execute(context.Background(), Input{Command: "echo 'unterminated"}, testCall, nil)
	var perr *rules.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *ParseError", err)
	}
}

func TestExecute_Timeout(t *testing.T) {
	f := newFixture(t, rules.TierConfig{Allow: rules.StringOrArray{"sleep *"}}, nil)

	start := time.Now()
	out, err := f.tool.Execute(context.Background(), Input{Command: "sleep 5", Timeout: intPtr(50)}, testCall, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("timeout took %s", time.Since(start))
	}
	m := out.Metadata
	if !m.TimedOut || m.Aborted {
		t.Errorf("TimedOut/Aborted = %v/%v", m.TimedOut, m.Aborted)
	}
	if m.KillSignal == "" {
		t.Error("no kill signal recorded")
	}
	if !strings.Contains(out.Output, "50 ms timeout") {
		t.Errorf("output lacks the timeout note:\n%s", out.Output)
	}
	if row := f.audit.last(t); row.Outcome != telemetry.OutcomeTimedOut {
		t.Errorf("audit outcome = %s", row.Outcome)
	}
}

func TestExecute_AbortWhileRunning(t *testing.T) {
	f := newFixture(t, rules.TierConfig{Allow: rules.StringOrArray{"sleep *"}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	out, err := f.tool.Execute(ctx, Input{Command: "sleep 5"}, testCall, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Metadata.Aborted || out.Metadata.TimedOut {
		t.Errorf("Aborted/TimedOut = %v/%v", out.Metadata.Aborted, out.Metadata.TimedOut)
	}
	if !strings.Contains(out.Output, "aborted") {
		t.Errorf("output lacks the abort note:\n%s", out.Output)
	}
	if row := f.audit.last(t); row.Outcome != telemetry.OutcomeAborted {
		t.Errorf("audit outcome = %s", row.Outcome)
	}
}

func TestExecute_Truncation(t *testing.T) {
	f := newFixture(t, rules.TierConfig{Allow: rules.StringOrArray{"*"}}, func(o *Options) { o.MaxOutput = 100 })

	out, err := f.tool.Execute(context.Background(), Input{Command: "head -c 550 /dev/zero | tr '\\0' a"}, testCall, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	m := out.Metadata
	if !m.Truncated {
		t.Error("Truncated = false")
	}
	if m.OutputBytes != 550 {
		t.Errorf("OutputBytes = %d, want 550", m.OutputBytes)
	}
	if !strings.HasPrefix(out.Output, strings.Repeat("a", 100)+"\n\n<shell_metadata>") {
		t.Errorf("output = %q", out.Output)
	}
	if !strings.Contains(out.Output, "first 100 of 550 bytes") {
		t.Errorf("truncation note missing:\n%s", out.Output)
	}
}

func TestExecute_Progress(t *testing.T) {
	f := newFixture(t, rules.TierConfig{Allow: rules.StringOrArray{"echo *"}}, nil)

	var (
		mu   sync.Mutex
		seen []string
	)
	_, err := f.tool.Execute(context.Background(), Input{Command: "echo live", Description: "d"}, testCall, func(m Metadata) {
		mu.Lock()
		seen = append(seen, m.Output)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 || !strings.Contains(seen[len(seen)-1], "live") {
		t.Errorf("progress = %q", seen)
	}
}

func TestExecute_SandboxWrapsAndAnnotates(t *testing.T) {
	sb := &recordingSandbox{}
	f := newFixture(t, rules.TierConfig{Allow: rules.StringOrArray{"echo *"}}, func(o *Options) { o.Sandbox = sb })

	out, err := f.tool.Execute(context.Background(), Input{Command: "echo inside"}, testCall, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.Output, "[wrapped]\ninside") {
		t.Errorf("command was not wrapped:\n%s", out.Output)
	}
	if !strings.HasSuffix(out.Output, "[annotated]") {
		t.Errorf("output was not annotated:\n%s", out.Output)
	}
	if len(sb.wrapCtx) != 1 || sb.wrapCtx[0].SessionID != "ses_1" || sb.wrapCtx[0].ProjectRoot != f.root {
		t.Errorf("wrap context = %+v", sb.wrapCtx)
	}
	if sb.ctx != (sandbox.Context{}) || sb.cleared == 0 {
		t.Errorf("context not cleared after execution: %+v", sb.ctx)
	}
}

func TestExecute_TrustedSkipsWrapper(t *testing.T) {
	tests := []struct {
		name   string
		policy rules.TierConfig
		opts   func(*Options)
	}{
		{"operator trusted", rules.TierConfig{Allow: rules.StringOrArray{"echo *"}}, func(o *Options) { o.TrustedCommands = []string{"echo *"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := &recordingSandbox{}
			f := newFixture(t, tt.policy, func(o *Options) {
				o.Sandbox = sb
				tt.opts(o)
			})
			out, err := f.tool.Execute(context.Background(), Input{Command: "echo plain"}, testCall, nil)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if len(sb.wrapCtx) != 0 {
				t.Error("trusted command was wrapped")
			}
			if !strings.HasPrefix(out.Output, "plain") {
				t.Errorf("output = %q", out.Output)
			}
		})
	}
}

func TestExecute_PolicyTrustedSkipsWrapper(t *testing.T) {
	sb := &recordingSandbox{}
	root := t.TempDir()
	engine, err := rules.NewTestEngine(rules.PolicyFile{
		Version:         1,
		Bash:            rules.TierConfig{Allow: rules.StringOrArray{"echo *"}},
		TrustedCommands: rules.StringOrArray{"echo *"},
	})
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, rules.TierConfig{}, func(o *Options) {
		o.Policies = engine
		o.Classifier = rules.NewClassifier(rules.NewResolver(root, nil))
		o.Sandbox = sb
	})
	if _, err := f.tool.Execute(context.Background(), Input{Command: "echo plain"}, testCall, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(sb.wrapCtx) != 0 {
		t.Error("policy-trusted command was wrapped")
	}
}

func TestExecute_PinNotConfigured(t *testing.T) {
	f := newFixture(t, rules.TierConfig{Pin: rules.StringOrArray{"git push *"}}, nil)
	_, err := f.tool.Execute(context.Background(), Input{Command: "git push origin main"}, testCall, nil)
	if !errors.Is(err, permission.ErrPinNotConfigured) {
		t.Fatalf("error = %v, want ErrPinNotConfigured", err)
	}
	if f.approver.count() != 0 {
		t.Error("pin request should fail before asking")
	}
}

func TestExecute_SpawnError(t *testing.T) {
	f := newFixture(t, rules.TierConfig{Allow: rules.StringOrArray{"echo *"}}, func(o *Options) {
		o.Runner.Shell = "/nonexistent/shell"
	})
	_, err := f.tool.Execute(context.Background(), Input{Command: "echo hi"}, testCall, nil)
	if err == nil {
		t.Fatal("expected spawn error")
	}
	if row := f.audit.last(t); row.Outcome != telemetry.OutcomeError {
		t.Errorf("audit outcome = %s", row.Outcome)
	}
}

// setupFailSandbox stands in for a wrapper that cannot confine the command.
type setupFailSandbox struct{ sandbox.Nop }

func (setupFailSandbox) WrapCommand(string) (string, error) {
	return `echo '{"error":"enforcement_unavailable","message":"no landlock"}'; exit 125`, nil
}

func TestExecute_SandboxSetupFailure(t *testing.T) {
	f := newFixture(t, rules.TierConfig{Allow: rules.StringOrArray{"echo *"}}, func(o *Options) {
		o.Sandbox = setupFailSandbox{}
	})
	_, err := f.tool.Execute(context.Background(), Input{Command: "echo inside"}, testCall, nil)
	var se *sandbox.SetupError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *sandbox.SetupError", err)
	}
	if se.Code != sandbox.ErrEnforcementUnavailable {
		t.Errorf("code = %s", se.Code)
	}
	if row := f.audit.last(t); row.Outcome != telemetry.OutcomeError {
		t.Errorf("audit outcome = %s", row.Outcome)
	}
}

func TestExecute_UnwrappedExit125IsOrdinary(t *testing.T) {
	f := newFixture(t, rules.TierConfig{Allow: rules.StringOrArray{"printf *", "sh *"}}, nil)
	cmd := `printf '%s\n' '{"error":"exec_failed","message":"x"}'; sh -c 'exit 125'`
	out, err := f.tool.Execute(context.Background(), Input{Command: cmd}, testCall, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Metadata.Exit == nil || *out.Metadata.Exit != 125 {
		t.Errorf("exit = %v, want 125", out.Metadata.Exit)
	}
}

func TestExecute_ViolationsPastOutputCap(t *testing.T) {
	p, err := sandbox.NewPrefix(sandbox.PrefixConfig{Argv: []string{"env"}})
	if err != nil {
		t.Skipf("env not usable as wrapper: %v", err)
	}
	f := newFixture(t, rules.TierConfig{Allow: rules.StringOrArray{"*"}}, func(o *Options) { o.Sandbox = p })

	cmd := `head -c 5000 /dev/zero | tr '\0' a; echo; echo 'sandbox: denied write /etc/passwd'`
	out, err := f.tool.Execute(context.Background(), Input{Command: cmd}, testCall, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Metadata.Truncated {
		t.Error("Truncated = false")
	}
	if !strings.Contains(out.Output, "<sandbox_violations>\nsandbox: denied write /etc/passwd\n</sandbox_violations>") {
		t.Errorf("violation past the cap was lost:\n%s", out.Output)
	}
}

func TestExecute_SetupFailurePastOutputCap(t *testing.T) {
	f := newFixture(t, rules.TierConfig{Allow: rules.StringOrArray{"echo *"}}, func(o *Options) {
		o.Sandbox = noisySetupFailSandbox{}
	})
	_, err := f.tool.Execute(context.Background(), Input{Command: "echo inside"}, testCall, nil)
	var se *sandbox.SetupError
	if !errors.As(err, &se) || se.Code != sandbox.ErrExecFailed {
		t.Fatalf("error = %v, want exec_failed *sandbox.SetupError", err)
	}
}

// noisySetupFailSandbox fails setup after printing more than the output cap.
type noisySetupFailSandbox struct{ sandbox.Nop }

func (noisySetupFailSandbox) WrapCommand(string) (string, error) {
	return `head -c 3000 /dev/zero | tr '\0' a; echo; echo '{"error":"exec_failed","message":"no such binary"}'; exit 125`, nil
}
