package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BakeLens/shellgate/internal/permission"
	"github.com/BakeLens/shellgate/internal/process"
	"github.com/BakeLens/shellgate/internal/rules"
	"github.com/BakeLens/shellgate/internal/sandbox"
	"github.com/BakeLens/shellgate/internal/telemetry"
	"github.com/BakeLens/shellgate/internal/types"
)

// approvals records every request and answers with reply.
type approvals struct {
	mu       sync.Mutex
	requests []permission.Request
	reply    permission.Reply
}

func (a *approvals) Ask(_ context.Context, req permission.Request) (permission.Reply, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	return a.reply, nil
}

func (a *approvals) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

type auditLog struct {
	mu   sync.Mutex
	rows []telemetry.Execution
}

func (l *auditLog) LogExecution(_ context.Context, e telemetry.Execution) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, e)
	return nil
}

func (l *auditLog) last(t *testing.T) telemetry.Execution {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.rows) == 0 {
		t.Fatal("nothing was audited")
	}
	return l.rows[len(l.rows)-1]
}

// recordingSandbox prefixes a marker and remembers the context it saw.
type recordingSandbox struct {
	mu        sync.Mutex
	ctx       sandbox.Context
	wrapCtx   []sandbox.Context
	annotated int
	cleared   int
}

func (s *recordingSandbox) SetContext(ctx sandbox.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
}

func (s *recordingSandbox) ClearContext() {
	s.mu.Lock()
	s.ctx = sandbox.Context{}
	s.cleared++
	s.mu.Unlock()
}

func (s *recordingSandbox) WrapCommand(command string) (string, error) {
	s.mu.Lock()
	s.wrapCtx = append(s.wrapCtx, s.ctx)
	s.mu.Unlock()
	return "echo '[wrapped]'; " + command, nil
}

func (s *recordingSandbox) AnnotateOutput(_, output string) string {
	s.mu.Lock()
	s.annotated++
	s.mu.Unlock()
	return output + "\n[annotated]"
}

type fixture struct {
	tool     *Tool
	root     string
	approver *approvals
	audit    *auditLog
}

func newFixture(t *testing.T, bash rules.TierConfig, mutate func(*Options)) *fixture {
	t.Helper()
	root := t.TempDir()
	engine, err := rules.NewTestEngine(rules.PolicyFile{Version: 1, Bash: bash})
	if err != nil {
		t.Fatalf("NewTestEngine: %v", err)
	}
	f := &fixture{
		root:     root,
		approver: &approvals{reply: permission.Reply{Response: types.ResponseOnce}},
		audit:    &auditLog{},
	}
	opts := Options{
		Policies:       engine,
		Classifier:     rules.NewClassifier(rules.NewResolver(root, nil)),
		Gate:           permission.NewGate(f.approver),
		Runner:         &process.Runner{Dir: root, Shell: "/bin/sh", Grace: 50 * time.Millisecond},
		Recorder:       f.audit,
		Agent:          "build",
		ProjectRoot:    root,
		DefaultTimeout: 10 * time.Second,
		MaxTimeout:     30 * time.Second,
		MaxOutput:      1000,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.tool, err = New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func intPtr(i int) *int { return &i }

func TestNew_Errors(t *testing.T) {
	engine, _ := rules.NewTestEngine()
	classifier := rules.NewClassifier(rules.NewResolver(t.TempDir(), nil))
	gate := permission.NewGate(nil)

	tests := []struct {
		name string
		opts Options
	}{
		{"missing policies", Options{Classifier: classifier, Gate: gate}},
		{"missing gate", Options{Policies: engine, Classifier: classifier}},
		{"max below default", Options{Policies: engine, Classifier: classifier, Gate: gate,
			DefaultTimeout: time.Minute, MaxTimeout: time.Second}},
		{"bad trusted pattern", Options{Policies: engine, Classifier: classifier, Gate: gate,
			TrustedCommands: []string{"go test [unclosed"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestTimeout(t *testing.T) {
	f := newFixture(t, rules.TierConfig{}, nil)
	tests := []struct {
		name string
		ms   *int
		want time.Duration
	}{
		{"absent", nil, 10 * time.Second},
		{"zero", intPtr(0), 10 * time.Second},
		{"explicit", intPtr(1500), 1500 * time.Millisecond},
		{"clamped", intPtr(10 * 60 * 1000), 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.tool.timeout(tt.ms); got != tt.want {
				t.Errorf("timeout = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestExecute_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want string
	}{
		{"negative timeout", Input{Command: "ls", Timeout: intPtr(-1)}, "timeout must be >= 0"},
		{"missing command", Input{Description: "nothing"}, "command is required"},
		{"blank command", Input{Command: "   "}, "command is empty"},
		{"negative timeout wins over obfuscation", Input{Command: "ls \u202e", Timeout: intPtr(-5)}, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, rules.TierConfig{}, nil)
			out, err := f.tool.Execute(context.Background(), tt.in, permission.CallContext{}, nil)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("error = %v, want ErrInvalidInput", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
			if out != nil {
				t.Error("no output expected on invalid input")
			}
			if f.approver.count() != 0 {
				t.Error("approval requested for invalid input")
			}
			if got := f.audit.last(t).Outcome; got != telemetry.OutcomeError {
				t.Errorf("audit outcome = %s, want error", got)
			}
		})
	}
}

func TestCapOutput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "abc", 10, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"cut", "abcdef", 4, "abcd"},
		{"no split rune", "ab\u00e9cd", 3, "ab"},
		{"unlimited", "abcdef", 0, "abcdef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := capOutput(tt.in, tt.max); got != tt.want {
				t.Errorf("capOutput(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestFailureOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want telemetry.Outcome
		rule string
	}{
		{"denied", &permission.DeniedError{Commands: []string{"rm -rf /"}, Rules: []string{"rm *"}}, telemetry.OutcomeDenied, "rm *"},
		{"rejected", &permission.RejectedError{Kind: types.KindBash, Message: "no"}, telemetry.OutcomeRejected, "no"},
		{"cancelled", fmt.Errorf("bash approval cancelled: %w", context.Canceled), telemetry.OutcomeRejected, ""},
		{"pin", permission.ErrPinNotConfigured, telemetry.OutcomeError, ""},
		{"spawn", &process.SpawnError{Shell: "/nope", Err: errors.New("enoent")}, telemetry.OutcomeError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rule := failureOutcome(tt.err)
			if got != tt.want {
				t.Errorf("outcome = %s, want %s", got, tt.want)
			}
			if tt.rule != "" && rule != tt.rule {
				t.Errorf("rule = %q, want %q", rule, tt.rule)
			}
		})
	}
}
