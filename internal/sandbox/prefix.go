package sandbox

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"mvdan.cc/sh/v3/syntax"
)

// DefaultViolationMarker starts every line a wrapper prints for a blocked
// operation.
const DefaultViolationMarker = "sandbox: denied"

// Prefix confines commands by running them under an external wrapper
// program, e.g. bwrap or sandbox-exec. The wrapper argv may reference
// {root}, {session} and {call}, which are filled from the current Context.
type Prefix struct {
	argv   []string
	shell  string
	marker string

	mu  sync.Mutex
	ctx Context
}

// PrefixConfig configures a Prefix sandbox.
type PrefixConfig struct {
	Argv   []string
	Shell  string
	Marker string
}

// NewPrefix validates the wrapper binary and returns a Prefix sandbox.
func NewPrefix(cfg PrefixConfig) (*Prefix, error) {
	if len(cfg.Argv) == 0 {
		return nil, errors.New("sandbox wrapper argv is empty")
	}
	bin, err := resolveWrapper(cfg.Argv[0])
	if err != nil {
		return nil, err
	}
	argv := append([]string{bin}, cfg.Argv[1:]...)
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.Marker == "" {
		cfg.Marker = DefaultViolationMarker
	}
	log.Debug("wrapper %s", strings.Join(argv, " "))
	return &Prefix{argv: argv, shell: cfg.Shell, marker: cfg.Marker}, nil
}

// SetContext implements Sandbox.
func (p *Prefix) SetContext(ctx Context) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()
}

// ClearContext implements Sandbox.
func (p *Prefix) ClearContext() {
	p.mu.Lock()
	p.ctx = Context{}
	p.mu.Unlock()
}

// WrapCommand implements Sandbox. The result is shell text of the form
// wrapper args... shell -c 'command'.
func (p *Prefix) WrapCommand(command string) (string, error) {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()

	repl := strings.NewReplacer(
		"{root}", ctx.ProjectRoot,
		"{session}", ctx.SessionID,
		"{call}", ctx.CallID,
	)
	words := make([]string, 0, len(p.argv)+3)
	for _, arg := range p.argv {
		words = append(words, repl.Replace(arg))
	}
	words = append(words, p.shell, "-c", command)

	quoted := make([]string, len(words))
	for i, w := range words {
		q, err := syntax.Quote(w, syntax.LangBash)
		if err != nil {
			return "", fmt.Errorf("quote wrapper argument %d: %w", i, err)
		}
		quoted[i] = q
	}
	return strings.Join(quoted, " "), nil
}

// AnnotateOutput implements Sandbox. Lines carrying the violation marker are
// collected into a trailing <sandbox_violations> block. A structured setup
// error on the last line is reported in place of the raw JSON.
func (p *Prefix) AnnotateOutput(command, output string) string {
	var violations []string
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), p.marker) {
			violations = append(violations, strings.TrimSpace(line))
		}
	}

	if body, last, ok := cutLastLine(output); ok {
		if se := parseSetupError([]byte(last)); se != nil {
			note := "[sandbox setup failed: " + se.Error() + "]"
			if body != "" {
				note = body + "\n" + note
			}
			output = note
		}
	}

	if len(violations) == 0 {
		return output
	}
	log.Info("%d sandbox violation(s) while running %q", len(violations), command)
	var sb strings.Builder
	sb.WriteString(output)
	sb.WriteString("\n\n<sandbox_violations>\n")
	for _, v := range violations {
		sb.WriteString(v)
		sb.WriteByte('\n')
	}
	sb.WriteString("</sandbox_violations>")
	return sb.String()
}

// ReportsLine implements LineReporter: violation lines and structured setup
// errors.
func (p *Prefix) ReportsLine(line string) bool {
	if strings.HasPrefix(strings.TrimSpace(line), p.marker) {
		return true
	}
	return parseSetupError([]byte(strings.TrimSpace(line))) != nil
}

func cutLastLine(s string) (body, last string, ok bool) {
	s = strings.TrimRight(s, "\r\n")
	if s == "" {
		return "", "", false
	}
	i := strings.LastIndexByte(s, '\n')
	if i < 0 {
		return "", s, true
	}
	return s[:i], s[i+1:], true
}

// resolveWrapper finds the wrapper binary and refuses one another user could
// have replaced.
func resolveWrapper(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("sandbox wrapper %q: %w", name, err)
	}
	path, err = filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("sandbox wrapper %q: %w", name, err)
	}
	if !trustedBinary(resolved) {
		return "", fmt.Errorf("sandbox wrapper %s is writable by other users or has an untrusted owner", resolved)
	}
	return path, nil
}

var (
	_ Sandbox      = (*Prefix)(nil)
	_ LineReporter = (*Prefix)(nil)
)
