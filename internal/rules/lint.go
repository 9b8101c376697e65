package rules

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BakeLens/shellgate/internal/tui"
	"github.com/BakeLens/shellgate/internal/types"
	"gopkg.in/yaml.v3"
)

// LintSeverity represents the severity of a lint issue.
type LintSeverity string

// Lint severity levels
const (
	LintError   LintSeverity = "error"
	LintWarning LintSeverity = "warning"
	LintInfo    LintSeverity = "info"
)

// LintIssue represents a problem found in a policy file.
type LintIssue struct {
	File     string       `json:"file"`
	Field    string       `json:"field"`
	Pattern  string       `json:"pattern,omitempty"`
	Severity LintSeverity `json:"severity"`
	Message  string       `json:"message"`
}

// LintResult contains all issues found during linting.
type LintResult struct {
	Issues []LintIssue `json:"issues"`
	Errors int         `json:"errors"`
	Warns  int         `json:"warnings"`
}

func (r *LintResult) add(issue LintIssue) {
	r.Issues = append(r.Issues, issue)
	switch issue.Severity {
	case LintError:
		r.Errors++
	case LintWarning:
		r.Warns++
	case LintInfo:
		// info items don't increment counters
	}
}

func (r *LintResult) merge(other LintResult) {
	for _, issue := range other.Issues {
		r.add(issue)
	}
}

// Linter checks policy files for mistakes that make rules ineffective or
// broader than intended.
type Linter struct{}

// NewLinter creates a new policy linter.
func NewLinter() *Linter {
	return &Linter{}
}

// LintFile lints one policy file from disk. Compile errors are reported as
// issues rather than returned, so every broken pattern shows up at once.
func (l *Linter) LintFile(path string) (LintResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LintResult{}, fmt.Errorf("failed to read file: %w", err)
	}
	return l.LintYAML(data, path)
}

// LintYAML lints policy YAML content.
func (l *Linter) LintYAML(data []byte, name string) (LintResult, error) {
	var f PolicyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return LintResult{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return l.LintPolicyFile(f, name), nil
}

// LintPolicyFile lints a decoded policy file.
func (l *Linter) LintPolicyFile(f PolicyFile, name string) LintResult {
	var res LintResult

	if f.Version != PolicyFileVersion {
		res.add(LintIssue{File: name, Field: "version", Severity: LintError,
			Message: fmt.Sprintf("unsupported version %d (expected %d)", f.Version, PolicyFileVersion)})
	}

	type entry struct {
		tier    types.Tier
		field   string
		pattern Pattern
	}
	var (
		compiled []entry
		firstAt  = map[string]entry{}
		total    int
	)

	for _, tier := range types.Tiers {
		for i, raw := range f.Bash.Patterns(tier) {
			total++
			field := fmt.Sprintf("bash.%s[%d]", tier, i)
			p, err := CompilePattern(raw)
			if err != nil {
				res.add(LintIssue{File: name, Field: field, Pattern: raw, Severity: LintError, Message: err.Error()})
				continue
			}
			e := entry{tier: tier, field: field, pattern: p}

			if prev, ok := firstAt[p.String()]; ok {
				if prev.tier == tier {
					res.add(LintIssue{File: name, Field: field, Pattern: raw, Severity: LintWarning,
						Message: "duplicate of " + prev.field})
				} else {
					res.add(LintIssue{File: name, Field: field, Pattern: raw, Severity: LintWarning,
						Message: fmt.Sprintf("also listed as %s in %s; %s wins", prev.tier, prev.field, prev.tier.Max(tier))})
				}
				continue
			}
			firstAt[p.String()] = e
			compiled = append(compiled, e)

			if strings.HasPrefix(p.String(), "$") {
				res.add(LintIssue{File: name, Field: field, Pattern: raw, Severity: LintInfo,
					Message: "heads are matched literally; \"$\" is not expanded"})
			}
		}
	}

	// A rule is dead when a rule of higher precedence matches everything it does.
	for _, e := range compiled {
		if e.pattern.String() == "*" && e.tier == types.TierAllow {
			res.add(LintIssue{File: name, Field: e.field, Pattern: "*", Severity: LintWarning,
				Message: "allows every command that no other rule catches"})
		}
		for _, other := range compiled {
			if other.tier.Rank() <= e.tier.Rank() || other.pattern.String() == e.pattern.String() {
				continue
			}
			if other.pattern.Covers(e.pattern) {
				res.add(LintIssue{File: name, Field: e.field, Pattern: e.pattern.String(), Severity: LintWarning,
					Message: fmt.Sprintf("never takes effect: %s pattern %q in %s covers it", other.tier, other.pattern, other.field)})
				break
			}
		}
	}

	for i, raw := range f.TrustedCommands {
		field := fmt.Sprintf("trusted_commands[%d]", i)
		p, err := CompilePattern(raw)
		if err != nil {
			res.add(LintIssue{File: name, Field: field, Pattern: raw, Severity: LintError, Message: err.Error()})
			continue
		}
		if p.String() == "*" {
			res.add(LintIssue{File: name, Field: field, Pattern: raw, Severity: LintWarning,
				Message: "every command bypasses the sandbox"})
		}
	}

	for i, ws := range f.Workspaces {
		if ws == "/" {
			res.add(LintIssue{File: name, Field: fmt.Sprintf("workspaces[%d]", i), Pattern: ws, Severity: LintWarning,
				Message: "the filesystem root as a workspace disables external directory checks"})
		}
	}

	if total == 0 && len(f.TrustedCommands) == 0 && len(f.Workspaces) == 0 {
		res.add(LintIssue{File: name, Field: "bash", Severity: LintInfo, Message: "policy file has no rules"})
	}
	return res
}

// LintBuiltin lints the builtin policy files.
func (l *Linter) LintBuiltin() (LintResult, error) {
	var res LintResult
	paths, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return res, fmt.Errorf("failed to read builtin policy: %w", err)
	}
	for _, d := range paths {
		if d.IsDir() || !isPolicyFile(d.Name()) {
			continue
		}
		path := "builtin/" + d.Name()
		data, err := builtinFS.ReadFile(path)
		if err != nil {
			return res, err
		}
		r, err := l.LintYAML(data, path)
		if err != nil {
			return res, fmt.Errorf("%s: %w", path, err)
		}
		res.merge(r)
	}
	return res, nil
}

// LintDir lints every policy file in dir.
func (l *Linter) LintDir(dir string) (LintResult, error) {
	var res LintResult
	names, err := NewLoader(dir).ListUserFiles()
	if err != nil {
		return res, err
	}
	for _, name := range names {
		path := filepath.Join(dir, name)
		r, err := l.LintFile(path)
		if err != nil {
			res.add(LintIssue{File: path, Field: "file", Severity: LintError, Message: err.Error()})
			continue
		}
		res.merge(r)
	}
	return res, nil
}

// FormatIssues returns a human-readable string of all issues.
func (r LintResult) FormatIssues(showInfo bool) string {
	if len(r.Issues) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, issue := range r.Issues {
		if issue.Severity == LintInfo && !showInfo {
			continue
		}

		var icon string
		if tui.IsPlainMode() {
			switch issue.Severity {
			case LintError:
				icon = "X"
			case LintWarning:
				icon = "!"
			case LintInfo:
				icon = "i"
			default:
				icon = "?"
			}
			fmt.Fprintf(&sb, "  %s [%s] %s: %s - %s\n",
				icon, issue.Severity, issue.File, issue.Field, issue.Message)
			continue
		}

		switch issue.Severity {
		case LintError:
			icon = tui.StyleError.Render(tui.IconCross)
		case LintWarning:
			icon = tui.StyleWarning.Render(tui.IconWarning)
		case LintInfo:
			icon = tui.StyleInfo.Render(tui.IconInfo)
		default:
			icon = "?"
		}
		fmt.Fprintf(&sb, "  %s %s %s: %s - %s\n",
			icon, tui.SeverityBadge(string(issue.Severity)), tui.StyleBold.Render(issue.File), issue.Field, issue.Message)
	}
	return sb.String()
}
