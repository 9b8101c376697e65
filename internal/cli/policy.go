package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/BakeLens/shellgate/internal/rules"
	"github.com/BakeLens/shellgate/internal/tui"
	"github.com/BakeLens/shellgate/internal/types"
)

func newPolicyCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and validate policy files",
	}
	cmd.AddCommand(newPolicyShowCommand(g), newPolicyLintCommand(g))
	return cmd
}

func newPolicyShowCommand(g *globalFlags) *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "List the merged rules that apply to an agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.openApp(false, false)
			if err != nil {
				return err
			}
			defer a.close()
			if agent == "" {
				agent = a.cfg.Policy.Agent
			}
			printPolicy(cmd.OutOrStdout(), a.engine.Policy(agent), a.engine.Files(), a.classifier.Resolver().Workspaces())
			return nil
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent whose policy to show (default: policy.agent)")
	return cmd
}

// printPolicy lists the agent's rules by tier, its trusted commands, and the
// workspaces from the config and from policy files.
func printPolicy(w io.Writer, p *rules.Policy, files []rules.LoadedPolicy, configWorkspaces []string) {
	fmt.Fprintf(w, "%s %s  %s\n", tui.StyleTitle.Render("policy for"), p.Agent,
		tui.StyleMuted.Render(fmt.Sprintf("(%d files, %d rules, unmatched commands: %s)", len(files), len(p.Rules), rules.DefaultTier)))

	for _, tier := range types.Tiers {
		var rows []tui.Row
		for _, r := range p.Rules {
			if r.Tier != tier {
				continue
			}
			rows = append(rows, tui.Row{Left: r.Pattern.String(), Right: sourceLabel(r)})
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintln(w, tui.TierBadge(tier))
		fmt.Fprint(w, tui.Columns(rows, "  ", tui.TierStyle(tier), tui.StyleMuted))
	}

	if len(p.Trusted) > 0 {
		fmt.Fprintln(w, tui.StyleBold.Render("trusted (not sandboxed)"))
		for _, t := range p.Trusted {
			fmt.Fprintf(w, "  %s\n", t)
		}
	}
	if len(configWorkspaces)+len(p.Workspaces) > 0 {
		fmt.Fprintln(w, tui.StyleBold.Render("workspaces"))
		rows := make([]tui.Row, 0, len(configWorkspaces)+len(p.Workspaces))
		for _, ws := range configWorkspaces {
			rows = append(rows, tui.Row{Left: ws, Right: "config"})
		}
		for _, ws := range p.Workspaces {
			rows = append(rows, tui.Row{Left: ws, Right: "policy"})
		}
		fmt.Fprint(w, tui.Columns(rows, "  ", tui.StyleInfo, tui.StyleMuted))
	}
}

func sourceLabel(r rules.Rule) string {
	if r.FilePath == "" {
		return string(r.Source)
	}
	return fmt.Sprintf("%s %s", r.Source, r.FilePath)
}

func newPolicyLintCommand(g *globalFlags) *cobra.Command {
	var showInfo bool
	cmd := &cobra.Command{
		Use:   "lint [file...]",
		Short: "Check policy files for errors and overlapping rules",
		Long: `Lint checks the given policy files. Without arguments it checks the
builtin policy and every file in the policy directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			linter := rules.NewLinter()
			var res rules.LintResult
			if len(args) == 0 {
				cfg, err := g.loadConfig()
				if err != nil {
					return err
				}
				if !cfg.Policy.DisableBuiltin {
					r, err := linter.LintBuiltin()
					if err != nil {
						return err
					}
					res = r
				}
				r, err := linter.LintDir(cfg.Policy.Dir)
				if err != nil {
					return err
				}
				res = mergeLint(res, r)
			}
			for _, path := range args {
				r, err := linter.LintFile(path)
				if err != nil {
					return &ExitCodeError{Code: ExitFailure, Err: fmt.Errorf("%s: %w", path, err)}
				}
				res = mergeLint(res, r)
			}
			return reportLint(cmd.OutOrStdout(), res, showInfo)
		},
	}
	cmd.Flags().BoolVar(&showInfo, "info", false, "also show informational findings")
	return cmd
}

func mergeLint(a, b rules.LintResult) rules.LintResult {
	a.Issues = append(a.Issues, b.Issues...)
	a.Errors += b.Errors
	a.Warns += b.Warns
	return a
}

func reportLint(w io.Writer, res rules.LintResult, showInfo bool) error {
	if out := res.FormatIssues(showInfo); out != "" {
		fmt.Fprint(w, out)
	}
	summary := fmt.Sprintf("%d error(s), %d warning(s)", res.Errors, res.Warns)
	if res.Errors > 0 {
		tui.Failure(w, "%s", summary)
		return &ExitCodeError{Code: ExitFailure}
	}
	if res.Warns > 0 {
		tui.Warning(w, "%s", summary)
		return nil
	}
	tui.Success(w, "policy is valid")
	return nil
}
