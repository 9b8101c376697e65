package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/BakeLens/shellgate/internal/rules"
	"github.com/BakeLens/shellgate/internal/tui"
	"github.com/BakeLens/shellgate/internal/types"
)

func newCheckCommand(g *globalFlags) *cobra.Command {
	var (
		asJSON bool
		agent  string
	)
	cmd := &cobra.Command{
		Use:   "check [flags] -- <command>",
		Short: "Show how the policy classifies a command without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.openApp(false, false)
			if err != nil {
				return err
			}
			defer a.close()
			if agent == "" {
				agent = a.cfg.Policy.Agent
			}

			analysis, err := a.classifier.Analyze(strings.Join(args, " "), a.engine.Policy(agent))
			if err != nil {
				return &ExitCodeError{Code: ExitCode(err), Err: err}
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(analysis)
			}
			printAnalysis(cmd.OutOrStdout(), agent, analysis)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the analysis as JSON")
	cmd.Flags().StringVar(&agent, "agent", "", "agent whose policy applies (default: policy.agent)")
	return cmd
}

func printAnalysis(w io.Writer, agent string, a *rules.Analysis) {
	fmt.Fprintf(w, "%s %s\n", tui.StyleBold.Render("agent:"), agent)
	if a.Normalized != "" {
		fmt.Fprintf(w, "%s %s\n", tui.StyleBold.Render("normalized:"), a.Normalized)
	}
	for _, warn := range a.Warnings {
		tui.Warning(w, "%s", warn)
	}

	if len(a.Decisions) == 0 {
		fmt.Fprintln(w, tui.StyleMuted.Render("no commands"))
	}
	rows := make([]tui.Row, 0, len(a.Decisions))
	for _, d := range a.Decisions {
		right := d.Command
		switch {
		case d.Rule != "":
			right += tui.StyleMuted.Render("  (rule: " + d.Rule + ")")
		case d.Tier != types.TierAllow:
			right += tui.StyleMuted.Render("  (no rule, default)")
		}
		rows = append(rows, tui.Row{Left: tui.TierBadge(d.Tier), Right: right})
	}
	fmt.Fprint(w, tui.Columns(rows, "  ", lipgloss.NewStyle(), tui.StyleCommand))

	for _, p := range a.ExternalPaths {
		fmt.Fprintf(w, "  %s outside the project: %s\n", tui.StyleWarning.Render(tui.IconWarning), p)
	}
	fmt.Fprintf(w, "%s %s\n", tui.StyleBold.Render("result:"), tui.TierBadge(a.Highest))
}
