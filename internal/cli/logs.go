package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/BakeLens/shellgate/internal/telemetry"
	"github.com/BakeLens/shellgate/internal/tui"
)

// errNoStorage is returned by commands that need the audit database when
// storage.enabled is false.
var errNoStorage = errors.New("audit storage is disabled (storage.enabled: false)")

func newLogsCommand(g *globalFlags) *cobra.Command {
	var (
		filter  telemetry.Filter
		outcome string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "logs [id]",
		Short: "Show audited command executions",
		Long: `Logs lists recent audited executions, newest first. With an id it shows
that execution in full, including its captured output.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Outcome = telemetry.Outcome(outcome)
			if outcome != "" && !filter.Outcome.Valid() {
				return usageError(fmt.Errorf("unknown outcome %q", outcome))
			}

			a, err := g.openApp(true, false)
			if err != nil {
				return err
			}
			defer a.close()
			if a.storage == nil {
				return errNoStorage
			}

			w := cmd.OutOrStdout()
			ctx := cmd.Context()
			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return usageError(fmt.Errorf("invalid id %q", args[0]))
				}
				e, err := a.storage.GetExecution(ctx, id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(w, e)
				}
				printExecution(w, e)
				return nil
			}

			logs, err := a.storage.ListExecutions(ctx, filter)
			if err != nil {
				return err
			}
			if asJSON {
				if logs == nil {
					logs = []telemetry.Execution{}
				}
				return writeJSON(w, logs)
			}
			printExecutions(w, logs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 20, "maximum number of executions")
	cmd.Flags().IntVar(&filter.Minutes, "minutes", 0, "only executions from the last N minutes")
	cmd.Flags().StringVar(&filter.SessionID, "session", "", "only executions from this session")
	cmd.Flags().StringVar(&outcome, "outcome", "", "only this outcome: denied, rejected, error, exited, timed_out, aborted")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printExecutions(w io.Writer, logs []telemetry.Execution) {
	if len(logs) == 0 {
		fmt.Fprintln(w, "No executions recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tOUTCOME\tEXIT\tDURATION\tCOMMAND")
	for _, e := range logs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Outcome,
			exitLabel(e.ExitCode),
			(time.Duration(e.DurationMs) * time.Millisecond).String(),
			oneLine(e.Command, 60),
		)
	}
	tw.Flush()
}

func printExecution(w io.Writer, e *telemetry.Execution) {
	rows := []tui.Row{
		{Left: "id", Right: strconv.FormatInt(e.ID, 10)},
		{Left: "time", Right: e.Timestamp.Local().Format(time.RFC3339)},
		{Left: "agent", Right: e.Agent},
		{Left: "session", Right: e.SessionID},
		{Left: "command", Right: e.Command},
		{Left: "description", Right: e.Description},
		{Left: "outcome", Right: string(e.Outcome)},
		{Left: "rule", Right: e.Rule},
		{Left: "exit", Right: exitLabel(e.ExitCode)},
		{Left: "duration", Right: (time.Duration(e.DurationMs) * time.Millisecond).String()},
		{Left: "output size", Right: fmt.Sprintf("%d bytes (truncated: %v)", e.OutputSize, e.Truncated)},
	}
	fmt.Fprint(w, tui.Columns(rows, "", tui.StyleBold, tui.StyleInfo))
	if e.Output != "" {
		fmt.Fprintln(w, tui.StyleMuted.Render("--- output ---"))
		fmt.Fprint(w, e.Output)
		if !strings.HasSuffix(e.Output, "\n") {
			fmt.Fprintln(w)
		}
	}
}

func exitLabel(code *int) string {
	if code == nil {
		return "-"
	}
	return strconv.Itoa(*code)
}

// oneLine collapses newlines and cuts s to at most n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
