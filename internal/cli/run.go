package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BakeLens/shellgate/internal/permission"
	"github.com/BakeLens/shellgate/internal/tool"
	"github.com/BakeLens/shellgate/internal/tui"
)

type runFlags struct {
	timeoutMs   int
	description string
	session     string
	quiet       bool
}

func newRunCommand(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [flags] -- <command>",
		Short: "Run a shell command through the permission gate",
		Long: `Run classifies the command against the active policy, asks for approval
where required, and runs it in the project root. Its output is streamed to
stdout and the command's exit code is returned.

Everything after -- is joined with spaces and handed to the shell as one
command line.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, g, f, strings.Join(args, " "))
		},
	}
	cmd.Flags().IntVarP(&f.timeoutMs, "timeout", "t", 0, "timeout in milliseconds (0 uses the configured default)")
	cmd.Flags().StringVarP(&f.description, "description", "d", "", "short description shown in approval prompts")
	cmd.Flags().StringVar(&f.session, "session", "", "session id that \"always\" approvals are remembered for")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "do not stream output while the command runs")
	return cmd
}

func runRun(cmd *cobra.Command, g *globalFlags, f *runFlags, command string) error {
	a, err := g.openApp(true, false)
	if err != nil {
		return err
	}
	defer a.close()

	t, err := a.newTool(permission.NewRemembering(permission.NewTerminalApprover()))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in := tool.Input{Command: command, Description: f.description}
	if cmd.Flags().Changed("timeout") {
		in.Timeout = &f.timeoutMs
	}
	cc := permission.CallContext{
		SessionID: f.session,
		CallID:    fmt.Sprintf("cli-%d", os.Getpid()),
	}
	if cc.SessionID == "" {
		cc.SessionID = cc.CallID
	}

	stdout := cmd.OutOrStdout()
	var stream *streamer
	var progress func(tool.Metadata)
	if !f.quiet {
		stream = &streamer{w: stdout}
		progress = stream.update
	}

	out, err := t.Execute(ctx, in, cc, progress)
	if err != nil {
		tui.Failure(cmd.ErrOrStderr(), "%v", err)
		return &ExitCodeError{Code: ExitCode(err)}
	}

	if stream != nil {
		stream.finish(out.Output)
	} else {
		fmt.Fprint(stdout, out.Output)
		if !strings.HasSuffix(out.Output, "\n") {
			fmt.Fprintln(stdout)
		}
	}
	return commandExit(out.Metadata)
}

// commandExit turns a finished command into the exit code shellgate itself
// should return.
func commandExit(m tool.Metadata) error {
	switch {
	case m.TimedOut:
		return &ExitCodeError{Code: ExitTimeout}
	case m.Aborted:
		return &ExitCodeError{Code: ExitAborted}
	case m.Exit == nil:
		return &ExitCodeError{Code: ExitFailure}
	case *m.Exit != 0:
		return &ExitCodeError{Code: *m.Exit}
	}
	return nil
}

// streamer writes each progress snapshot's new suffix, then whatever the
// final result adds on top of what was already shown.
type streamer struct {
	mu      sync.Mutex
	w       io.Writer
	written string
}

func (s *streamer) update(m tool.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !strings.HasPrefix(m.Output, s.written) || len(m.Output) == len(s.written) {
		return
	}
	io.WriteString(s.w, m.Output[len(s.written):]) //nolint:errcheck // best effort display
	s.written = m.Output
}

func (s *streamer) finish(final string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rest := final
	if strings.HasPrefix(final, s.written) {
		rest = final[len(s.written):]
	} else if s.written != "" {
		rest = "\n" + final
	}
	io.WriteString(s.w, rest) //nolint:errcheck // best effort display
	if !strings.HasSuffix(s.written+rest, "\n") {
		io.WriteString(s.w, "\n") //nolint:errcheck // best effort display
	}
	s.written = final
}
