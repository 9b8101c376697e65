package permission

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/BakeLens/shellgate/internal/tui"
	"github.com/BakeLens/shellgate/internal/types"
)

// ErrNoTerminal is returned when approval is needed but stdin is not a
// terminal. Piped input is never treated as a human answer.
var ErrNoTerminal = errors.New("approval required but stdin is not a terminal")

// TerminalApprover asks the user on the controlling terminal. Styled forms
// are used unless plain mode is active, in which case a line-based prompt is
// read from stdin.
type TerminalApprover struct {
	in         io.Reader
	out        io.Writer
	isTerminal func() bool

	mu     sync.Mutex // one prompt at a time
	reader *bufio.Reader
}

// NewTerminalApprover creates an approver bound to os.Stdin and os.Stderr.
func NewTerminalApprover() *TerminalApprover {
	return &TerminalApprover{
		in:         os.Stdin,
		out:        os.Stderr,
		isTerminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
	}
}

// Ask implements Approver.
func (a *TerminalApprover) Ask(ctx context.Context, req Request) (Reply, error) {
	if !a.isTerminal() {
		return Reply{}, ErrNoTerminal
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	if tui.IsPlainMode() {
		return a.askReader(req)
	}
	return a.askForm(ctx, req)
}

// approvalTheme maps the shared palette onto huh's base theme.
func approvalTheme() *huh.Theme {
	t := huh.ThemeBase()

	t.Focused.Base = t.Focused.Base.BorderForeground(tui.ColorWarning)
	t.Focused.Title = t.Focused.Title.Foreground(tui.ColorWarning).Bold(true)
	t.Focused.Description = t.Focused.Description.Foreground(tui.ColorMuted)
	t.Focused.ErrorIndicator = t.Focused.ErrorIndicator.Foreground(tui.ColorError)
	t.Focused.ErrorMessage = t.Focused.ErrorMessage.Foreground(tui.ColorError)
	t.Focused.SelectSelector = t.Focused.SelectSelector.Foreground(tui.ColorPrimary).SetString(tui.IconCheck + " ")
	t.Focused.Option = t.Focused.Option.Foreground(lipgloss.AdaptiveColor{Light: "235", Dark: "252"})
	t.Focused.SelectedOption = t.Focused.SelectedOption.Foreground(tui.ColorSuccess)
	t.Focused.TextInput.Cursor = t.Focused.TextInput.Cursor.Foreground(tui.ColorSuccess)
	t.Focused.TextInput.Prompt = t.Focused.TextInput.Prompt.Foreground(tui.ColorPrimary)

	t.Blurred = t.Focused
	t.Blurred.Base = t.Focused.Base.BorderStyle(lipgloss.HiddenBorder())

	t.Group.Title = t.Focused.Title
	t.Group.Description = t.Focused.Description
	return t
}

func (a *TerminalApprover) askForm(ctx context.Context, req Request) (Reply, error) {
	var response = string(types.ResponseOnce)
	var pin, message string

	fields := []huh.Field{
		huh.NewNote().
			Title(requestTitle(req)).
			Description(requestBody(req)),
		huh.NewSelect[string]().
			Title("Allow?").
			Options(
				huh.NewOption("Once", string(types.ResponseOnce)),
				huh.NewOption("Always (this session)", string(types.ResponseAlways)),
				huh.NewOption("Reject", string(types.ResponseReject)),
			).
			Value(&response),
	}
	if req.Kind == types.KindPin {
		fields = append(fields, huh.NewInput().
			Title("PIN").
			EchoMode(huh.EchoModePassword).
			Value(&pin))
	}

	form := huh.NewForm(
		huh.NewGroup(fields...),
		huh.NewGroup(
			huh.NewInput().
				Title("Reason (optional)").
				Description("Passed back to the agent").
				Value(&message),
		).WithHideFunc(func() bool {
			return response != string(types.ResponseReject)
		}),
	).WithTheme(approvalTheme()).WithOutput(a.out)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return Reply{Response: types.ResponseReject, Message: "aborted by user"}, nil
		}
		return Reply{}, fmt.Errorf("approval form: %w", err)
	}
	return Reply{Response: types.Response(response), PIN: pin, Message: message}, nil
}

func (a *TerminalApprover) askReader(req Request) (Reply, error) {
	if a.reader == nil {
		a.reader = bufio.NewReader(a.in)
	}
	fmt.Fprintf(a.out, "\n%s %s\n%s", tui.Prefix(), requestTitle(req), requestBody(req))

	var reply Reply
	for reply.Response == "" {
		fmt.Fprint(a.out, "Allow? [o]nce / [a]lways / [r]eject: ")
		line, err := a.readLine()
		if err != nil {
			return Reply{}, err
		}
		switch strings.ToLower(line) {
		case "o", "once", "y", "yes":
			reply.Response = types.ResponseOnce
		case "a", "always":
			reply.Response = types.ResponseAlways
		case "r", "reject", "n", "no":
			reply.Response = types.ResponseReject
		}
	}

	var err error
	switch {
	case reply.Response == types.ResponseReject:
		fmt.Fprint(a.out, "Reason (optional): ")
		reply.Message, err = a.readLine()
	case req.Kind == types.KindPin:
		fmt.Fprint(a.out, "PIN: ")
		reply.PIN, err = a.readLine()
	}
	if err != nil {
		return Reply{}, err
	}
	return reply, nil
}

func (a *TerminalApprover) readLine() (string, error) {
	line, err := a.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func requestTitle(req Request) string {
	switch req.Kind {
	case types.KindPin:
		return "PIN required to run a protected command"
	case types.KindExternalDirectory:
		return "Command touches directories outside the project"
	}
	return "Permission required to run command"
}

func requestBody(req Request) string {
	var sb strings.Builder
	if req.Description != "" {
		fmt.Fprintf(&sb, "  %s\n", req.Description)
	}
	for _, c := range req.Commands {
		fmt.Fprintf(&sb, "  $ %s\n", c)
	}
	label := "pattern"
	if req.Kind == types.KindExternalDirectory {
		label = "directory"
	}
	for _, p := range req.Patterns {
		fmt.Fprintf(&sb, "  %s: %s\n", label, p)
	}
	return sb.String()
}
