//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"
)

var errGroupGone = errors.New("process tree already gone")

// DefaultShell returns %COMSPEC%, or cmd.exe when it is unset.
func DefaultShell() string {
	if sh := os.Getenv("COMSPEC"); sh != "" {
		return sh
	}
	return "cmd.exe"
}

func shellCommand(shell, command string) *exec.Cmd {
	cmd := exec.Command(shell) //nolint:gosec // running the command is the point
	// cmd.exe does its own parsing of everything after /C.
	cmd.SysProcAttr = &syscall.SysProcAttr{CmdLine: syscall.EscapeArg(shell) + " /S /C \"" + command + "\""}
	return cmd
}

func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= windows.CREATE_NEW_PROCESS_GROUP
}

// signalGroup sends CTRL_BREAK to the process group, or kills the whole tree
// with taskkill when force is set.
func signalGroup(pid int, force bool) (string, error) {
	if pid <= 0 {
		return "", errGroupGone
	}
	if !force {
		if err := windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(pid)); err != nil { //nolint:gosec // pid is positive
			return "CTRL_BREAK", err
		}
		return "CTRL_BREAK", nil
	}
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)) //nolint:gosec // pid is ours
	if out, err := kill.CombinedOutput(); err != nil {
		var exitErr *exec.ExitError
		// 128: no such process.
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 128 {
			return "taskkill", errGroupGone
		}
		return "taskkill", errors.New(string(out))
	}
	return "taskkill", nil
}
