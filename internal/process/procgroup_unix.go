//go:build unix

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

var errGroupGone = errors.New("process group already gone")

// DefaultShell returns $SHELL, or /bin/sh when it is unset.
func DefaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

func shellCommand(shell, command string) *exec.Cmd {
	return exec.Command(shell, "-c", command) //nolint:gosec // running the command is the point
}

// setProcessGroup makes the child the leader of a new process group so the
// whole tree can be signalled through -pid.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	cmd.SysProcAttr.Pgid = 0
}

// signalGroup sends SIGTERM, or SIGKILL when force is set, to the group led
// by pid.
func signalGroup(pid int, force bool) (string, error) {
	sig, name := unix.SIGTERM, "SIGTERM"
	if force {
		sig, name = unix.SIGKILL, "SIGKILL"
	}
	// kill(-1) and kill(0) would hit far more than our child.
	if pid <= 1 {
		return name, errGroupGone
	}
	if err := unix.Kill(-pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return name, errGroupGone
		}
		return name, err
	}
	return name, nil
}
