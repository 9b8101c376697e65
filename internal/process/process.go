// Package process spawns shell commands in their own process group and
// supervises them until they exit, time out, or are aborted.
package process

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BakeLens/shellgate/internal/logger"
	"github.com/BakeLens/shellgate/internal/types"
)

var log = logger.New("process")

// DefaultGrace is how long a process group gets between the graceful stop
// signal and the forced kill.
const DefaultGrace = 200 * time.Millisecond

// waitDelay bounds how long Wait keeps reading pipes after the process exits,
// in case a descendant escaped the group and still holds them open.
const waitDelay = 2 * time.Second

// Runner spawns commands through a shell.
type Runner struct {
	Shell     string        // default: platform shell
	Dir       string        // working directory; empty means the current one
	Env       []string      // nil inherits the current environment
	Grace     time.Duration // default: DefaultGrace
	MaxOutput int           // bytes kept in memory; <= 0 keeps everything
	// Keep selects output lines that are collected into Result.Kept when
	// they fall past MaxOutput.
	Keep func(line string) bool
}

// Result is what a supervised process left behind.
type Result struct {
	Output     string
	TotalBytes int64
	Truncated  bool
	// Kept holds the lines selected by Runner.Keep that were cut from
	// Output; KeptDropped counts the ones beyond the line bound.
	Kept        []string
	KeptDropped int
	// LastLine is the last non-empty output line, set when MaxOutput is.
	LastLine string
	// ExitCode is nil when the process never reported one, e.g. it was
	// killed by a signal.
	ExitCode *int
	State    types.ProcessState
	TimedOut bool
	Aborted  bool
	// KillSignal is the last termination signal sent, empty when none was.
	KillSignal string
	Duration   time.Duration
}

// Run spawns command and waits for it. A timeout <= 0 disables the timer.
// Timeouts and cancellation are reported in the Result, not as errors; the
// only error is a *SpawnError.
func (r *Runner) Run(ctx context.Context, command string, timeout time.Duration, onProgress func(string)) (*Result, error) {
	if ctx.Err() != nil {
		log.Debug("context done before spawn, not starting %q", command)
		return &Result{State: types.StateAborted, Aborted: true}, nil
	}
	h, err := r.Start(command, onProgress)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx, timeout), nil
}

// Start spawns command as the leader of a new process group.
func (r *Runner) Start(command string, onProgress func(string)) (*Handle, error) {
	shell := r.Shell
	if shell == "" {
		shell = DefaultShell()
	}
	grace := r.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	cmd := shellCommand(shell, command)
	cmd.Dir = r.Dir
	cmd.Env = r.Env
	out := NewBuffer(r.MaxOutput, onProgress)
	if r.Keep != nil {
		out.KeepLines(r.Keep)
	}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	h := &Handle{
		cmd:     cmd,
		out:     out,
		grace:   grace,
		done:    make(chan struct{}),
		started: time.Now(),
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Shell: shell, Err: err}
	}
	h.pid = cmd.Process.Pid
	h.state.Store(int32(types.StateRunning))
	log.Debug("spawned pid %d: %s", h.pid, command)

	go func() {
		h.waitErr = cmd.Wait()
		if h.state.CompareAndSwap(int32(types.StateRunning), int32(types.StateExited)) {
			log.Debug("pid %d exited", h.pid)
		}
		close(h.done)
	}()
	return h, nil
}

// Handle is a running process group. Its terminal state is assigned exactly
// once; whichever of exit, timeout or abort gets there first wins.
type Handle struct {
	cmd     *exec.Cmd
	out     *Buffer
	pid     int
	grace   time.Duration
	started time.Time

	state   atomic.Int32
	signals atomic.Int32

	mu         sync.Mutex
	killSignal string

	done    chan struct{}
	waitErr error // valid after done is closed
}

// PID returns the process id, which is also the process group id.
func (h *Handle) PID() int {
	return h.pid
}

// State returns the current lifecycle state.
func (h *Handle) State() types.ProcessState {
	return types.ProcessState(h.state.Load())
}

// Signals returns how many termination signals have been delivered.
func (h *Handle) Signals() int {
	return int(h.signals.Load())
}

// Done is closed once the process has been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Kill moves a running process to reason (StateTimedOut or StateAborted) and
// runs the stop sequence: graceful signal to the group, then a forced kill if
// it is still alive after the grace window. It returns false without
// signalling when the process already reached a terminal state, and false
// when the group turned out to be gone before the first signal, in which case
// the exit is recorded as natural. A process that exits after the first
// signal was delivered is still reported as reason.
func (h *Handle) Kill(reason types.ProcessState) bool {
	if reason != types.StateTimedOut && reason != types.StateAborted {
		reason = types.StateAborted
	}
	// Reaped but still draining output counts as exited.
	select {
	case <-h.done:
		return false
	default:
	}
	if !h.state.CompareAndSwap(int32(types.StateRunning), int32(reason)) {
		return false
	}
	log.Debug("pid %d: %s, stopping process group", h.pid, reason)

	if gone := h.signal(false); gone {
		if h.state.CompareAndSwap(int32(reason), int32(types.StateExited)) {
			log.Debug("pid %d exited before it could be stopped", h.pid)
		}
		return false
	}
	timer := time.NewTimer(h.grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return true
	case <-timer.C:
	}
	log.Debug("pid %d still running after %s, forcing", h.pid, h.grace)
	h.signal(true)
	return true
}

// signal reports whether the group no longer existed.
func (h *Handle) signal(force bool) (gone bool) {
	name, err := signalGroup(h.pid, force)
	if errors.Is(err, errGroupGone) {
		return true
	}
	if err != nil {
		log.Warn("pid %d: %s failed: %v", h.pid, name, err)
		return false
	}
	h.signals.Add(1)
	h.mu.Lock()
	h.killSignal = name
	h.mu.Unlock()
	return false
}

// Wait blocks until the process is reaped, killing it when timeout elapses
// or ctx is done, and returns the result.
func (h *Handle) Wait(ctx context.Context, timeout time.Duration) *Result {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case <-h.done:
	case <-timeoutC:
		if h.Kill(types.StateTimedOut) {
			log.Info("pid %d timed out after %s", h.pid, timeout)
		}
	case <-ctx.Done():
		if h.Kill(types.StateAborted) {
			log.Info("pid %d aborted: %v", h.pid, ctx.Err())
		}
	}
	<-h.done

	return h.result()
}

func (h *Handle) result() *Result {
	state := h.State()
	h.mu.Lock()
	sig := h.killSignal
	h.mu.Unlock()

	res := &Result{
		Output:     h.out.String(),
		TotalBytes: h.out.Total(),
		Truncated:  h.out.Truncated(),
		LastLine:   h.out.LastLine(),
		State:      state,
		TimedOut:   state == types.StateTimedOut,
		Aborted:    state == types.StateAborted,
		KillSignal: sig,
		Duration:   time.Since(h.started),
	}
	res.Kept, res.KeptDropped = h.out.Kept()
	if ps := h.cmd.ProcessState; ps != nil && ps.ExitCode() >= 0 {
		code := ps.ExitCode()
		res.ExitCode = &code
	}
	if h.waitErr != nil && !errors.As(h.waitErr, new(*exec.ExitError)) {
		log.Debug("pid %d wait: %v", h.pid, h.waitErr)
	}
	return res
}
