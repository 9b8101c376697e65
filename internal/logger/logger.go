// Package logger is the leveled, component-prefixed logger every package
// writes through. Output goes to stderr so it never mixes with command output.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Level represents log level
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

type levelInfo struct {
	name  string
	style lipgloss.Style
}

var levels = [...]levelInfo{
	LevelTrace: {"TRACE", lipgloss.NewStyle().Foreground(lipgloss.Color("#8A8F98"))},
	LevelDebug: {"DEBUG", lipgloss.NewStyle().Foreground(lipgloss.Color("#7AA2C8"))},
	LevelInfo:  {"INFO", lipgloss.NewStyle().Foreground(lipgloss.Color("#A8B545"))},
	LevelWarn:  {"WARN", lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD93D"))},
	LevelError: {"ERROR", lipgloss.NewStyle().Foreground(lipgloss.Color("#E05A3A"))},
}

var faint = lipgloss.NewStyle().Faint(true)

// String returns the upper-case label used in log lines.
func (l Level) String() string {
	if l < LevelTrace || l > LevelError {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levels[l].name
}

// ParseLevel converts a string to a Level, returning an error if unrecognized.
// The empty string is info.
func ParseLevel(s string) (Level, error) {
	switch s = strings.ToUpper(s); s {
	case "":
		return LevelInfo, nil
	case "WARNING":
		return LevelWarn, nil
	}
	for l, info := range levels {
		if info.name == s {
			return Level(l), nil
		}
	}
	return 0, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", strings.ToLower(s))
}

// sink is the process-wide destination shared by all loggers.
type sink struct {
	mu      sync.RWMutex
	level   Level
	colored bool
	out     io.Writer
}

var global = &sink{level: LevelInfo, colored: true, out: os.Stderr}

// SetGlobalLevel sets the global log level
func SetGlobalLevel(level Level) {
	global.mu.Lock()
	global.level = level
	global.mu.Unlock()
}

// SetGlobalLevelFromString sets the level from a config value, ignoring
// unknown names.
func SetGlobalLevelFromString(level string) {
	if l, err := ParseLevel(level); err == nil {
		SetGlobalLevel(l)
	}
}

// SetColored enables or disables colored output
func SetColored(colored bool) {
	global.mu.Lock()
	global.colored = colored
	global.mu.Unlock()
}

// DetectColor enables color only when stderr is a terminal that supports it
// and NO_COLOR is not set.
func DetectColor() {
	out := termenv.NewOutput(os.Stderr)
	SetColored(!termenv.EnvNoColor() && out.Profile != termenv.Ascii)
}

// SetOutput redirects all loggers to w. Passing nil restores stderr.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	global.mu.Lock()
	global.out = w
	global.mu.Unlock()
}

// Enabled reports whether messages at level would be written. Callers use it
// to skip building expensive debug output.
func Enabled(level Level) bool {
	global.mu.RLock()
	defer global.mu.RUnlock()
	return level >= global.level
}

// Logger writes messages tagged with one component prefix.
type Logger struct {
	prefix string
}

// New creates a new logger with the given prefix
func New(prefix string) *Logger {
	return &Logger{prefix: prefix}
}

// Sub returns a logger whose prefix is nested under l, e.g. "server/retention".
func (l *Logger) Sub(name string) *Logger {
	return &Logger{prefix: l.prefix + "/" + name}
}

func (l *Logger) write(level Level, format string, args ...any) {
	global.mu.RLock()
	if level < global.level {
		global.mu.RUnlock()
		return
	}
	colored, out := global.colored, global.out
	global.mu.RUnlock()

	ts := time.Now().Format("15:04:05")
	msg := fmt.Sprintf(format, args...)
	label := "[" + level.String() + "]"
	prefix := "[" + l.prefix + "]"
	if colored {
		ts, label, prefix = faint.Render(ts), levels[level].style.Render(label), faint.Render(prefix)
	}
	fmt.Fprintf(out, "%s %s %s %s\n", ts, label, prefix, msg)
}

// Trace logs at the most verbose level.
func (l *Logger) Trace(format string, args ...any) { l.write(LevelTrace, format, args...) }

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...any) { l.write(LevelDebug, format, args...) }

// Info logs an info message
func (l *Logger) Info(format string, args ...any) { l.write(LevelInfo, format, args...) }

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...any) { l.write(LevelWarn, format, args...) }

// Error logs an error message
func (l *Logger) Error(format string, args ...any) { l.write(LevelError, format, args...) }
