package tui

import (
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/BakeLens/shellgate/internal/types"
)

// plainMode disables all styling: no colors, no icons, no boxes.
// When enabled, output is clean plain text suitable for CI, piped output, or --no-color.
var (
	plainMode bool
	plainOnce sync.Once
	plainMu   sync.RWMutex
)

// initPlainMode auto-detects plain mode from environment on first call.
// Precedence: NO_COLOR > TTY detection > color profile detection.
func initPlainMode() {
	plainOnce.Do(func() {
		// NO_COLOR wins, see https://no-color.org
		if termenv.EnvNoColor() {
			plainMode = true
			return
		}
		if !term.IsTerminal(int(os.Stdout.Fd())) { //nolint:gosec // Fd() fits in int on all supported platforms
			plainMode = true
			return
		}
		if termenv.NewOutput(os.Stdout).Profile == termenv.Ascii {
			plainMode = true
		}
	})
}

// SetPlainMode explicitly enables or disables plain mode.
// Call this early (e.g. when parsing --no-color flag) before any styled output.
func SetPlainMode(plain bool) {
	plainMu.Lock()
	defer plainMu.Unlock()
	plainMode = plain
	// Mark as initialized so auto-detect doesn't override
	plainOnce.Do(func() {})
}

// IsPlainMode returns true if styling is disabled.
func IsPlainMode() bool {
	initPlainMode()
	plainMu.RLock()
	defer plainMu.RUnlock()
	return plainMode
}

// Color palette. Adapts to the terminal background.
var (
	ColorPrimary = lipgloss.AdaptiveColor{Light: "#2F6F8F", Dark: "#6FB7D9"}
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#5F7A3A", Dark: "#A8B545"}
	ColorError   = lipgloss.AdaptiveColor{Light: "#B5382A", Dark: "#E05A3A"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFD93D"}
	ColorInfo    = lipgloss.AdaptiveColor{Light: "#4B6C8A", Dark: "#9CC3E6"}
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A89984"}
	ColorHigh    = lipgloss.AdaptiveColor{Light: "#A0522D", Dark: "#E8734A"}
)

// Reusable styles.
var (
	StyleTitle   = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	StyleSuccess = lipgloss.NewStyle().Foreground(ColorSuccess)
	StyleError   = lipgloss.NewStyle().Foreground(ColorError)
	StyleWarning = lipgloss.NewStyle().Foreground(ColorWarning)
	StyleInfo    = lipgloss.NewStyle().Foreground(ColorInfo)
	StyleMuted   = lipgloss.NewStyle().Foreground(ColorMuted)
	StyleBold    = lipgloss.NewStyle().Bold(true)
	StyleCommand = lipgloss.NewStyle().Foreground(ColorPrimary)

	stylePrefix = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
)

// Prefix returns the branded [shellgate] prefix string.
func Prefix() string {
	if IsPlainMode() {
		return "[shellgate]"
	}
	return stylePrefix.Render("[shellgate]")
}

// SeverityStyle returns the style for a lint severity level.
func SeverityStyle(severity string) lipgloss.Style {
	switch severity {
	case "error":
		return StyleError
	case "warning":
		return StyleWarning
	case "info":
		return StyleInfo
	default:
		return StyleMuted
	}
}

// SeverityBadge returns a styled severity badge such as a small square followed
// by "WARNING".
func SeverityBadge(severity string) string {
	label := severityLabel(severity)
	if IsPlainMode() {
		return "[" + label + "]"
	}
	return SeverityStyle(severity).Render(IconSquare + " " + label)
}

func severityLabel(severity string) string {
	switch severity {
	case "error":
		return "ERROR"
	case "warning":
		return "WARNING"
	case "info":
		return "INFO"
	default:
		return severity
	}
}

// TierStyle returns the style used to render a risk tier.
func TierStyle(t types.Tier) lipgloss.Style {
	switch t {
	case types.TierAllow:
		return StyleSuccess
	case types.TierAsk:
		return StyleWarning
	case types.TierPin:
		return lipgloss.NewStyle().Foreground(ColorHigh)
	case types.TierDeny:
		return StyleError
	}
	return StyleMuted
}

// TierBadge renders a tier as a fixed-width label, e.g. "ALLOW", "DENY ".
func TierBadge(t types.Tier) string {
	label := "?"
	switch t {
	case types.TierAllow:
		label = IconCheck + " ALLOW"
	case types.TierAsk:
		label = IconInfo + " ASK  "
	case types.TierPin:
		label = IconLock + " PIN  "
	case types.TierDeny:
		label = IconBlock + " DENY "
	}
	if IsPlainMode() {
		return "[" + string(t) + "]"
	}
	return TierStyle(t).Render(label)
}
