package tui

import (
	"fmt"
	"io"
)

// Success writes a styled success line with the [shellgate] prefix.
func Success(w io.Writer, format string, args ...any) {
	line(w, "OK: ", StyleSuccess.Render(IconCheck), format, args...)
}

// Failure writes a styled error line with the [shellgate] prefix.
func Failure(w io.Writer, format string, args ...any) {
	line(w, "ERROR: ", StyleError.Render(IconCross), format, args...)
}

// Warning writes a styled warning line with the [shellgate] prefix.
func Warning(w io.Writer, format string, args ...any) {
	line(w, "WARNING: ", StyleWarning.Render(IconWarning), format, args...)
}

// Info writes a styled info line with the [shellgate] prefix.
func Info(w io.Writer, format string, args ...any) {
	line(w, "", StyleInfo.Render(IconInfo), format, args...)
}

func line(w io.Writer, plainLabel, icon, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if IsPlainMode() {
		fmt.Fprintf(w, "%s %s%s\n", Prefix(), plainLabel, msg)
		return
	}
	fmt.Fprintf(w, "%s %s %s\n", Prefix(), icon, msg)
}
