package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Row is one line of a two-column listing. Style, when set, overrides the
// left column's style for this row.
type Row struct {
	Left, Right string
	Style       *lipgloss.Style
}

// Columns renders rows with the left column padded to its widest entry.
// Widths are measured after styling is stripped, so badges line up.
func Columns(rows []Row, indent string, left, right lipgloss.Style) string {
	width := 0
	for _, r := range rows {
		width = max(width, lipgloss.Width(r.Left))
	}

	var sb strings.Builder
	for _, r := range rows {
		style := left
		if r.Style != nil {
			style = *r.Style
		}
		sb.WriteString(indent)
		sb.WriteString(style.Render(r.Left))
		sb.WriteString(strings.Repeat(" ", width-lipgloss.Width(r.Left)+2))
		sb.WriteString(right.Render(r.Right))
		sb.WriteByte('\n')
	}
	return sb.String()
}
