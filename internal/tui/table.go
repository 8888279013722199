package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Row is one label/value line of a summary table.
type Row struct {
	Label string
	Value string
}

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("110")).
			PaddingRight(2)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Align(lipgloss.Right)
)

// RenderTable lays out rows as two aligned columns under a title.
func RenderTable(title string, rows []Row) string {
	labelWidth, valueWidth := 0, 0
	for _, r := range rows {
		labelWidth = max(labelWidth, lipgloss.Width(r.Label))
		valueWidth = max(valueWidth, lipgloss.Width(r.Value))
	}

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			labelStyle.Width(labelWidth+2).Render(r.Label),
			valueStyle.Width(valueWidth).Render(r.Value),
		))
	}

	var b strings.Builder
	b.WriteString(stageStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n")
	return b.String()
}
