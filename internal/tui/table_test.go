package tui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTable(t *testing.T) {
	out := RenderTable("Store", []Row{
		{Label: "movies", Value: "9742"},
		{Label: "movie_directors", Value: "12"},
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Store")
	assert.Contains(t, lines[1], "movies")
	assert.Contains(t, lines[1], "9742")
	assert.Contains(t, lines[2], "movie_directors")

	// Values line up in one column.
	assert.Equal(t, lipgloss.Width(lines[1]), lipgloss.Width(lines[2]))
}

func TestRenderTableEmpty(t *testing.T) {
	out := RenderTable("Lookup cache", nil)
	assert.Contains(t, out, "Lookup cache")
}
