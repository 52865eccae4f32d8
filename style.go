package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	keyword   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Render
	paragraph = lipgloss.NewStyle().Width(78).Padding(0, 0, 0, 2).Render

	header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EE6FF8")).Render
	faint  = lipgloss.NewStyle().Foreground(lipgloss.Color("#777777")).Render
	danger = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Render

	cell = lipgloss.NewStyle().PaddingRight(2)
)

func init() {
	if !term.IsTerminal(int(os.Stdout.Fd())) { //nolint:gosec
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// row renders columns padded to widths.
func row(widths []int, cols ...string) string {
	rendered := make([]string, len(cols))
	for i, c := range cols {
		rendered[i] = cell.Width(widths[i]).Render(c)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}
