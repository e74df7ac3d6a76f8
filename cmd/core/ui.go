package main

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/kimhsiao/campaignsync/internal/sync/queue"
)

var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")
)

var (
	successStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
	warnStyle    = lipgloss.NewStyle().Foreground(yellow)
	mutedStyle   = lipgloss.NewStyle().Foreground(dim)
)

func muted(s string) string { return mutedStyle.Render(s) }
func warn(s string) string  { return warnStyle.Render(s) }

// outcomeText colors a drain outcome by how it ended.
func outcomeText(s queue.OutcomeStatus) string {
	switch s {
	case queue.OutcomeSucceeded:
		return successStyle.Render(string(s))
	case queue.OutcomeAbandoned:
		return errorStyle.Render(string(s))
	case queue.OutcomeFailed:
		return warnStyle.Render(string(s))
	default:
		return mutedStyle.Render(string(s))
	}
}

// renderTable renders rows under headers with alternating row shading.
func renderTable(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().
		Foreground(purple).
		Bold(true).
		Padding(0, 1)

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	oddStyle := cellStyle.Foreground(dim)
	evenStyle := cellStyle

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return evenStyle
			default:
				return oddStyle
			}
		}).
		Headers(headers...).
		Rows(rows...)

	return t.String()
}
