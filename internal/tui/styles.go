package tui

import "github.com/charmbracelet/lipgloss"

var (
	accent = lipgloss.Color("#5F875F")
	muted  = lipgloss.Color("#808080")
	danger = lipgloss.Color("#D75F5F")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(accent).Padding(0, 1)

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1)

	focusedPaneStyle = paneStyle.BorderForeground(accent)

	statusStyle = lipgloss.NewStyle().Foreground(muted)
	errorStyle  = lipgloss.NewStyle().Foreground(danger).Bold(true)
	helpStyle   = lipgloss.NewStyle().Foreground(muted).Italic(true)
)
