package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/thobiasn/loglens/internal/logview"
)

// Theme holds all colors used by the TUI. Views reference theme fields,
// never raw color values.
type Theme struct {
	Fg     lipgloss.Color
	Muted  lipgloss.Color // gray for secondary text
	Accent lipgloss.Color // range selector, spinner
	Live   lipgloss.Color // LIVE badge
	Banner lipgloss.Color // error banner background

	// Per-level row colors.
	Debug   lipgloss.Color
	Info    lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
}

// DefaultTheme returns the default color theme using standard terminal colors.
func DefaultTheme() Theme {
	return Theme{
		Fg:      lipgloss.Color("7"),
		Muted:   lipgloss.Color("8"),
		Accent:  lipgloss.Color("14"),
		Live:    lipgloss.Color("10"),
		Banner:  lipgloss.Color("1"),
		Debug:   lipgloss.Color("8"),   // gray
		Info:    lipgloss.Color("12"),  // blue
		Warning: lipgloss.Color("208"), // orange
		Error:   lipgloss.Color("9"),   // red
	}
}

// LevelColor returns the row color for a log level.
func (t Theme) LevelColor(l logview.Level) lipgloss.Color {
	switch l {
	case logview.Info:
		return t.Info
	case logview.Warning:
		return t.Warning
	case logview.Error:
		return t.Error
	default:
		return t.Debug
	}
}

// LevelStyle returns a foreground style for a log level.
func (t Theme) LevelStyle(l logview.Level) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.LevelColor(l))
}
