package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/thobiasn/loglens/internal/logview"
)

const newLogsText = "▼ View new logs available (G)"

func spinnerStyle(t Theme) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Accent)
}

func (a App) View() string {
	if a.width <= 0 || a.height <= 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(a.statusBar())
	b.WriteByte('\n')
	for _, line := range a.bodyLines() {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(a.footer())
	return b.String()
}

// statusBar renders "<title> <range> <state> <count> ... LIVE".
func (a App) statusBar() string {
	muted := lipgloss.NewStyle().Foreground(a.theme.Muted)
	accent := lipgloss.NewStyle().Foreground(a.theme.Accent).Bold(true)

	var parts []string
	if a.title != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(a.theme.Fg).Bold(true).Render(a.title))
	}
	parts = append(parts, accent.Render(a.mgr.Pending().String()))

	switch a.mgr.State() {
	case logview.Loading:
		parts = append(parts, a.spinner.View()+muted.Render(" loading"))
	case logview.Merging:
		parts = append(parts, a.spinner.View())
	}
	if a.mgr.Loaded() {
		count := countLabel(a.mgr.Len())
		if a.mgr.Truncated() {
			// The agent's row limit cut the range short.
			count = lipgloss.NewStyle().Foreground(a.theme.Warning).Render("newest " + count)
		} else {
			count = muted.Render(count)
		}
		parts = append(parts, count)
	}
	left := strings.Join(parts, "  ")

	right := a.badge()
	gap := a.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		return ansi.Truncate(left, a.width, "…")
	}
	return left + strings.Repeat(" ", gap) + right
}

// badge is LIVE while the view follows new rows, PAUSED once scrolled up.
func (a App) badge() string {
	if a.vp.State().AtBottom {
		return lipgloss.NewStyle().Foreground(a.theme.Live).Bold(true).Render("● LIVE")
	}
	return lipgloss.NewStyle().Foreground(a.theme.Muted).Render("‖ PAUSED")
}

func countLabel(n int) string {
	if n == 1 {
		return "1 line"
	}
	return fmt.Sprintf("%d lines", n)
}

// bodyLines renders exactly bodyHeight lines of log rows.
func (a App) bodyLines() []string {
	lines := make([]string, a.bodyHeight())
	if len(lines) == 0 {
		return lines
	}

	s := a.vp.Render(a.mgr)
	if len(s.Rows) == 0 {
		lines[0] = lipgloss.NewStyle().Foreground(a.theme.Muted).Render(a.emptyText())
		return lines
	}
	for _, row := range s.Rows {
		style := a.theme.LevelStyle(row.Line.Level)
		for j, text := range row.Text {
			if y := row.Top + j; y < len(lines) {
				lines[y] = style.Render(text)
			}
		}
	}
	return lines
}

func (a App) emptyText() string {
	switch {
	case !a.mgr.Loaded() && a.mgr.State() == logview.Loading:
		return "Loading logs…"
	case !a.mgr.Loaded():
		return "No logs loaded."
	default:
		return "No logs in " + strings.ToLower(a.mgr.Range().String()) + "."
	}
}

// footer shows, in order of priority, the full help, the error banner,
// the new-logs indicator or the short help.
func (a App) footer() string {
	if a.showHelp {
		return a.help.View(a.keys)
	}
	if err := a.mgr.Err(); err != nil {
		banner := lipgloss.NewStyle().
			Background(a.theme.Banner).
			Foreground(lipgloss.Color("15")).
			Bold(true)
		text := ansi.Truncate(fmt.Sprintf(" Failed to load logs: %v (r to retry)", err), a.width, "…")
		return banner.Width(a.width).Render(text)
	}
	if a.vp.State().ShowNewLogs {
		return lipgloss.NewStyle().Foreground(a.theme.Accent).Bold(true).Render(newLogsText)
	}
	return a.help.View(a.keys)
}
