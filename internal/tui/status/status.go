package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/NagendraKandula/beacon/internal/scheduler"
	"github.com/NagendraKandula/beacon/internal/transport"
	"github.com/NagendraKandula/beacon/internal/tui/theme"
)

// Model holds the status bar state.
type Model struct {
	Session    string
	Telemetry  transport.Stats
	Background scheduler.Stats
	Armed      bool
	Degraded   bool
	Width      int
}

// New creates a status bar model.
func New(session string) Model {
	return Model{Session: session}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	switch m.Telemetry.State {
	case transport.Open:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Streaming")
	case transport.Connecting:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("○ Connecting...")
	default:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Offline")
	}

	session := m.Session
	if session == "" {
		session = "no trip"
	}

	counts := fmt.Sprintf("%d sent  %d dropped  %d reconnects",
		m.Telemetry.Sent, m.Telemetry.Dropped, m.Telemetry.Reconnects)

	var bg string
	switch {
	case m.Degraded:
		bg = lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("background: foreground only")
	case m.Armed:
		bg = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render(
			fmt.Sprintf("background: %d delivered", m.Background.Delivered))
	default:
		bg = theme.StyleDimmed.Render("background: off")
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + session + sep + counts + sep + bg

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
