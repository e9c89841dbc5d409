package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jonboulle/clockwork"

	"github.com/NagendraKandula/beacon/internal/alert"
	"github.com/NagendraKandula/beacon/internal/notify"
	"github.com/NagendraKandula/beacon/internal/scheduler"
	"github.com/NagendraKandula/beacon/internal/score"
	"github.com/NagendraKandula/beacon/internal/transport"
	"github.com/NagendraKandula/beacon/internal/tui/status"
	"github.com/NagendraKandula/beacon/internal/tui/theme"
)

const (
	tickInterval = time.Second
	maxNotes     = 6
)

// Telemetry reports the state of the live channel.
type Telemetry interface {
	Stats() transport.Stats
}

// Background reports the state of the periodic delivery task.
type Background interface {
	Armed() bool
	Degraded() bool
	Stats() scheduler.Stats
}

// SOS is the double-press emergency trigger.
type SOS interface {
	Press(ctx context.Context) alert.Result
	Phase() alert.Phase
	Deadline() (time.Time, bool)
}

// Scores exposes the destination safety score.
type Scores interface {
	Refresh(ctx context.Context)
	Latest() (score.Reading, bool, error)
}

// Deps wires the model to the running subsystem. Background and Scores are
// optional.
type Deps struct {
	Session       string
	UnsafeLevel   string
	Telemetry     Telemetry
	Background    Background
	SOS           SOS
	Scores        Scores
	Notifications <-chan notify.Notification
	Clock         clockwork.Clock
}

type tickMsg time.Time

type notificationMsg notify.Notification

type sosMsg alert.Result

type scoreMsg struct{}

// Model is the root Bubble Tea model.
type Model struct {
	deps   Deps
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	statusBar status.Model

	telemetry transport.Stats
	phase     alert.Phase
	deadline  time.Time
	lastSOS   *alert.Result
	reading   score.Reading
	hasScore  bool
	scoreErr  error
	notes     []notify.Notification
}

// New creates the root model.
func New(deps Deps) Model {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.UnsafeLevel == "" {
		deps.UnsafeLevel = transport.DefaultUnsafeLevel
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := Model{
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		statusBar: status.New(deps.Session),
	}
	m.refresh()
	return m
}

// Init starts the refresh tick and the notification pump.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.waitNotification())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.refresh()
		return m, tick()

	case notificationMsg:
		m.notes = append([]notify.Notification{notify.Notification(msg)}, m.notes...)
		if len(m.notes) > maxNotes {
			m.notes = m.notes[:maxNotes]
		}
		return m, m.waitNotification()

	case sosMsg:
		r := alert.Result(msg)
		if r.Outcome != alert.Suppressed {
			m.lastSOS = &r
		}
		m.refresh()
		return m, nil

	case scoreMsg:
		m.refresh()
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.SOS):
		if m.deps.SOS == nil {
			return m, nil
		}
		ctx, sos := m.ctx, m.deps.SOS
		return m, func() tea.Msg {
			return sosMsg(sos.Press(ctx))
		}

	case key.Matches(msg, m.keys.Refresh):
		if m.deps.Scores == nil {
			return m, nil
		}
		ctx, scores := m.ctx, m.deps.Scores
		return m, func() tea.Msg {
			scores.Refresh(ctx)
			return scoreMsg{}
		}

	case key.Matches(msg, m.keys.Clear):
		m.notes = nil
		return m, nil
	}

	return m, nil
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) waitNotification() tea.Cmd {
	ch := m.deps.Notifications
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return notificationMsg(n)
	}
}

// refresh pulls a fresh snapshot from every wired component.
func (m *Model) refresh() {
	if m.deps.Telemetry != nil {
		m.telemetry = m.deps.Telemetry.Stats()
		m.statusBar.Telemetry = m.telemetry
	}
	if bg := m.deps.Background; bg != nil {
		m.statusBar.Armed = bg.Armed()
		m.statusBar.Degraded = bg.Degraded()
		m.statusBar.Background = bg.Stats()
	}
	if m.deps.SOS != nil {
		m.phase = m.deps.SOS.Phase()
		m.deadline, _ = m.deps.SOS.Deadline()
	}
	if m.deps.Scores != nil {
		m.reading, m.hasScore, m.scoreErr = m.deps.Scores.Latest()
	}
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	sections := []string{m.statusBar.View()}
	if m.telemetry.State != transport.Open {
		sections = append(sections, theme.StyleBanner.Render("DISCONNECTED  Reconnecting to the monitoring service..."))
	}
	sections = append(sections,
		m.renderRisk(),
		m.renderSOS(),
		m.renderNotes(),
		theme.StyleDimmed.Render("  s:sos  r:refresh score  c:clear  q:quit"),
	)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderRisk() string {
	lines := []string{theme.StyleHeader.Render("=== SAFETY ===")}

	risk := m.telemetry.LastRisk
	switch {
	case risk == "":
		lines = append(lines, theme.StyleDimmed.Render("  Risk: waiting for first update"))
	case risk == m.deps.UnsafeLevel:
		lines = append(lines, "  Risk: "+lipgloss.NewStyle().Foreground(theme.ColorDanger).Bold(true).Render(risk))
	default:
		lines = append(lines, "  Risk: "+lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render(risk))
	}

	switch {
	case m.hasScore:
		s := lipgloss.NewStyle().Foreground(theme.ScoreColor(m.reading.Score.Score)).
			Render(fmt.Sprintf("%.0f %s", m.reading.Score.Score, m.reading.Level))
		line := "  Score: " + s
		if m.reading.District != "" {
			line += theme.StyleDimmed.Render("  (" + m.reading.District + ")")
		}
		lines = append(lines, line)
		for _, r := range m.reading.Reasons {
			lines = append(lines, theme.StyleDimmed.Render("    - "+r))
		}
	case m.scoreErr != nil:
		lines = append(lines, lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("  Score unavailable: "+m.scoreErr.Error()))
	case m.deps.Scores != nil:
		lines = append(lines, theme.StyleDimmed.Render("  Score: pending"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderSOS() string {
	lines := []string{theme.StyleHeader.Render("=== SOS ===")}

	switch m.phase {
	case alert.Armed:
		left := time.Duration(math.Ceil(m.deadline.Sub(m.deps.Clock.Now()).Seconds())) * time.Second
		if left < 0 {
			left = 0
		}
		lines = append(lines, lipgloss.NewStyle().Foreground(theme.ColorDanger).Bold(true).
			Render(fmt.Sprintf("  ARMED: press s again within %s to send", left)))
	case alert.Submitting:
		lines = append(lines, lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("  Sending SOS..."))
	default:
		lines = append(lines, theme.StyleDimmed.Render("  Press s twice to send an emergency signal"))
	}

	if r := m.lastSOS; r != nil {
		switch r.Outcome {
		case alert.Sent:
			lines = append(lines, lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("  Last: SOS sent ("+r.Key+")"))
		case alert.Failed:
			lines = append(lines, lipgloss.NewStyle().Foreground(theme.ColorDanger).Render(fmt.Sprintf("  Last: SOS failed: %v", r.Err)))
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderNotes() string {
	lines := []string{theme.StyleHeader.Render("=== NOTIFICATIONS ===")}
	if len(m.notes) == 0 {
		lines = append(lines, theme.StyleDimmed.Render("  None"))
	}
	for _, n := range m.notes {
		badge := lipgloss.NewStyle().Foreground(theme.KindColor(string(n.Kind))).
			Render("[" + strings.ToUpper(string(n.Kind)) + "]")
		ts := ""
		if !n.At.IsZero() {
			ts = theme.StyleDimmed.Render(n.At.Local().Format("15:04:05") + " ")
		}
		lines = append(lines, "  "+ts+badge+" "+n.Title+": "+n.Body)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
