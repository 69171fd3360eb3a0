// ABOUTME: Bubbletea model for the training operator TUI
// ABOUTME: Renders controller snapshots and maps keys to session triggers
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/neurobridge/mitrain/internal/training"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	warnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("220"))

	helpStyle = lipgloss.NewStyle().Faint(true)
)

// keyTriggers maps operator keys to controller triggers
var keyTriggers = map[string]training.Trigger{
	" ":      training.TriggerStart,
	"space":  training.TriggerStart,
	"s":      training.TriggerStart,
	"esc":    training.TriggerAbort,
	"a":      training.TriggerAbort,
	"p":      training.TriggerPause,
	"i":      training.TriggerInvalidate,
	"insert": training.TriggerMark,
	"m":      training.TriggerMark,
	"b":      training.TriggerBaselineStart,
	"n":      training.TriggerBaselineStop,
	"f":      training.TriggerFinish,
}

// Model represents the TUI state
type Model struct {
	snap    training.Snapshot
	session string
	links   LinkStatus

	triggers chan<- training.Trigger
	lastKey  string
	dropped  int

	showDebug bool
	quitting  bool

	width  int
	height int
}

// LinkStatus describes the external connections shown in the header
type LinkStatus struct {
	Stims     bool
	Stream    bool
	Renderers int
}

// SnapshotMsg carries a fresh controller snapshot
type SnapshotMsg training.Snapshot

// LinkMsg updates connection indicators
type LinkMsg LinkStatus

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case SnapshotMsg:
		m.snap = training.Snapshot(msg)
		if m.snap.Finished || m.snap.Aborted {
			m.quitting = true
			return m, tea.Quit
		}
	case LinkMsg:
		m.links = LinkStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Ending session...\n"
	}
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderTrial())
	b.WriteString(m.renderFeedback())
	if m.showDebug {
		b.WriteString(m.renderDebug())
	}
	b.WriteString(m.renderHelp())
	return b.String()
}

// renderHeader renders session identity and link status
func (m Model) renderHeader() string {
	mode := "live"
	if m.snap.Demo {
		mode = "demo"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Motor Imagery Training"))
	b.WriteString(valueStyle.Render(fmt.Sprintf("  %s  (%s)", truncate(m.session, 36), mode)))
	b.WriteString("\n\n")

	b.WriteString(labelStyle.Render("Links:  "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("stims %s  stream %s  renderers %d",
		linkIcon(m.links.Stims), linkIcon(m.links.Stream), m.links.Renderers)))
	b.WriteString("\n")
	return b.String()
}

// renderTrial renders state, trial counter and score
func (m Model) renderTrial() string {
	var b strings.Builder

	b.WriteString(labelStyle.Render("State:  "))
	b.WriteString(valueStyle.Render(m.snap.State.String()))
	if m.snap.Paused {
		b.WriteString(" ")
		b.WriteString(warnStyle.Render("[paused]"))
	}
	if m.snap.Baseline {
		b.WriteString(" ")
		b.WriteString(warnStyle.Render("[baseline]"))
	}
	b.WriteString("\n")

	b.WriteString(labelStyle.Render("Trial:  "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d / %d  side %s  remaining %d  done %d%%",
		m.snap.TrialIndex, m.snap.TrialsTotal, m.snap.Side, m.snap.QueueLen, m.snap.Progress)))
	if m.snap.Invalid {
		b.WriteString(" ")
		b.WriteString(warnStyle.Render("[invalid]"))
	}
	if m.snap.TimedOut {
		b.WriteString(" ")
		b.WriteString(warnStyle.Render("[timeout]"))
	}
	b.WriteString("\n")

	b.WriteString(labelStyle.Render("Score:  "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("trial %.2f  total %.2f", m.snap.Score, m.snap.TotalScore)))
	b.WriteString("\n")
	return b.String()
}

// renderFeedback renders animation progress and classifier output
func (m Model) renderFeedback() string {
	var b strings.Builder

	b.WriteString(labelStyle.Render("Move:   "))
	b.WriteString(fmt.Sprintf("[%s] %3d%%", renderBar(m.snap.Animation, 100, 20), m.snap.Animation))
	b.WriteString("\n")

	b.WriteString(labelStyle.Render("Speed:  "))
	b.WriteString(fmt.Sprintf("[%s] %.2f", renderBar(int(m.snap.Speed*100), 100, 20), m.snap.Speed))
	b.WriteString("\n")

	fresh := "stale"
	if m.snap.Fresh {
		fresh = "fresh"
	}
	b.WriteString(labelStyle.Render("Class:  "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%+.3f (%s)", m.snap.Classification, fresh)))
	b.WriteString("\n")
	return b.String()
}

// renderDebug renders controller internals
func (m Model) renderDebug() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(warnStyle.Render("DEBUG"))
	b.WriteString("\n")
	b.WriteString(valueStyle.Render(fmt.Sprintf("  clock %s  last key %q  dropped triggers %d",
		m.snap.Clock.Round(time.Millisecond), m.lastKey, m.dropped)))
	b.WriteString("\n")
	pending := "none"
	if len(m.snap.Pending) > 0 {
		pending = strings.Join(m.snap.Pending, ", ")
	}
	b.WriteString(valueStyle.Render("  pending " + truncate(pending, 60)))
	b.WriteString("\n")
	return b.String()
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return "\n" + helpStyle.Render("space:Start  esc:Abort  p:Pause  i:Invalidate  m:Mark  b/n:Baseline  f:Finish  d:Debug  q:Quit") + "\n"
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	m.lastKey = key

	switch key {
	case "q", "ctrl+c":
		// Quitting the operator surface ends the session the same way Escape does
		m.send(training.TriggerAbort)
		m.quitting = true
		return m, tea.Quit
	case "d":
		m.showDebug = !m.showDebug
		return m, nil
	}

	if t, ok := keyTriggers[key]; ok {
		m.send(t)
	}
	return m, nil
}

func (m *Model) send(t training.Trigger) {
	if m.triggers == nil {
		return
	}
	select {
	case m.triggers <- t:
	default:
		m.dropped++
	}
}

// Utility functions
func renderBar(value, max, width int) string {
	if value < 0 {
		value = 0
	}
	if value > max {
		value = max
	}
	filled := (value * width) / max
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func linkIcon(up bool) string {
	if up {
		return "✓"
	}
	return "✗"
}
