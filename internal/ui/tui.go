// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and bridges it to the session loop
package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/neurobridge/mitrain/internal/training"
)

// Control holds channels for communication between the TUI and the session
type Control struct {
	Triggers chan training.Trigger

	mu      sync.Mutex
	program *tea.Program
	updates chan tea.Msg
	stopped bool
}

// NewControl creates a new control handler
func NewControl() *Control {
	return &Control{
		Triggers: make(chan training.Trigger, 16),
		updates:  make(chan tea.Msg, 32),
	}
}

// NewModel creates a new TUI model
func NewModel(sessionID string, triggers chan<- training.Trigger) Model {
	return Model{
		session:  sessionID,
		triggers: triggers,
		snap:     training.Snapshot{State: training.PreTraining},
	}
}

// Run starts the TUI and blocks until it exits
func (c *Control) Run(sessionID string) error {
	p := tea.NewProgram(NewModel(sessionID, c.Triggers), tea.WithAltScreen())

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.program = p
	c.mu.Unlock()

	go func() {
		for msg := range c.updates {
			p.Send(msg)
		}
	}()

	_, err := p.Run()
	return err
}

// Snapshot forwards a controller snapshot to the TUI
func (c *Control) Snapshot(s training.Snapshot) {
	c.post(SnapshotMsg(s))
}

// Links forwards connection status to the TUI
func (c *Control) Links(l LinkStatus) {
	c.post(LinkMsg(l))
}

func (c *Control) post(msg tea.Msg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	select {
	case c.updates <- msg:
	default:
		// Don't block the session loop if the TUI is behind
	}
}

// Stop stops the TUI
func (c *Control) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	if c.program != nil {
		c.program.Quit()
	}
	close(c.updates)
}
