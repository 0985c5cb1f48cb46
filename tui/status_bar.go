// ABOUTME: Single-line status bar for the bottom of the chat TUI.
// ABOUTME: Shows the active model, orchestrator state, prompt count, and elapsed time for the running turn.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/tern/agent"
)

// StatusBarModel displays session status in a single line.
type StatusBarModel struct {
	modelName   string
	state       agent.OrchestratorState
	promptCount int
	turnStart   time.Time
	width       int
}

// NewStatusBarModel creates a StatusBarModel for the given model name.
func NewStatusBarModel(modelName string) StatusBarModel {
	return StatusBarModel{
		modelName: modelName,
		state:     agent.StateIdle,
	}
}

// SetState records an orchestrator state transition. Entering the responding
// state from idle starts the turn clock; returning to idle stops it.
func (m *StatusBarModel) SetState(state agent.OrchestratorState) {
	if state == agent.StateResponding && m.state == agent.StateIdle {
		m.turnStart = time.Now()
	}
	if state == agent.StateIdle {
		m.turnStart = time.Time{}
	}
	m.state = state
}

// SetModelName updates the displayed model; quota fallback can change it
// mid-session.
func (m *StatusBarModel) SetModelName(name string) {
	m.modelName = name
}

// SetPromptCount updates the number of prompts submitted this session.
func (m *StatusBarModel) SetPromptCount(n int) {
	m.promptCount = n
}

// SetWidth sets the bar width for rendering.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// Elapsed returns the time since the running turn started, or zero when idle.
func (m StatusBarModel) Elapsed() time.Duration {
	if m.turnStart.IsZero() {
		return 0
	}
	return time.Since(m.turnStart)
}

// formatElapsed formats a duration as a human-readable string.
// Durations under a minute show as seconds (e.g. "12s").
// Durations of a minute or more show as minutes and seconds (e.g. "2m30s").
func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) - minutes*60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// stateLabel maps orchestrator states to the short label shown in the bar.
func stateLabel(state agent.OrchestratorState) string {
	switch state {
	case agent.StateResponding:
		return "responding"
	case agent.StateWaitingForConfirmation:
		return "awaiting approval"
	default:
		return "idle"
	}
}

// View renders the status bar as a single styled line.
func (m StatusBarModel) View() string {
	content := fmt.Sprintf("%s | %s | %d prompts", m.modelName, stateLabel(m.state), m.promptCount)
	if !m.turnStart.IsZero() {
		content += fmt.Sprintf(" | %s", formatElapsed(m.Elapsed()))
	}

	style := StatusBarStyle.Width(m.width)

	return lipgloss.PlaceHorizontal(m.width, lipgloss.Left, style.Render(content))
}
