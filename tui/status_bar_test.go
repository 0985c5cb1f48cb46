// ABOUTME: Tests for the StatusBarModel session status line.
// ABOUTME: Covers state transitions, the turn clock, elapsed-time formatting, and view content.
package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/2389-research/tern/agent"
)

func TestNewStatusBarModel(t *testing.T) {
	m := NewStatusBarModel("gemini-2.5-pro")

	if m.modelName != "gemini-2.5-pro" {
		t.Errorf("modelName = %q, want %q", m.modelName, "gemini-2.5-pro")
	}
	if m.state != agent.StateIdle {
		t.Errorf("state = %q, want %q", m.state, agent.StateIdle)
	}
	if !m.turnStart.IsZero() {
		t.Error("turn clock should not be running initially")
	}
}

func TestStatusBarSetStateStartsTurnClock(t *testing.T) {
	m := NewStatusBarModel("gemini-2.5-pro")

	m.SetState(agent.StateResponding)
	if m.turnStart.IsZero() {
		t.Error("entering responding should start the turn clock")
	}

	// Confirmation wait keeps the same turn clock running.
	started := m.turnStart
	m.SetState(agent.StateWaitingForConfirmation)
	if !m.turnStart.Equal(started) {
		t.Error("waiting for confirmation should not restart the clock")
	}

	m.SetState(agent.StateIdle)
	if !m.turnStart.IsZero() {
		t.Error("returning to idle should stop the turn clock")
	}
}

func TestStatusBarElapsedZeroWhenIdle(t *testing.T) {
	m := NewStatusBarModel("gemini-2.5-pro")
	if m.Elapsed() != 0 {
		t.Errorf("Elapsed() = %v, want 0", m.Elapsed())
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{12 * time.Second, "12s"},
		{59 * time.Second, "59s"},
		{time.Minute, "1m0s"},
		{150 * time.Second, "2m30s"},
		{61*time.Minute + time.Second, "61m1s"},
	}

	for _, tt := range tests {
		if got := formatElapsed(tt.d); got != tt.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestStateLabel(t *testing.T) {
	tests := []struct {
		state agent.OrchestratorState
		want  string
	}{
		{agent.StateIdle, "idle"},
		{agent.StateResponding, "responding"},
		{agent.StateWaitingForConfirmation, "awaiting approval"},
	}

	for _, tt := range tests {
		if got := stateLabel(tt.state); got != tt.want {
			t.Errorf("stateLabel(%q) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestStatusBarViewContainsFields(t *testing.T) {
	m := NewStatusBarModel("gemini-2.5-flash")
	m.SetWidth(80)
	m.SetPromptCount(3)

	view := m.View()
	if !strings.Contains(view, "gemini-2.5-flash") {
		t.Errorf("expected model name in view, got %q", view)
	}
	if !strings.Contains(view, "idle") {
		t.Errorf("expected state label in view, got %q", view)
	}
	if !strings.Contains(view, "3 prompts") {
		t.Errorf("expected prompt count in view, got %q", view)
	}
}

func TestStatusBarViewShowsElapsedWhileResponding(t *testing.T) {
	m := NewStatusBarModel("gemini-2.5-pro")
	m.SetWidth(80)
	m.SetState(agent.StateResponding)

	view := m.View()
	if !strings.Contains(view, "responding") {
		t.Errorf("expected responding label, got %q", view)
	}
	if !strings.Contains(view, "0s") {
		t.Errorf("expected elapsed time, got %q", view)
	}
}
