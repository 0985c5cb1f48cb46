// ABOUTME: Bubble Tea message types used in the TUI message loop.
// ABOUTME: Each type wraps an orchestrator event for the tea.Msg interface (which is interface{}).
package tui

import (
	"time"

	"github.com/2389-research/tern/agent"
)

// TranscriptItemMsg carries one finalized transcript entry from the
// orchestrator's history sink.
type TranscriptItemMsg struct {
	Item TranscriptItem
}

// PendingTextMsg carries the live streaming buffer after every change. An
// empty text clears the pending block.
type PendingTextMsg struct {
	Text string
}

// ThoughtMsg carries a model reasoning summary as it streams.
type ThoughtMsg struct {
	Thought agent.ThoughtSummary
}

// StateMsg signals an orchestrator state transition.
type StateMsg struct {
	State agent.OrchestratorState
}

// ToolCallsMsg carries a snapshot of the in-flight tool batch after a
// scheduler status change.
type ToolCallsMsg struct {
	Calls []ToolCallView
}

// ConfirmationRequestMsg signals that a tool call is awaiting user approval.
type ConfirmationRequestMsg struct {
	Confirmation ConfirmationView
}

// PromptResultMsg signals that a submitted prompt finished its full cascade:
// the model turn, any tool batches, and their continuations.
type PromptResultMsg struct {
	Err error
}

// EditorFinishedMsg reports the outcome of an external $EDITOR session opened
// to modify a tool call's arguments before approval.
type EditorFinishedMsg struct {
	CallID string
	Path   string
	Err    error
}

// TickMsg is sent periodically to update timers and spinners.
type TickMsg struct {
	Time time.Time
}
