// ABOUTME: Bridge connecting orchestrator event sinks to the Bubble Tea message loop.
// ABOUTME: Snapshots mutable scheduler state into view types and provides tea.Cmd factories for prompts and ticks.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/tern/agent"
)

// TranscriptItem is the UI-side copy of a history item. Tool calls are
// flattened into ToolCallViews so the transcript never holds pointers the
// scheduler goroutine may still mutate.
type TranscriptItem struct {
	Type  agent.HistoryItemType
	Text  string
	Calls []ToolCallView
}

// ToolCallView is an immutable snapshot of one tracked tool call.
type ToolCallView struct {
	CallID        string
	Name          string
	Status        agent.ToolCallStatus
	ResultDisplay string
	Error         string
}

// ConfirmationView is an immutable snapshot of a confirmation request plus
// the identifiers needed to answer it.
type ConfirmationView struct {
	CallID      string
	Name        string
	Args        map[string]any
	Kind        agent.ToolKind
	Title       string
	Description string
	Command     string
	FilePath    string
	NewContent  string
	ServerName  string
	ToolName    string
}

// EventBridge wraps a tea.Program's Send method for injecting orchestrator
// events into the Bubble Tea message loop. Sink callbacks fire on the
// orchestrator's goroutines, so every mutable payload is copied into a view
// type before crossing into the message loop.
type EventBridge struct {
	send func(msg tea.Msg)
}

// NewEventBridge creates an EventBridge that sends messages via the given
// function. Typically called with program.Send as the argument.
func NewEventBridge(send func(msg tea.Msg)) *EventBridge {
	return &EventBridge{send: send}
}

// Options returns the orchestrator options that route every event sink
// through this bridge.
func (b *EventBridge) Options() []agent.OrchestratorOption {
	return []agent.OrchestratorOption{
		agent.WithHistorySink(b.HandleHistory),
		agent.WithPendingSink(b.HandlePending),
		agent.WithThoughtSink(b.HandleThought),
		agent.WithStateSink(b.HandleState),
		agent.WithToolSink(b.HandleToolCalls),
		agent.WithConfirmationRequestSink(b.HandleConfirmation),
	}
}

// HandleHistory forwards a finalized transcript item.
func (b *EventBridge) HandleHistory(item agent.HistoryItem) {
	b.send(TranscriptItemMsg{Item: snapshotItem(item)})
}

// HandlePending forwards the live streaming buffer.
func (b *EventBridge) HandlePending(text string) {
	b.send(PendingTextMsg{Text: text})
}

// HandleThought forwards a model reasoning summary.
func (b *EventBridge) HandleThought(t agent.ThoughtSummary) {
	b.send(ThoughtMsg{Thought: t})
}

// HandleState forwards an orchestrator state transition.
func (b *EventBridge) HandleState(state agent.OrchestratorState) {
	b.send(StateMsg{State: state})
}

// HandleToolCalls forwards a snapshot of the scheduler's current batch.
func (b *EventBridge) HandleToolCalls(calls []*agent.TrackedToolCall) {
	b.send(ToolCallsMsg{Calls: snapshotCalls(calls)})
}

// HandleConfirmation forwards a call awaiting approval.
func (b *EventBridge) HandleConfirmation(call *agent.TrackedToolCall) {
	b.send(ConfirmationRequestMsg{Confirmation: snapshotConfirmation(call)})
}

func snapshotItem(item agent.HistoryItem) TranscriptItem {
	return TranscriptItem{
		Type:  item.Type,
		Text:  item.Text,
		Calls: snapshotCalls(item.Calls),
	}
}

func snapshotCalls(calls []*agent.TrackedToolCall) []ToolCallView {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCallView, 0, len(calls))
	for _, call := range calls {
		out = append(out, snapshotCall(call))
	}
	return out
}

func snapshotCall(call *agent.TrackedToolCall) ToolCallView {
	view := ToolCallView{Status: call.Status}
	if call.Request != nil {
		view.CallID = call.Request.CallID
		view.Name = call.Request.Name
	}
	if call.Response != nil {
		view.ResultDisplay = call.Response.ResultDisplay
		if call.Response.Err != nil {
			view.Error = call.Response.Err.Error()
		}
	}
	return view
}

func snapshotConfirmation(call *agent.TrackedToolCall) ConfirmationView {
	var view ConfirmationView
	if call.Request != nil {
		view.CallID = call.Request.CallID
		view.Name = call.Request.Name
		view.Args = make(map[string]any, len(call.Request.Args))
		for k, v := range call.Request.Args {
			view.Args[k] = v
		}
	}
	if c := call.Confirmation; c != nil {
		view.Kind = c.Kind
		view.Title = c.Title
		view.Description = c.Description
		view.Command = c.Command
		view.FilePath = c.FilePath
		view.NewContent = c.NewContent
		view.ServerName = c.ServerName
		view.ToolName = c.ToolName
	}
	return view
}

// SubmitPromptCmd returns a tea.Cmd that runs one prompt through the
// orchestrator. Submit blocks until the whole cascade finishes, so the call
// lives inside the command, which Bubble Tea runs on its own goroutine.
func SubmitPromptCmd(ctx context.Context, orc *agent.Orchestrator, query string) tea.Cmd {
	return func() tea.Msg {
		return PromptResultMsg{Err: orc.Submit(ctx, query)}
	}
}

// TickCmd returns a tea.Cmd that sends a TickMsg after the given interval.
// Used for the thinking spinner and the elapsed-time display.
func TickCmd(interval time.Duration) tea.Cmd {
	return func() tea.Msg {
		time.Sleep(interval)
		return TickMsg{Time: time.Now()}
	}
}
