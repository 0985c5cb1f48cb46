// ABOUTME: Tests for the EventBridge, SubmitPromptCmd, and TickCmd.
// ABOUTME: Validates snapshotting of mutable scheduler state into view types before crossing goroutines.
package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/tern/agent"
)

func TestNewEventBridge(t *testing.T) {
	called := false
	send := func(msg tea.Msg) {
		called = true
	}

	bridge := NewEventBridge(send)
	if bridge == nil {
		t.Fatal("NewEventBridge returned nil")
	}
	if bridge.send == nil {
		t.Fatal("EventBridge.send is nil")
	}

	bridge.send(nil)
	if !called {
		t.Error("send function was not called")
	}
}

func TestEventBridgeOptions(t *testing.T) {
	bridge := NewEventBridge(func(tea.Msg) {})
	opts := bridge.Options()

	if len(opts) != 6 {
		t.Fatalf("Options() returned %d options, want 6", len(opts))
	}
	for i, opt := range opts {
		if opt == nil {
			t.Errorf("option[%d] is nil", i)
		}
	}
}

func TestEventBridgeHandleHistory(t *testing.T) {
	var received tea.Msg
	bridge := NewEventBridge(func(msg tea.Msg) { received = msg })

	bridge.HandleHistory(agent.HistoryItem{
		Type: agent.HistoryModel,
		Text: "The answer is 42.",
	})

	msg, ok := received.(TranscriptItemMsg)
	if !ok {
		t.Fatalf("received message is %T, want TranscriptItemMsg", received)
	}
	if msg.Item.Type != agent.HistoryModel {
		t.Errorf("Item.Type = %q, want %q", msg.Item.Type, agent.HistoryModel)
	}
	if msg.Item.Text != "The answer is 42." {
		t.Errorf("Item.Text = %q, want %q", msg.Item.Text, "The answer is 42.")
	}
}

func TestEventBridgeHandleHistoryFlattensCalls(t *testing.T) {
	var received tea.Msg
	bridge := NewEventBridge(func(msg tea.Msg) { received = msg })

	bridge.HandleHistory(agent.HistoryItem{
		Type: agent.HistoryToolGroup,
		Calls: []*agent.TrackedToolCall{
			{
				Request: &agent.ToolCallRequest{CallID: "call-1", Name: "read_file"},
				Status:  agent.StatusSuccess,
				Response: &agent.ToolCallResponse{
					CallID:        "call-1",
					ResultDisplay: "3 lines",
				},
			},
		},
	})

	msg, ok := received.(TranscriptItemMsg)
	if !ok {
		t.Fatalf("received message is %T, want TranscriptItemMsg", received)
	}
	if len(msg.Item.Calls) != 1 {
		t.Fatalf("Item.Calls length = %d, want 1", len(msg.Item.Calls))
	}
	call := msg.Item.Calls[0]
	if call.CallID != "call-1" {
		t.Errorf("CallID = %q, want %q", call.CallID, "call-1")
	}
	if call.Name != "read_file" {
		t.Errorf("Name = %q, want %q", call.Name, "read_file")
	}
	if call.Status != agent.StatusSuccess {
		t.Errorf("Status = %q, want %q", call.Status, agent.StatusSuccess)
	}
	if call.ResultDisplay != "3 lines" {
		t.Errorf("ResultDisplay = %q, want %q", call.ResultDisplay, "3 lines")
	}
}

func TestEventBridgeHandlePending(t *testing.T) {
	var received tea.Msg
	bridge := NewEventBridge(func(msg tea.Msg) { received = msg })

	bridge.HandlePending("streaming tex")

	msg, ok := received.(PendingTextMsg)
	if !ok {
		t.Fatalf("received message is %T, want PendingTextMsg", received)
	}
	if msg.Text != "streaming tex" {
		t.Errorf("Text = %q, want %q", msg.Text, "streaming tex")
	}
}

func TestEventBridgeHandleThought(t *testing.T) {
	var received tea.Msg
	bridge := NewEventBridge(func(msg tea.Msg) { received = msg })

	bridge.HandleThought(agent.ThoughtSummary{
		Subject:     "Choosing an approach",
		Description: "Weighing grep against glob.",
	})

	msg, ok := received.(ThoughtMsg)
	if !ok {
		t.Fatalf("received message is %T, want ThoughtMsg", received)
	}
	if msg.Thought.Subject != "Choosing an approach" {
		t.Errorf("Subject = %q, want %q", msg.Thought.Subject, "Choosing an approach")
	}
}

func TestEventBridgeHandleState(t *testing.T) {
	var received tea.Msg
	bridge := NewEventBridge(func(msg tea.Msg) { received = msg })

	bridge.HandleState(agent.StateResponding)

	msg, ok := received.(StateMsg)
	if !ok {
		t.Fatalf("received message is %T, want StateMsg", received)
	}
	if msg.State != agent.StateResponding {
		t.Errorf("State = %q, want %q", msg.State, agent.StateResponding)
	}
}

func TestEventBridgeHandleToolCallsSnapshots(t *testing.T) {
	var received tea.Msg
	bridge := NewEventBridge(func(msg tea.Msg) { received = msg })

	call := &agent.TrackedToolCall{
		Request: &agent.ToolCallRequest{CallID: "call-7", Name: "shell"},
		Status:  agent.StatusExecuting,
	}
	bridge.HandleToolCalls([]*agent.TrackedToolCall{call})

	// Mutate the tracked call after the handler returns. The snapshot must
	// not change: that is the whole point of the view types.
	call.Status = agent.StatusSuccess
	call.Response = &agent.ToolCallResponse{ResultDisplay: "done"}

	msg, ok := received.(ToolCallsMsg)
	if !ok {
		t.Fatalf("received message is %T, want ToolCallsMsg", received)
	}
	if len(msg.Calls) != 1 {
		t.Fatalf("Calls length = %d, want 1", len(msg.Calls))
	}
	if msg.Calls[0].Status != agent.StatusExecuting {
		t.Errorf("snapshot Status = %q, want %q", msg.Calls[0].Status, agent.StatusExecuting)
	}
	if msg.Calls[0].ResultDisplay != "" {
		t.Errorf("snapshot ResultDisplay = %q, want empty", msg.Calls[0].ResultDisplay)
	}
}

func TestEventBridgeHandleToolCallsCapturesError(t *testing.T) {
	var received tea.Msg
	bridge := NewEventBridge(func(msg tea.Msg) { received = msg })

	bridge.HandleToolCalls([]*agent.TrackedToolCall{
		{
			Request: &agent.ToolCallRequest{CallID: "call-2", Name: "glob"},
			Status:  agent.StatusError,
			Response: &agent.ToolCallResponse{
				ResultDisplay: "pattern invalid",
				Err:           errors.New("pattern invalid"),
			},
		},
	})

	msg := received.(ToolCallsMsg)
	if msg.Calls[0].Error != "pattern invalid" {
		t.Errorf("Error = %q, want %q", msg.Calls[0].Error, "pattern invalid")
	}
}

func TestEventBridgeHandleConfirmation(t *testing.T) {
	var received tea.Msg
	bridge := NewEventBridge(func(msg tea.Msg) { received = msg })

	args := map[string]any{"command": "ls -la"}
	call := &agent.TrackedToolCall{
		Request: &agent.ToolCallRequest{CallID: "call-3", Name: "shell", Args: args},
		Status:  agent.StatusAwaitingApproval,
		Confirmation: &agent.ConfirmationRequest{
			Kind:    agent.KindExecute,
			Title:   "Run shell command?",
			Command: "ls -la",
		},
	}
	bridge.HandleConfirmation(call)

	// Mutating the original args must not leak into the snapshot.
	args["command"] = "rm -rf /"

	msg, ok := received.(ConfirmationRequestMsg)
	if !ok {
		t.Fatalf("received message is %T, want ConfirmationRequestMsg", received)
	}
	c := msg.Confirmation
	if c.CallID != "call-3" {
		t.Errorf("CallID = %q, want %q", c.CallID, "call-3")
	}
	if c.Kind != agent.KindExecute {
		t.Errorf("Kind = %q, want %q", c.Kind, agent.KindExecute)
	}
	if c.Title != "Run shell command?" {
		t.Errorf("Title = %q, want %q", c.Title, "Run shell command?")
	}
	if c.Command != "ls -la" {
		t.Errorf("Command = %q, want %q", c.Command, "ls -la")
	}
	if c.Args["command"] != "ls -la" {
		t.Errorf("snapshot Args[command] = %v, want %q", c.Args["command"], "ls -la")
	}
}

func TestSubmitPromptCmdBlankQuery(t *testing.T) {
	session := agent.NewSession(agent.WithModel("gemini-2.5-pro"))
	orc := agent.NewOrchestrator(session, nil, agent.NewToolRegistry())

	cmd := SubmitPromptCmd(context.Background(), orc, "   ")
	if cmd == nil {
		t.Fatal("SubmitPromptCmd returned nil")
	}

	msg := cmd()
	result, ok := msg.(PromptResultMsg)
	if !ok {
		t.Fatalf("cmd returned %T, want PromptResultMsg", msg)
	}
	if result.Err != nil {
		t.Errorf("blank query should be a no-op, got error %v", result.Err)
	}
}

func TestTickCmdSendsAfterInterval(t *testing.T) {
	interval := 10 * time.Millisecond
	cmd := TickCmd(interval)
	if cmd == nil {
		t.Fatal("TickCmd returned nil")
	}

	before := time.Now()
	msg := cmd()
	elapsed := time.Since(before)

	tick, ok := msg.(TickMsg)
	if !ok {
		t.Fatalf("cmd returned %T, want TickMsg", msg)
	}
	if tick.Time.IsZero() {
		t.Error("TickMsg.Time is zero")
	}

	// Should have slept at least the interval
	if elapsed < interval {
		t.Errorf("elapsed = %v, want >= %v", elapsed, interval)
	}
}
