// ABOUTME: Typed event stream shared by the Turn engine and the Stream Orchestrator.
// ABOUTME: Defines the Event union, tool call request/response records, and thought summaries.

package agent

import (
	"github.com/2389-research/tern/genai"
)

// EventType discriminates the variants of the turn event union.
type EventType string

const (
	EventContent              EventType = "content"
	EventThought              EventType = "thought"
	EventToolCallRequest      EventType = "tool_call_request"
	EventToolCallConfirmation EventType = "tool_call_confirmation"
	EventToolCallResponse     EventType = "tool_call_response"
	EventUserCancelled        EventType = "user_cancelled"
	EventError                EventType = "error"
	EventChatCompressed       EventType = "chat_compressed"
	EventFinished             EventType = "finished"
	EventMaxSessionTurns      EventType = "max_session_turns"
	EventLoopDetected         EventType = "loop_detected"
)

// Event is one element of the agent's typed event stream. Turns produce the
// content-bearing variants; the orchestrator raises the session-level ones
// (compression, turn limits, loop halts, scheduler lifecycle). Type selects
// the variant; the matching payload field is set and the rest are zero.
type Event struct {
	Type EventType

	// Content carries the text delta for EventContent.
	Content string

	// Thought carries the parsed reasoning summary for EventThought.
	Thought *ThoughtSummary

	// Request carries the pending call for EventToolCallRequest.
	Request *ToolCallRequest

	// Confirmation carries approval details for EventToolCallConfirmation.
	Confirmation *ConfirmationRequest

	// Response carries the finished call for EventToolCallResponse.
	Response *ToolCallResponse

	// Err describes the failure for EventError.
	Err *ErrorInfo

	// Compression reports token counts for EventChatCompressed.
	Compression *ChatCompressionInfo

	// Reason is the backend finish reason for EventFinished.
	Reason genai.FinishReason
}

// ThoughtSummary is the model's reasoning broken into a bolded subject line
// and the remaining description.
type ThoughtSummary struct {
	Subject     string
	Description string
}

// ErrorInfo is a turn failure in the form surfaced to the UI. Status holds
// the upstream HTTP status when one is known, 0 otherwise.
type ErrorInfo struct {
	Message string
	Status  int
}

// ChatCompressionInfo reports the token counts before and after a history
// compression pass.
type ChatCompressionInfo struct {
	OriginalTokenCount int
	NewTokenCount      int
}

// ToolCallRequest is the model's ask to run one tool. CallID is unique within
// a session; when the backend omits one the turn engine synthesizes it.
// IsClientInitiated marks calls issued by the UI (slash commands) whose
// results must not be echoed back to the model.
type ToolCallRequest struct {
	CallID            string         `json:"callId"`
	Name              string         `json:"name"`
	Args              map[string]any `json:"args"`
	IsClientInitiated bool           `json:"isClientInitiated"`
	PromptID          string         `json:"promptId"`
}

// ToolCallResponse captures a finished call in the form submitted back to
// the model. ResponseParts is non-empty for every terminal call so the model
// is never left with an unfulfilled function call.
type ToolCallResponse struct {
	CallID        string        `json:"callId"`
	ResponseParts []*genai.Part `json:"responseParts,omitempty"`
	ResultDisplay string        `json:"resultDisplay,omitempty"`
	Err           error         `json:"-"`
	ErrorType     ToolErrorType `json:"errorType,omitempty"`
}
