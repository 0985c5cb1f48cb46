// ABOUTME: Turn engine translating one streaming generation into the typed event stream.
// ABOUTME: Parses thought summaries, synthesizes tool call ids, and classifies stream failures.

package agent

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/2389-research/tern/genai"
)

const (
	// turnEventBuffer sizes a turn's event channel.
	turnEventBuffer = 100

	// maxDebugResponses bounds the raw responses kept for diagnostics.
	maxDebugResponses = 32
)

// Turn drives one backend request and emits events until the stream ends or
// the context is cancelled. A Turn is not restartable.
type Turn struct {
	gen      genai.ContentGenerator
	promptID string

	mu             sync.Mutex
	pendingCalls   []*ToolCallRequest
	debugResponses []*genai.GenerateContentResponse
	finishReason   genai.FinishReason
	err            error
	authErr        error
	failedReq      *genai.GenerateContentRequest
	failedHistory  []*genai.Content
}

// NewTurn creates a turn bound to one prompt id.
func NewTurn(gen genai.ContentGenerator, promptID string) *Turn {
	return &Turn{
		gen:      gen,
		promptID: promptID,
	}
}

// Run starts the backend stream and returns the event channel. The channel
// closes when the turn is done; callers must drain it.
func (t *Turn) Run(ctx context.Context, req *genai.GenerateContentRequest) <-chan Event {
	events := make(chan Event, turnEventBuffer)
	go t.run(ctx, req, events)
	return events
}

func (t *Turn) run(ctx context.Context, req *genai.GenerateContentRequest, events chan<- Event) {
	defer close(events)

	stream, err := t.gen.GenerateStream(ctx, req, t.promptID)
	if err != nil {
		t.fail(ctx, req, err, events)
		return
	}

	for chunk := range stream {
		if ctx.Err() != nil {
			events <- Event{Type: EventUserCancelled}
			return
		}
		if chunk.Err != nil {
			t.fail(ctx, req, chunk.Err, events)
			return
		}

		resp := chunk.Response
		t.record(resp)

		// A thought chunk contributes only its summary.
		if first := firstPart(resp); first != nil && first.Thought {
			events <- Event{Type: EventThought, Thought: parseThought(first.Text)}
			continue
		}

		if text := resp.Text(); text != "" {
			events <- Event{Type: EventContent, Content: text}
		}

		for _, fc := range resp.FunctionCalls() {
			events <- Event{Type: EventToolCallRequest, Request: t.trackCall(fc)}
		}

		if reason := resp.FinishReason(); reason != genai.FinishReasonUnspecified {
			t.mu.Lock()
			t.finishReason = reason
			t.mu.Unlock()
			events <- Event{Type: EventFinished, Reason: reason}
		}
	}
}

// fail classifies a stream failure. Cancellation becomes UserCancelled, auth
// failures are held for the orchestrator to re-raise, and everything else is
// recorded and emitted as an Error event.
func (t *Turn) fail(ctx context.Context, req *genai.GenerateContentRequest, err error, events chan<- Event) {
	var abort *genai.AbortError
	if ctx.Err() != nil || errors.As(err, &abort) {
		events <- Event{Type: EventUserCancelled}
		return
	}

	if genai.IsAuthError(err) {
		t.mu.Lock()
		t.authErr = err
		t.mu.Unlock()
		return
	}

	t.mu.Lock()
	t.err = err
	t.failedReq = req
	t.failedHistory = req.Contents
	t.mu.Unlock()

	events <- Event{Type: EventError, Err: &ErrorInfo{
		Message: err.Error(),
		Status:  genai.StatusOf(err),
	}}
}

// record keeps the most recent raw responses for diagnostics.
func (t *Turn) record(resp *genai.GenerateContentResponse) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.debugResponses = append(t.debugResponses, resp)
	if len(t.debugResponses) > maxDebugResponses {
		t.debugResponses = t.debugResponses[len(t.debugResponses)-maxDebugResponses:]
	}
}

// trackCall normalizes one function call into a pending tool call request,
// synthesizing a call id when the backend omitted one.
func (t *Turn) trackCall(fc *genai.FunctionCall) *ToolCallRequest {
	callID := fc.ID
	if callID == "" {
		callID = genai.NewCallID(fc.Name)
	}
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}

	req := &ToolCallRequest{
		CallID:   callID,
		Name:     fc.Name,
		Args:     args,
		PromptID: t.promptID,
	}

	t.mu.Lock()
	t.pendingCalls = append(t.pendingCalls, req)
	t.mu.Unlock()
	return req
}

// PendingCalls returns the tool call requests collected during the turn.
func (t *Turn) PendingCalls() []*ToolCallRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*ToolCallRequest, len(t.pendingCalls))
	copy(out, t.pendingCalls)
	return out
}

// FinishReason returns the backend's final reason, if the stream reported one.
func (t *Turn) FinishReason() genai.FinishReason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finishReason
}

// Err returns the terminal backend error, nil for clean or cancelled turns.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// AuthError returns the authentication failure this turn absorbed, if any.
// The orchestrator re-raises it instead of reporting it as a turn error.
func (t *Turn) AuthError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.authErr
}

// DebugResponses returns the retained raw responses, oldest first.
func (t *Turn) DebugResponses() []*genai.GenerateContentResponse {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*genai.GenerateContentResponse, len(t.debugResponses))
	copy(out, t.debugResponses)
	return out
}

// FailedRequest returns the request and history snapshot recorded before the
// Error event, for diagnostic reporting.
func (t *Turn) FailedRequest() (*genai.GenerateContentRequest, []*genai.Content) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failedReq, t.failedHistory
}

// firstPart returns the first part of the first candidate, or nil.
func firstPart(resp *genai.GenerateContentResponse) *genai.Part {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return nil
	}
	return content.Parts[0]
}

// parseThought splits a raw thought into its bolded subject and the
// remaining description.
func parseThought(text string) *ThoughtSummary {
	subject := ""
	description := text
	if i := strings.Index(text, "**"); i >= 0 {
		if j := strings.Index(text[i+2:], "**"); j >= 0 {
			subject = strings.TrimSpace(text[i+2 : i+2+j])
			description = strings.TrimSpace(text[:i] + text[i+2+j+2:])
		}
	}
	return &ThoughtSummary{Subject: subject, Description: description}
}
