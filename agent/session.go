// ABOUTME: Session state for one assistant conversation: history, counters, and quota flags.
// ABOUTME: Owns the comprehensive and curated history projections and the compression pass.

package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/2389-research/tern/genai"
)

// promptIDSeparator joins the session id and prompt counter into a prompt id.
const promptIDSeparator = "########"

// compressionThreshold is the fraction of the model's context window at
// which history compression kicks in.
const compressionThreshold = 0.7

// compressionPreserveFraction is the share of recent history kept verbatim
// when compressing.
const compressionPreserveFraction = 0.3

// HistoryRecorder observes every append to the comprehensive history.
// Implemented by the transcript store; a nil recorder records nothing.
type HistoryRecorder interface {
	RecordContent(sessionID string, content *genai.Content) error
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id string) SessionOption {
	return func(s *Session) { s.id = id }
}

// WithModel sets the model the session converses with.
func WithModel(model string) SessionOption {
	return func(s *Session) { s.modelName = model }
}

// WithAuthType records which backend auth the session was built with.
func WithAuthType(at genai.AuthType) SessionOption {
	return func(s *Session) { s.authType = at }
}

// WithMaxTurns bounds the number of turns (continuations included) the
// session may run. Negative means unlimited; zero refuses every submission.
func WithMaxTurns(n int) SessionOption {
	return func(s *Session) { s.maxTurns = n }
}

// WithInitialHistory seeds the history, for resumed sessions.
func WithInitialHistory(history []*genai.Content) SessionOption {
	return func(s *Session) { s.history = append(s.history, history...) }
}

// WithRecorder attaches a transcript recorder.
func WithRecorder(r HistoryRecorder) SessionOption {
	return func(s *Session) { s.recorder = r }
}

// Session owns the conversation state for one assistant session. History is
// append-only; the curated projection is derived on demand.
type Session struct {
	id        string
	modelName string
	authType  genai.AuthType
	maxTurns  int
	recorder  HistoryRecorder

	mu                 sync.Mutex
	promptCount        int
	turnCount          int
	quotaErrorOccurred bool
	history            []*genai.Content
}

// NewSession creates a session with a generated UUID unless one is supplied.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		maxTurns: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.New().String()
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ModelName returns the model the session converses with.
func (s *Session) ModelName() string { return s.modelName }

// AuthType returns the auth type the session was built with.
func (s *Session) AuthType() genai.AuthType { return s.authType }

// MaxTurns returns the configured turn bound.
func (s *Session) MaxTurns() int { return s.maxTurns }

// SetModel switches the session to a different model (quota fallback).
func (s *Session) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelName = model
}

// NextPromptID increments the prompt counter and returns the new prompt id.
// Continuation submissions reuse the previous id instead of calling this.
func (s *Session) NextPromptID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promptCount++
	return fmt.Sprintf("%s%s%d", s.id, promptIDSeparator, s.promptCount)
}

// PromptCount returns the number of non-continuation submissions so far.
func (s *Session) PromptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promptCount
}

// IncrementTurn counts one turn (continuations included) and returns the
// running total.
func (s *Session) IncrementTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnCount++
	return s.turnCount
}

// TurnCount returns the number of turns run so far.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount
}

// QuotaErrorOccurred reports whether a quota failure was recorded for the
// current prompt.
func (s *Session) QuotaErrorOccurred() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotaErrorOccurred
}

// SetQuotaError records or clears the quota-failure flag.
func (s *Session) SetQuotaError(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotaErrorOccurred = v
}

// Append adds content to the comprehensive history and notifies the recorder.
func (s *Session) Append(content *genai.Content) {
	s.mu.Lock()
	s.history = append(s.history, content)
	rec := s.recorder
	s.mu.Unlock()

	if rec != nil {
		// Recording failures must not disturb the conversation.
		_ = rec.RecordContent(s.id, content)
	}
}

// History returns a copy of the comprehensive history.
func (s *Session) History() []*genai.Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*genai.Content, len(s.history))
	copy(out, s.history)
	return out
}

// CuratedHistory returns the history with invalid model rounds stripped: a
// model output with no usable parts is dropped along with the user input
// that produced it.
func (s *Session) CuratedHistory() []*genai.Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	return extractCuratedHistory(s.history)
}

// SetHistory replaces the entire history. Used by compression and resume.
func (s *Session) SetHistory(history []*genai.Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]*genai.Content(nil), history...)
}

// extractCuratedHistory walks user/model rounds and drops rounds whose model
// output is invalid.
func extractCuratedHistory(history []*genai.Content) []*genai.Content {
	var curated []*genai.Content
	i := 0
	for i < len(history) {
		entry := history[i]
		if entry == nil {
			i++
			continue
		}
		if entry.Role != genai.RoleModel {
			curated = append(curated, entry)
			i++
			continue
		}

		valid := true
		var modelOutput []*genai.Content
		for i < len(history) && history[i] != nil && history[i].Role == genai.RoleModel {
			modelOutput = append(modelOutput, history[i])
			if valid && !isValidContent(history[i]) {
				valid = false
			}
			i++
		}
		if valid {
			curated = append(curated, modelOutput...)
		} else if len(curated) > 0 {
			// Drop the user input that led to the invalid output.
			curated = curated[:len(curated)-1]
		}
	}
	return curated
}

// isValidContent reports whether a content entry carries at least one
// non-empty part.
func isValidContent(c *genai.Content) bool {
	if c == nil || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p == nil {
			return false
		}
		if p.Text == "" && p.FunctionCall == nil && p.FunctionResponse == nil && p.InlineData == nil {
			return false
		}
	}
	return true
}

// compressionSystemPrompt instructs the model to produce a state snapshot
// that can stand in for the summarized turns.
const compressionSystemPrompt = `You are a conversation summarizer. Produce a dense snapshot of the
conversation so far that a coding assistant can resume from. Capture: the
user's overall goal, key decisions made, files examined or modified (with
paths), tool results that still matter, and any unresolved questions. Write
it as plain prose under a "State snapshot" heading. Omit pleasantries.`

// Compress summarizes the older portion of the history when the token count
// exceeds the threshold fraction of the model's context window (always, when
// force is set). Returns nil info when no compression was needed.
func (s *Session) Compress(ctx context.Context, gen genai.ContentGenerator, force bool) (*ChatCompressionInfo, error) {
	curated := s.CuratedHistory()
	if len(curated) == 0 {
		return nil, nil
	}

	model := s.ModelName()
	countReq := &genai.GenerateContentRequest{Model: model, Contents: curated}
	count, err := gen.CountTokens(ctx, countReq)
	if err != nil {
		return nil, fmt.Errorf("count tokens: %w", err)
	}

	limit := genai.TokenLimit(model)
	if !force && float64(count.TotalTokens) < compressionThreshold*float64(limit) {
		return nil, nil
	}

	// Keep the most recent turns verbatim, starting at a user boundary so
	// the preserved slice opens a round.
	splitIdx := len(curated) - int(float64(len(curated))*compressionPreserveFraction)
	for splitIdx < len(curated) && curated[splitIdx].Role != genai.RoleUser {
		splitIdx++
	}
	if splitIdx <= 0 || splitIdx >= len(curated) {
		splitIdx = len(curated)
	}
	toSummarize := curated[:splitIdx]
	toKeep := curated[splitIdx:]
	if len(toSummarize) == 0 {
		return nil, nil
	}

	summaryReq := &genai.GenerateContentRequest{
		Model:             model,
		Contents:          append(append([]*genai.Content(nil), toSummarize...), genai.UserContent(genai.TextPart("Summarize the conversation so far."))),
		SystemInstruction: genai.UserContent(genai.TextPart(compressionSystemPrompt)),
	}
	var resp *genai.GenerateContentResponse
	err = genai.Retry(ctx, genai.DefaultRetryPolicy(), func() error {
		var genErr error
		resp, genErr = gen.Generate(ctx, summaryReq, "")
		return genErr
	})
	if err != nil {
		return nil, fmt.Errorf("summarize history: %w", err)
	}
	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		return nil, fmt.Errorf("summarize history: empty summary")
	}

	newHistory := []*genai.Content{
		genai.UserContent(genai.TextPart(summary)),
		genai.ModelContent(genai.TextPart("Got it. Thanks for the additional context.")),
	}
	newHistory = append(newHistory, toKeep...)
	s.SetHistory(newHistory)

	newCount, err := gen.CountTokens(ctx, &genai.GenerateContentRequest{Model: model, Contents: newHistory})
	if err != nil {
		return nil, fmt.Errorf("count tokens after compression: %w", err)
	}

	return &ChatCompressionInfo{
		OriginalTokenCount: count.TotalTokens,
		NewTokenCount:      newCount.TotalTokens,
	}, nil
}
