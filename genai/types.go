// ABOUTME: Record types for the unified content-generation contract shared by every backend.
// ABOUTME: Defines Content/Part message structures, requests, responses, finish reasons, and usage metadata.

package genai

import (
	"encoding/json"
	"strings"
)

// Role values for Content entries.
const (
	RoleUser  = "user"
	RoleModel = "model"
	RoleTool  = "tool"
)

// Part is one unit of a message: plain text (optionally a thought), inline
// binary data, a function call issued by the model, or a function response
// produced by a tool. Exactly one payload field is expected to be set.
type Part struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	InlineData       *Blob             `json:"inlineData,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// Blob is inline binary data with its MIME type.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse carries a tool's result back to the model. The ID ties
// the response to the FunctionCall that produced it.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// Content is a single message in a conversation.
type Content struct {
	Role  string  `json:"role"`
	Parts []*Part `json:"parts"`
}

// TextPart builds a plain-text Part.
func TextPart(text string) *Part {
	return &Part{Text: text}
}

// FunctionCallPart builds a Part carrying a function call.
func FunctionCallPart(id, name string, args map[string]any) *Part {
	return &Part{FunctionCall: &FunctionCall{ID: id, Name: name, Args: args}}
}

// FunctionResponsePart builds a Part carrying a function response.
func FunctionResponsePart(id, name string, response map[string]any) *Part {
	return &Part{FunctionResponse: &FunctionResponse{ID: id, Name: name, Response: response}}
}

// UserContent wraps parts in a user-role Content.
func UserContent(parts ...*Part) *Content {
	return &Content{Role: RoleUser, Parts: parts}
}

// ModelContent wraps parts in a model-role Content.
func ModelContent(parts ...*Part) *Content {
	return &Content{Role: RoleModel, Parts: parts}
}

// Text concatenates the non-thought text parts of the content.
func (c *Content) Text() string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if p != nil && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// FunctionDeclaration describes one callable tool to the model. Parameters
// holds a JSON Schema object describing the arguments.
type FunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Tool groups function declarations the way the native wire format does.
type Tool struct {
	FunctionDeclarations []*FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// FunctionCallingMode controls how the model may use tools.
type FunctionCallingMode string

const (
	FunctionCallingAuto FunctionCallingMode = "AUTO"
	FunctionCallingNone FunctionCallingMode = "NONE"
	FunctionCallingAny  FunctionCallingMode = "ANY"
)

// ToolConfig constrains tool use for a request.
type ToolConfig struct {
	Mode                 FunctionCallingMode
	AllowedFunctionNames []string
}

// GenerationConfig holds sampling parameters. Nil pointer fields are omitted
// from the wire request.
type GenerationConfig struct {
	Temperature     *float64
	TopP            *float64
	MaxOutputTokens *int
	StopSequences   []string
}

// GenerateContentRequest is the uniform request consumed by every backend.
type GenerateContentRequest struct {
	Model             string
	Contents          []*Content
	SystemInstruction *Content
	Tools             []*Tool
	ToolConfig        *ToolConfig
	GenerationConfig  *GenerationConfig
}

// FinishReason is the backend's stated reason for ending a candidate.
type FinishReason string

const (
	FinishReasonUnspecified        FinishReason = ""
	FinishReasonStop               FinishReason = "STOP"
	FinishReasonMaxTokens          FinishReason = "MAX_TOKENS"
	FinishReasonSafety             FinishReason = "SAFETY"
	FinishReasonRecitation         FinishReason = "RECITATION"
	FinishReasonLanguage           FinishReason = "LANGUAGE"
	FinishReasonBlocklist          FinishReason = "BLOCKLIST"
	FinishReasonProhibitedContent  FinishReason = "PROHIBITED_CONTENT"
	FinishReasonSPII               FinishReason = "SPII"
	FinishReasonMalformedCall      FinishReason = "MALFORMED_FUNCTION_CALL"
	FinishReasonImageSafety        FinishReason = "IMAGE_SAFETY"
	FinishReasonUnexpectedToolCall FinishReason = "UNEXPECTED_TOOL_CALL"
	FinishReasonOther              FinishReason = "OTHER"
)

// Candidate is one generated alternative within a response.
type Candidate struct {
	Content      *Content     `json:"content,omitempty"`
	FinishReason FinishReason `json:"finishReason,omitempty"`
	Index        int          `json:"index,omitempty"`
}

// UsageMetadata reports token accounting for a request/response pair.
type UsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount    int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount         int `json:"totalTokenCount,omitempty"`
	ThoughtsTokenCount      int `json:"thoughtsTokenCount,omitempty"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
}

// GenerateContentResponse is the uniform response record. Backends that do
// not speak this shape natively construct it field by field; nothing in the
// codebase coerces foreign response types into it.
type GenerateContentResponse struct {
	Candidates    []*Candidate   `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string         `json:"modelVersion,omitempty"`
}

// Text concatenates the plain text parts of the first candidate, skipping
// thought parts.
func (r *GenerateContentResponse) Text() string {
	if r == nil || len(r.Candidates) == 0 || r.Candidates[0].Content == nil {
		return ""
	}
	return r.Candidates[0].Content.Text()
}

// FunctionCalls returns every function call across the first candidate's
// parts, in wire order.
func (r *GenerateContentResponse) FunctionCalls() []*FunctionCall {
	if r == nil || len(r.Candidates) == 0 || r.Candidates[0].Content == nil {
		return nil
	}
	var calls []*FunctionCall
	for _, p := range r.Candidates[0].Content.Parts {
		if p != nil && p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}

// FinishReason returns the first candidate's finish reason, if any.
func (r *GenerateContentResponse) FinishReason() FinishReason {
	if r == nil || len(r.Candidates) == 0 {
		return FinishReasonUnspecified
	}
	return r.Candidates[0].FinishReason
}

// StreamChunk is one element of a streaming generation. Exactly one of
// Response or Err is set; a chunk with Err set is always the last one
// delivered before the channel closes.
type StreamChunk struct {
	Response *GenerateContentResponse
	Err      error
}

// CountTokensResult reports a token count for a prospective request.
type CountTokensResult struct {
	TotalTokens int
}

// EmbedResult carries embedding vectors, one per input text.
type EmbedResult struct {
	Embeddings [][]float32
}

// Float64Ptr returns a pointer to v. Convenience for GenerationConfig fields.
func Float64Ptr(v float64) *float64 { return &v }

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
