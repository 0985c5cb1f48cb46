// ABOUTME: OpenAI-compatible router backend translating the uniform request shape to /chat/completions.
// ABOUTME: Handles role mapping, tool translation, SSE delta accumulation, and the [DONE] sentinel.

package genai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/2389-research/tern/genai/sse"
)

const routerDefaultBaseURL = "https://openrouter.ai/api/v1"

// RouterBackend implements ContentGenerator against any OpenAI-compatible
// chat completions endpoint (OpenRouter and friends).
type RouterBackend struct {
	base  *BaseBackend
	title string
}

var _ ContentGenerator = (*RouterBackend)(nil)

// RouterOption configures a RouterBackend.
type RouterOption func(*RouterBackend)

// WithRouterBaseURL overrides the API base URL (no trailing slash, includes
// any version prefix such as /v1).
func WithRouterBaseURL(baseURL string) RouterOption {
	return func(r *RouterBackend) {
		r.base.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithRouterTimeout overrides the default HTTP timeouts.
func WithRouterTimeout(timeout BackendTimeout) RouterOption {
	return func(r *RouterBackend) {
		r.base.Timeout = timeout
		r.base.HTTPClient.Timeout = timeout.Request
	}
}

// WithRouterAttribution sets the HTTP-Referer and X-Title headers routers use
// for app attribution.
func WithRouterAttribution(referer, title string) RouterOption {
	return func(r *RouterBackend) {
		if referer != "" {
			r.base.DefaultHeaders["HTTP-Referer"] = referer
		}
		if title != "" {
			r.base.DefaultHeaders["X-Title"] = title
			r.title = title
		}
	}
}

// NewRouterBackend creates a backend for an OpenAI-compatible router.
func NewRouterBackend(apiKey string, opts ...RouterOption) (*RouterBackend, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{APIError: APIError{
			Message: "router backend requires an API key",
		}}
	}
	r := &RouterBackend{
		base: NewBaseBackend(apiKey, routerDefaultBaseURL, DefaultBackendTimeout()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Name identifies the backend in logs and error messages.
func (r *RouterBackend) Name() string { return "router" }

// routerMessage is one chat message in the completions wire format, used for
// both requests and responses.
type routerMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []routerToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type routerToolCall struct {
	Index    *int           `json:"index,omitempty"`
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type,omitempty"`
	Function routerFunction `json:"function"`
}

type routerFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type routerDelta struct {
	Role      string           `json:"role,omitempty"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []routerToolCall `json:"tool_calls,omitempty"`
}

type routerChoice struct {
	Index        int            `json:"index"`
	Message      *routerMessage `json:"message,omitempty"`
	Delta        *routerDelta   `json:"delta,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

type routerUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type routerResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []routerChoice `json:"choices"`
	Usage   *routerUsage   `json:"usage,omitempty"`
}

type routerErrorResponse struct {
	Error struct {
		Message string          `json:"message"`
		Code    json.RawMessage `json:"code"`
		Type    string          `json:"type"`
	} `json:"error"`
}

// systemText flattens a system instruction into a single string, joining the
// text of its parts with newlines.
func systemText(instruction *Content) string {
	if instruction == nil {
		return ""
	}
	var parts []string
	for _, p := range instruction.Parts {
		if p != nil && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// toRouterMessages translates uniform contents into chat messages. Model
// turns become assistant messages; functionResponse parts become standalone
// tool messages keyed by tool_call_id.
func toRouterMessages(req *GenerateContentRequest) []routerMessage {
	var messages []routerMessage

	if sys := systemText(req.SystemInstruction); sys != "" {
		messages = append(messages, routerMessage{Role: "system", Content: sys})
	}

	for _, content := range req.Contents {
		if content == nil {
			continue
		}
		role := "user"
		if content.Role == "model" {
			role = "assistant"
		}

		var texts []string
		var toolCalls []routerToolCall
		var toolResults []routerMessage
		for _, p := range content.Parts {
			switch {
			case p == nil:
				continue
			case p.FunctionCall != nil:
				args := "{}"
				if len(p.FunctionCall.Args) > 0 {
					if encoded, err := json.Marshal(p.FunctionCall.Args); err == nil {
						args = string(encoded)
					}
				}
				toolCalls = append(toolCalls, routerToolCall{
					ID:   p.FunctionCall.ID,
					Type: "function",
					Function: routerFunction{
						Name:      p.FunctionCall.Name,
						Arguments: args,
					},
				})
			case p.FunctionResponse != nil:
				body := "{}"
				if encoded, err := json.Marshal(p.FunctionResponse.Response); err == nil {
					body = string(encoded)
				}
				toolResults = append(toolResults, routerMessage{
					Role:       "tool",
					ToolCallID: p.FunctionResponse.ID,
					Content:    body,
				})
			case p.Thought:
				// thoughts never leave the native backends
			case p.Text != "":
				texts = append(texts, p.Text)
			}
		}

		if len(texts) > 0 || len(toolCalls) > 0 {
			messages = append(messages, routerMessage{
				Role:      role,
				Content:   strings.Join(texts, "\n"),
				ToolCalls: toolCalls,
			})
		}
		messages = append(messages, toolResults...)
	}

	return messages
}

// fromRouterMessage converts an assistant chat message back into a model
// Content. Function call parts precede the text part.
func fromRouterMessage(msg *routerMessage) *Content {
	content := &Content{Role: "model"}
	for _, tc := range msg.ToolCalls {
		content.Parts = append(content.Parts, &Part{FunctionCall: &FunctionCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: parseToolArguments(tc.Function.Arguments),
		}})
	}
	if msg.Content != "" {
		content.Parts = append(content.Parts, TextPart(msg.Content))
	}
	return content
}

// parseToolArguments decodes a tool call arguments string, treating empty or
// malformed payloads as an empty object.
func parseToolArguments(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// mapRouterFinishReason translates chat completion finish reasons into the
// native vocabulary.
func mapRouterFinishReason(reason string) FinishReason {
	switch reason {
	case "stop", "tool_calls":
		return FinishReasonStop
	case "length":
		return FinishReasonMaxTokens
	case "content_filter":
		return FinishReasonSafety
	case "":
		return FinishReasonUnspecified
	default:
		return FinishReasonOther
	}
}

func (u *routerUsage) toUsageMetadata() *UsageMetadata {
	if u == nil {
		return nil
	}
	return &UsageMetadata{
		PromptTokenCount:     u.PromptTokens,
		CandidatesTokenCount: u.CompletionTokens,
		TotalTokenCount:      u.TotalTokens,
	}
}

func (r *RouterBackend) buildRequestBody(req *GenerateContentRequest, stream bool) map[string]any {
	body := map[string]any{
		"model":    req.Model,
		"messages": toRouterMessages(req),
	}
	if stream {
		body["stream"] = true
	}

	if len(req.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Tools {
			for _, fd := range t.FunctionDeclarations {
				fn := map[string]any{"name": fd.Name}
				if fd.Description != "" {
					fn["description"] = fd.Description
				}
				if len(fd.Parameters) > 0 {
					fn["parameters"] = json.RawMessage(fd.Parameters)
				}
				tools = append(tools, map[string]any{"type": "function", "function": fn})
			}
		}
		if len(tools) > 0 {
			body["tools"] = tools
		}
	}

	if tc := req.ToolConfig; tc != nil {
		switch tc.Mode {
		case FunctionCallingAuto:
			body["tool_choice"] = "auto"
		case FunctionCallingNone:
			body["tool_choice"] = "none"
		case FunctionCallingAny:
			if len(tc.AllowedFunctionNames) == 1 {
				body["tool_choice"] = map[string]any{
					"type":     "function",
					"function": map[string]any{"name": tc.AllowedFunctionNames[0]},
				}
			} else {
				body["tool_choice"] = "required"
			}
		}
	}

	if gc := req.GenerationConfig; gc != nil {
		if gc.Temperature != nil {
			body["temperature"] = *gc.Temperature
		}
		if gc.TopP != nil {
			body["top_p"] = *gc.TopP
		}
		if gc.MaxOutputTokens != nil {
			body["max_tokens"] = *gc.MaxOutputTokens
		}
		if len(gc.StopSequences) > 0 {
			body["stop"] = gc.StopSequences
		}
	}

	return body
}

// Generate performs a blocking completion request.
func (r *RouterBackend) Generate(ctx context.Context, req *GenerateContentRequest, promptID string) (*GenerateContentResponse, error) {
	_ = promptID
	resp, err := r.base.DoRequest(ctx, http.MethodPost, "/chat/completions", r.buildRequestBody(req, false), nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, r.handleErrorResponse(resp)
	}

	var out routerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &StreamError{APIError: APIError{Message: "decoding response: " + err.Error(), Cause: err}}
	}
	if len(out.Choices) == 0 || out.Choices[0].Message == nil {
		return nil, &StreamError{APIError: APIError{Message: "response carried no choices"}}
	}

	choice := out.Choices[0]
	return &GenerateContentResponse{
		Candidates: []*Candidate{{
			Content:      fromRouterMessage(choice.Message),
			FinishReason: mapRouterFinishReason(choice.FinishReason),
		}},
		UsageMetadata: out.Usage.toUsageMetadata(),
		ModelVersion:  out.Model,
	}, nil
}

// GenerateStream performs a streaming completion request. Text deltas are
// forwarded as they arrive; tool call fragments are accumulated and emitted
// as complete calls in the final chunk.
func (r *RouterBackend) GenerateStream(ctx context.Context, req *GenerateContentRequest, promptID string) (<-chan StreamChunk, error) {
	_ = promptID
	headers := map[string]string{"Accept": "text/event-stream"}
	resp, err := r.base.DoStream(ctx, http.MethodPost, "/chat/completions", r.buildRequestBody(req, true), headers)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, r.handleErrorResponse(resp)
	}

	ch := make(chan StreamChunk, streamChannelCapacity)
	go r.processStream(ctx, resp, ch)
	return ch, nil
}

// toolCallBuilder accumulates one tool call across stream deltas.
type toolCallBuilder struct {
	id   string
	name string
	args strings.Builder
}

func (r *RouterBackend) processStream(ctx context.Context, resp *http.Response, ch chan<- StreamChunk) {
	defer close(ch)
	defer func() { _ = resp.Body.Close() }()

	builders := make(map[int]*toolCallBuilder)
	finish := ""
	var usage *routerUsage

	flushFinal := func() {
		if finish == "" && len(builders) == 0 && usage == nil {
			return
		}
		content := &Content{Role: "model"}
		indexes := make([]int, 0, len(builders))
		for idx := range builders {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			b := builders[idx]
			content.Parts = append(content.Parts, &Part{FunctionCall: &FunctionCall{
				ID:   b.id,
				Name: b.name,
				Args: parseToolArguments(b.args.String()),
			}})
		}
		ch <- StreamChunk{Response: &GenerateContentResponse{
			Candidates: []*Candidate{{
				Content:      content,
				FinishReason: mapRouterFinishReason(finish),
			}},
			UsageMetadata: usage.toUsageMetadata(),
		}}
	}

	dec := sse.NewDecoder(resp.Body)
	for {
		select {
		case <-ctx.Done():
			ch <- StreamChunk{Err: &AbortError{APIError: APIError{Message: "stream cancelled", Cause: ctx.Err()}}}
			return
		default:
		}

		ev, err := dec.Next()
		if err == io.EOF {
			flushFinal()
			return
		}
		if err != nil {
			ch <- StreamChunk{Err: &StreamError{APIError: APIError{Message: "reading stream: " + err.Error(), Cause: err}}}
			return
		}

		data := strings.TrimSpace(ev.Data)
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			flushFinal()
			return
		}

		var chunk routerResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// malformed frames are skipped, not fatal
			continue
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}
		if choice.Delta == nil {
			continue
		}

		if choice.Delta.Content != "" {
			ch <- StreamChunk{Response: &GenerateContentResponse{
				Candidates: []*Candidate{{
					Content: ModelContent(TextPart(choice.Delta.Content)),
				}},
			}}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			b, ok := builders[idx]
			if !ok {
				b = &toolCallBuilder{}
				builders[idx] = b
			}
			if tc.ID != "" {
				b.id = tc.ID
			}
			if tc.Function.Name != "" {
				b.name = tc.Function.Name
			}
			b.args.WriteString(tc.Function.Arguments)
		}
	}
}

// CountTokens estimates tokens as characters/4; routers expose no counter.
func (r *RouterBackend) CountTokens(ctx context.Context, req *GenerateContentRequest) (*CountTokensResult, error) {
	chars := 0
	for _, content := range req.Contents {
		if content == nil {
			continue
		}
		for _, p := range content.Parts {
			if p == nil {
				continue
			}
			chars += len(p.Text)
			if p.FunctionCall != nil {
				if encoded, err := json.Marshal(p.FunctionCall); err == nil {
					chars += len(encoded)
				}
			}
			if p.FunctionResponse != nil {
				if encoded, err := json.Marshal(p.FunctionResponse); err == nil {
					chars += len(encoded)
				}
			}
		}
	}
	return &CountTokensResult{TotalTokens: chars / 4}, nil
}

// Embed is not offered by chat completion routers.
func (r *RouterBackend) Embed(ctx context.Context, model string, texts []string) (*EmbedResult, error) {
	return nil, ErrEmbeddingUnsupported
}

// Close releases backend resources.
func (r *RouterBackend) Close() error { return nil }

func (r *RouterBackend) handleErrorResponse(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)

	var errResp routerErrorResponse
	message := strings.TrimSpace(string(data))
	errorCode := ""
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		if len(errResp.Error.Code) > 0 {
			errorCode = strings.Trim(string(errResp.Error.Code), `"`)
		}
	}
	if message == "" {
		message = resp.Status
	}

	return ErrorFromStatusCode(resp.StatusCode, message, r.Name(), errorCode, data, RetryAfterSeconds(resp.Header))
}
