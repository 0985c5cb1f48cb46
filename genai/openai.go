// ABOUTME: OpenAI backend built on the official SDK's Chat Completions client.
// ABOUTME: Streams text deltas as they arrive and emits tool calls as the accumulator completes them.

package genai

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIBackend implements ContentGenerator against the OpenAI API or any
// endpoint the official SDK can be pointed at.
type OpenAIBackend struct {
	client openai.Client
}

var _ ContentGenerator = (*OpenAIBackend)(nil)

// OpenAIOption configures an OpenAIBackend.
type OpenAIOption func(*[]option.RequestOption)

// WithOpenAIBaseURL points the SDK at a compatible endpoint.
func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithBaseURL(baseURL))
	}
}

// NewOpenAIBackend creates a backend using the official OpenAI SDK.
func NewOpenAIBackend(apiKey string, opts ...OpenAIOption) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{APIError: APIError{
			Message: "openai backend requires an API key",
		}}
	}
	requestOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, opt := range opts {
		opt(&requestOpts)
	}
	return &OpenAIBackend{client: openai.NewClient(requestOpts...)}, nil
}

// Name identifies the backend in logs and error messages.
func (o *OpenAIBackend) Name() string { return "openai" }

// buildParams converts the uniform request into SDK chat completion params.
func (o *OpenAIBackend) buildParams(req *GenerateContentRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: req.Model,
	}

	if gc := req.GenerationConfig; gc != nil {
		if gc.MaxOutputTokens != nil {
			params.MaxCompletionTokens = openai.Int(int64(*gc.MaxOutputTokens))
		}
		if gc.Temperature != nil {
			params.Temperature = openai.Float(*gc.Temperature)
		}
		if gc.TopP != nil {
			params.TopP = openai.Float(*gc.TopP)
		}
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if sys := systemText(req.SystemInstruction); sys != "" {
		messages = append(messages, openai.SystemMessage(sys))
	}
	for _, content := range req.Contents {
		if content == nil {
			continue
		}
		if content.Role == "model" {
			messages = append(messages, convertAssistantContent(content))
			continue
		}
		messages = append(messages, convertUserContent(content)...)
	}
	params.Messages = messages

	if len(req.Tools) > 0 {
		var tools []openai.ChatCompletionToolParam
		for _, t := range req.Tools {
			for _, fd := range t.FunctionDeclarations {
				toolParam := openai.ChatCompletionToolParam{
					Type: "function",
					Function: openai.FunctionDefinitionParam{
						Name:        fd.Name,
						Description: openai.String(fd.Description),
					},
				}
				if len(fd.Parameters) > 0 {
					var schema map[string]any
					if err := json.Unmarshal(fd.Parameters, &schema); err == nil {
						toolParam.Function.Parameters = openai.FunctionParameters(schema)
					}
				}
				tools = append(tools, toolParam)
			}
		}
		params.Tools = tools
	}

	if tc := req.ToolConfig; tc != nil {
		switch tc.Mode {
		case FunctionCallingNone:
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}
		case FunctionCallingAny:
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}
		}
	}

	return params
}

// convertUserContent converts a user turn. Function responses become tool
// messages; any text parts become a single user message.
func convertUserContent(content *Content) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	var texts []string
	for _, p := range content.Parts {
		switch {
		case p == nil:
			continue
		case p.FunctionResponse != nil:
			body := "{}"
			if encoded, err := json.Marshal(p.FunctionResponse.Response); err == nil {
				body = string(encoded)
			}
			messages = append(messages, openai.ToolMessage(body, p.FunctionResponse.ID))
		case p.Text != "":
			texts = append(texts, p.Text)
		}
	}
	if len(texts) > 0 {
		messages = append(messages, openai.UserMessage(joinLines(texts)))
	}
	return messages
}

// convertAssistantContent converts a model turn, carrying tool calls and text
// in a single assistant message.
func convertAssistantContent(content *Content) openai.ChatCompletionMessageParamUnion {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	var texts []string
	for _, p := range content.Parts {
		switch {
		case p == nil || p.Thought:
			continue
		case p.FunctionCall != nil:
			argsJSON, _ := json.Marshal(p.FunctionCall.Args)
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID:   p.FunctionCall.ID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      p.FunctionCall.Name,
					Arguments: string(argsJSON),
				},
			})
		case p.Text != "":
			texts = append(texts, p.Text)
		}
	}

	text := joinLines(texts)
	if len(toolCalls) > 0 {
		asstMsg := openai.ChatCompletionAssistantMessageParam{
			Role:      "assistant",
			ToolCalls: toolCalls,
		}
		if text != "" {
			asstMsg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: openai.String(text),
			}
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &asstMsg}
	}
	return openai.AssistantMessage(text)
}

func joinLines(texts []string) string {
	switch len(texts) {
	case 0:
		return ""
	case 1:
		return texts[0]
	}
	joined := texts[0]
	for _, t := range texts[1:] {
		joined += "\n" + t
	}
	return joined
}

// convertCompletion converts an SDK completion into the uniform response.
// Function call parts precede the text part.
func convertCompletion(resp *openai.ChatCompletion) *GenerateContentResponse {
	out := &GenerateContentResponse{ModelVersion: resp.Model}
	if resp.Usage.TotalTokens > 0 {
		out.UsageMetadata = &UsageMetadata{
			PromptTokenCount:     int(resp.Usage.PromptTokens),
			CandidatesTokenCount: int(resp.Usage.CompletionTokens),
			TotalTokenCount:      int(resp.Usage.TotalTokens),
		}
	}
	if len(resp.Choices) == 0 {
		return out
	}

	choice := resp.Choices[0]
	content := &Content{Role: "model"}
	for _, tc := range choice.Message.ToolCalls {
		content.Parts = append(content.Parts, &Part{FunctionCall: &FunctionCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: parseToolArguments(tc.Function.Arguments),
		}})
	}
	if choice.Message.Content != "" {
		content.Parts = append(content.Parts, TextPart(choice.Message.Content))
	}

	out.Candidates = []*Candidate{{
		Content:      content,
		FinishReason: mapRouterFinishReason(choice.FinishReason),
	}}
	return out
}

// Generate performs a blocking completion request.
func (o *OpenAIBackend) Generate(ctx context.Context, req *GenerateContentRequest, promptID string) (*GenerateContentResponse, error) {
	_ = promptID
	resp, err := o.client.Chat.Completions.New(ctx, o.buildParams(req))
	if err != nil {
		return nil, o.translateError(ctx, err)
	}
	return convertCompletion(resp), nil
}

// GenerateStream performs a streaming completion request. Tool calls are
// emitted as soon as the accumulator completes them; the final chunk carries
// the finish reason and usage.
func (o *OpenAIBackend) GenerateStream(ctx context.Context, req *GenerateContentRequest, promptID string) (<-chan StreamChunk, error) {
	_ = promptID
	stream := o.client.Chat.Completions.NewStreaming(ctx, o.buildParams(req))

	ch := make(chan StreamChunk, streamChannelCapacity)
	go func() {
		defer close(ch)

		var acc openai.ChatCompletionAccumulator
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				ch <- StreamChunk{Response: &GenerateContentResponse{
					Candidates: []*Candidate{{
						Content: ModelContent(TextPart(chunk.Choices[0].Delta.Content)),
					}},
				}}
			}

			if toolCall, ok := acc.JustFinishedToolCall(); ok {
				ch <- StreamChunk{Response: &GenerateContentResponse{
					Candidates: []*Candidate{{
						Content: ModelContent(&Part{FunctionCall: &FunctionCall{
							ID:   toolCall.ID,
							Name: toolCall.Name,
							Args: parseToolArguments(toolCall.Arguments),
						}}),
					}},
				}}
			}
		}

		if err := stream.Err(); err != nil {
			ch <- StreamChunk{Err: o.translateError(ctx, err)}
			return
		}

		final := &GenerateContentResponse{}
		if len(acc.Choices) > 0 {
			final.Candidates = []*Candidate{{
				Content:      &Content{Role: "model"},
				FinishReason: mapRouterFinishReason(acc.Choices[0].FinishReason),
			}}
		}
		if acc.Usage.TotalTokens > 0 {
			final.UsageMetadata = &UsageMetadata{
				PromptTokenCount:     int(acc.Usage.PromptTokens),
				CandidatesTokenCount: int(acc.Usage.CompletionTokens),
				TotalTokenCount:      int(acc.Usage.TotalTokens),
			}
		}
		if final.Candidates != nil || final.UsageMetadata != nil {
			ch <- StreamChunk{Response: final}
		}
	}()

	return ch, nil
}

// CountTokens estimates tokens as characters/4; the API exposes no counter.
func (o *OpenAIBackend) CountTokens(ctx context.Context, req *GenerateContentRequest) (*CountTokensResult, error) {
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

// Embed is not wired through the SDK backend.
func (o *OpenAIBackend) Embed(ctx context.Context, model string, texts []string) (*EmbedResult, error) {
	return nil, ErrEmbeddingUnsupported
}

// Close releases backend resources.
func (o *OpenAIBackend) Close() error { return nil }

// translateError maps SDK errors into the shared taxonomy, preserving the
// HTTP status for quota-fallback logic.
func (o *OpenAIBackend) translateError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &AbortError{APIError: APIError{Message: "request aborted", Cause: ctx.Err()}}
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		message := apierr.Message
		if message == "" {
			message = err.Error()
		}
		return ErrorFromStatusCode(apierr.StatusCode, message, o.Name(), apierr.Type, nil, nil)
	}
	return &NetworkError{APIError: APIError{Message: err.Error(), Cause: err}}
}
