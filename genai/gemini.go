// ABOUTME: Native Gemini API backend speaking generateContent/streamGenerateContent over HTTP.
// ABOUTME: Supports API-key auth via query parameter and Vertex AI endpoints with ADC bearer tokens.

package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/2389-research/tern/genai/sse"
)

const (
	geminiDefaultBaseURL  = "https://generativelanguage.googleapis.com"
	vertexExpressBaseURL  = "https://aiplatform.googleapis.com"
	cloudPlatformScope    = "https://www.googleapis.com/auth/cloud-platform"
	streamChannelCapacity = 100
)

// GeminiBackend implements ContentGenerator against the Gemini REST API.
// The zero value is not usable; construct with NewGeminiBackend.
type GeminiBackend struct {
	base     *BaseBackend
	apiKey   string
	vertex   bool
	project  string
	location string
	tokens   oauth2.TokenSource
}

var _ ContentGenerator = (*GeminiBackend)(nil)

// GeminiOption configures a GeminiBackend.
type GeminiOption func(*GeminiBackend)

// WithGeminiBaseURL overrides the API base URL (no trailing slash).
func WithGeminiBaseURL(baseURL string) GeminiOption {
	return func(g *GeminiBackend) {
		g.base.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithGeminiTimeout overrides the default HTTP timeouts.
func WithGeminiTimeout(timeout BackendTimeout) GeminiOption {
	return func(g *GeminiBackend) {
		g.base.Timeout = timeout
		g.base.HTTPClient.Timeout = timeout.Request
	}
}

// WithVertex routes requests through Vertex AI for the given project and
// location. With an empty project the express endpoint is used and the API
// key must be set; otherwise bearer tokens come from application default
// credentials.
func WithVertex(project, location string) GeminiOption {
	return func(g *GeminiBackend) {
		g.vertex = true
		g.project = project
		g.location = location
	}
}

// WithGeminiTokenSource supplies bearer tokens directly, bypassing ADC lookup.
func WithGeminiTokenSource(ts oauth2.TokenSource) GeminiOption {
	return func(g *GeminiBackend) {
		g.tokens = ts
	}
}

// NewGeminiBackend creates a backend for the Gemini API. apiKey may be empty
// only in Vertex mode with a project, where ADC supplies credentials.
func NewGeminiBackend(apiKey string, opts ...GeminiOption) (*GeminiBackend, error) {
	g := &GeminiBackend{
		apiKey: apiKey,
		base:   NewBaseBackend("", geminiDefaultBaseURL, DefaultBackendTimeout()),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.vertex && g.base.BaseURL == geminiDefaultBaseURL {
		if g.project != "" {
			g.base.BaseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com", g.location)
		} else {
			g.base.BaseURL = vertexExpressBaseURL
		}
	}

	switch {
	case g.tokens != nil:
		// explicit token source wins
	case g.vertex && g.project != "":
		ts, err := google.DefaultTokenSource(context.Background(), cloudPlatformScope)
		if err != nil {
			return nil, &ConfigurationError{APIError: APIError{
				Message: "vertex mode requires application default credentials: " + err.Error(),
				Cause:   err,
			}}
		}
		g.tokens = ts
	case g.apiKey == "":
		return nil, &ConfigurationError{APIError: APIError{
			Message: "gemini backend requires an API key",
		}}
	}

	return g, nil
}

// Name identifies the backend in logs and error messages.
func (g *GeminiBackend) Name() string { return "gemini" }

func (g *GeminiBackend) modelPath(model, method string) string {
	if g.vertex && g.project != "" {
		return fmt.Sprintf("/v1/projects/%s/locations/%s/publishers/google/models/%s:%s", g.project, g.location, model, method)
	}
	if g.vertex {
		return fmt.Sprintf("/v1beta1/publishers/google/models/%s:%s", model, method)
	}
	return fmt.Sprintf("/v1beta/models/%s:%s", model, method)
}

// authorize attaches credentials to a request: a bearer header when a token
// source is present, otherwise the API key as a query parameter.
func (g *GeminiBackend) authorize(path string) (string, map[string]string, error) {
	headers := make(map[string]string)
	if g.tokens != nil {
		tok, err := g.tokens.Token()
		if err != nil {
			return "", nil, &AuthenticationError{BackendError: BackendError{
				APIError: APIError{Message: "fetching access token: " + err.Error(), Cause: err},
				Backend:  g.Name(),
			}}
		}
		headers["Authorization"] = "Bearer " + tok.AccessToken
		return path, headers, nil
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "key=" + url.QueryEscape(g.apiKey), headers, nil
}

// Generate performs a blocking completion request.
func (g *GeminiBackend) Generate(ctx context.Context, req *GenerateContentRequest, promptID string) (*GenerateContentResponse, error) {
	_ = promptID // carried for parity with backends that report it upstream
	body := buildGeminiRequestBody(req)
	path, headers, err := g.authorize(g.modelPath(req.Model, "generateContent"))
	if err != nil {
		return nil, err
	}

	resp, err := g.base.DoRequest(ctx, http.MethodPost, path, body, headers)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, g.handleErrorResponse(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{APIError: APIError{Message: "reading response body: " + err.Error(), Cause: err}}
	}

	var out GenerateContentResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &StreamError{APIError: APIError{Message: "decoding response: " + err.Error(), Cause: err}}
	}
	return &out, nil
}

// GenerateStream performs a streaming completion request. Chunks arrive on
// the returned channel until the stream ends; a chunk with Err set is always
// the last one sent.
func (g *GeminiBackend) GenerateStream(ctx context.Context, req *GenerateContentRequest, promptID string) (<-chan StreamChunk, error) {
	_ = promptID
	body := buildGeminiRequestBody(req)
	path, headers, err := g.authorize(g.modelPath(req.Model, "streamGenerateContent") + "?alt=sse")
	if err != nil {
		return nil, err
	}
	headers["Accept"] = "text/event-stream"

	resp, err := g.base.DoStream(ctx, http.MethodPost, path, body, headers)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, g.handleErrorResponse(resp)
	}

	ch := make(chan StreamChunk, streamChannelCapacity)
	go g.processStream(ctx, resp, ch)
	return ch, nil
}

func (g *GeminiBackend) processStream(ctx context.Context, resp *http.Response, ch chan<- StreamChunk) {
	defer close(ch)
	defer func() { _ = resp.Body.Close() }()

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
			return
		}
		if err != nil {
			ch <- StreamChunk{Err: &StreamError{APIError: APIError{Message: "reading stream: " + err.Error(), Cause: err}}}
			return
		}
		if strings.TrimSpace(ev.Data) == "" {
			continue
		}

		var chunk GenerateContentResponse
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			ch <- StreamChunk{Err: &StreamError{APIError: APIError{Message: "decoding stream chunk: " + err.Error(), Cause: err}}}
			return
		}
		ch <- StreamChunk{Response: &chunk}
	}
}

// CountTokens reports the prompt token count for a prospective request.
func (g *GeminiBackend) CountTokens(ctx context.Context, req *GenerateContentRequest) (*CountTokensResult, error) {
	body := map[string]any{"contents": req.Contents}
	path, headers, err := g.authorize(g.modelPath(req.Model, "countTokens"))
	if err != nil {
		return nil, err
	}

	resp, err := g.base.DoRequest(ctx, http.MethodPost, path, body, headers)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, g.handleErrorResponse(resp)
	}

	var out struct {
		TotalTokens int `json:"totalTokens"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &StreamError{APIError: APIError{Message: "decoding countTokens response: " + err.Error(), Cause: err}}
	}
	return &CountTokensResult{TotalTokens: out.TotalTokens}, nil
}

// Embed computes embedding vectors for the given texts in a single batch call.
func (g *GeminiBackend) Embed(ctx context.Context, model string, texts []string) (*EmbedResult, error) {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	requests := make([]map[string]any, 0, len(texts))
	for _, text := range texts {
		requests = append(requests, map[string]any{
			"model":   "models/" + model,
			"content": map[string]any{"parts": []map[string]any{{"text": text}}},
		})
	}
	body := map[string]any{"requests": requests}

	path, headers, err := g.authorize(g.modelPath(model, "batchEmbedContents"))
	if err != nil {
		return nil, err
	}

	resp, err := g.base.DoRequest(ctx, http.MethodPost, path, body, headers)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, g.handleErrorResponse(resp)
	}

	var out struct {
		Embeddings []struct {
			Values []float32 `json:"values"`
		} `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &StreamError{APIError: APIError{Message: "decoding embeddings response: " + err.Error(), Cause: err}}
	}

	result := &EmbedResult{Embeddings: make([][]float32, 0, len(out.Embeddings))}
	for _, e := range out.Embeddings {
		result.Embeddings = append(result.Embeddings, e.Values)
	}
	return result, nil
}

// Close releases backend resources.
func (g *GeminiBackend) Close() error { return nil }

// buildGeminiRequestBody translates the uniform request into the Gemini wire
// shape. Content and Tool types already carry wire-exact JSON tags, so only
// the config blocks need assembling by hand.
func buildGeminiRequestBody(req *GenerateContentRequest) map[string]any {
	body := map[string]any{
		"contents": req.Contents,
	}

	if req.SystemInstruction != nil {
		body["systemInstruction"] = req.SystemInstruction
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}
	if tc := req.ToolConfig; tc != nil {
		fcc := map[string]any{"mode": string(tc.Mode)}
		if len(tc.AllowedFunctionNames) > 0 {
			fcc["allowedFunctionNames"] = tc.AllowedFunctionNames
		}
		body["toolConfig"] = map[string]any{"functionCallingConfig": fcc}
	}
	if gc := req.GenerationConfig; gc != nil {
		cfg := map[string]any{}
		if gc.Temperature != nil {
			cfg["temperature"] = *gc.Temperature
		}
		if gc.TopP != nil {
			cfg["topP"] = *gc.TopP
		}
		if gc.MaxOutputTokens != nil {
			cfg["maxOutputTokens"] = *gc.MaxOutputTokens
		}
		if len(gc.StopSequences) > 0 {
			cfg["stopSequences"] = gc.StopSequences
		}
		if len(cfg) > 0 {
			body["generationConfig"] = cfg
		}
	}

	return body
}

// googleErrorResponse is the error envelope returned by Google APIs.
type googleErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *GeminiBackend) handleErrorResponse(resp *http.Response) error {
	return parseGoogleError(g.Name(), resp)
}

// parseGoogleError reads a non-200 Google API response and maps it to the
// error taxonomy, preserving the HTTP status for quota-fallback logic.
func parseGoogleError(backend string, resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)

	var errResp googleErrorResponse
	message := strings.TrimSpace(string(data))
	errorCode := ""
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		errorCode = errResp.Error.Status
	}
	if message == "" {
		message = resp.Status
	}

	return ErrorFromStatusCode(resp.StatusCode, message, backend, errorCode, data, RetryAfterSeconds(resp.Header))
}
