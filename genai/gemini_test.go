// ABOUTME: Tests for the native Gemini backend using httptest servers for real HTTP interactions.
// ABOUTME: Validates request translation, auth styles, response parsing, streaming, and error mapping.

package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

const okGenerateResponse = `{
	"candidates": [{
		"content": {"parts": [{"text": "Hello back!"}], "role": "model"},
		"finishReason": "STOP"
	}],
	"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15}
}`

func TestGeminiBackendName(t *testing.T) {
	g, err := NewGeminiBackend("test-key")
	if err != nil {
		t.Fatalf("NewGeminiBackend() error: %v", err)
	}
	if g.Name() != "gemini" {
		t.Errorf("Name() = %q, want %q", g.Name(), "gemini")
	}
}

func TestGeminiBackendRequiresKey(t *testing.T) {
	_, err := NewGeminiBackend("")
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("NewGeminiBackend(\"\") error = %v, want *ConfigurationError", err)
	}
}

// TestGeminiRequestTranslation verifies the request body sent to the API
// contains the translated config blocks and the model path.
func TestGeminiRequestTranslation(t *testing.T) {
	var receivedBody map[string]any
	var receivedPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("reading body: %v", err)
		}
		if err := json.Unmarshal(body, &receivedBody); err != nil {
			t.Errorf("unmarshaling body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, okGenerateResponse)
	}))
	defer server.Close()

	g, err := NewGeminiBackend("test-key", WithGeminiBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewGeminiBackend() error: %v", err)
	}

	req := &GenerateContentRequest{
		Model:             "gemini-2.5-pro",
		Contents:          []*Content{UserContent(TextPart("Hello"))},
		SystemInstruction: UserContent(TextPart("Be terse.")),
		Tools: []*Tool{{FunctionDeclarations: []*FunctionDeclaration{{
			Name:       "read_file",
			Parameters: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`),
		}}}},
		ToolConfig: &ToolConfig{Mode: FunctionCallingAuto},
		GenerationConfig: &GenerationConfig{
			Temperature:     Float64Ptr(0.2),
			MaxOutputTokens: IntPtr(1024),
		},
	}
	if _, err := g.Generate(context.Background(), req, "p1"); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	if !strings.Contains(receivedPath, "gemini-2.5-pro") {
		t.Errorf("path = %q, should contain model name", receivedPath)
	}
	if !strings.HasSuffix(receivedPath, ":generateContent") {
		t.Errorf("path = %q, should end with :generateContent", receivedPath)
	}

	contents, ok := receivedBody["contents"].([]any)
	if !ok || len(contents) != 1 {
		t.Fatalf("expected 1 content entry, got %v", receivedBody["contents"])
	}
	content := contents[0].(map[string]any)
	if content["role"] != "user" {
		t.Errorf("role = %v, want user", content["role"])
	}

	if _, ok := receivedBody["systemInstruction"].(map[string]any); !ok {
		t.Errorf("expected systemInstruction object, got %T", receivedBody["systemInstruction"])
	}

	toolConfig, ok := receivedBody["toolConfig"].(map[string]any)
	if !ok {
		t.Fatalf("expected toolConfig object, got %T", receivedBody["toolConfig"])
	}
	fcc := toolConfig["functionCallingConfig"].(map[string]any)
	if fcc["mode"] != "AUTO" {
		t.Errorf("functionCallingConfig.mode = %v, want AUTO", fcc["mode"])
	}

	genConfig, ok := receivedBody["generationConfig"].(map[string]any)
	if !ok {
		t.Fatalf("expected generationConfig object, got %T", receivedBody["generationConfig"])
	}
	if genConfig["maxOutputTokens"] != float64(1024) {
		t.Errorf("maxOutputTokens = %v, want 1024", genConfig["maxOutputTokens"])
	}

	tools, ok := receivedBody["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("expected 1 tools entry, got %v", receivedBody["tools"])
	}
	decls := tools[0].(map[string]any)["functionDeclarations"].([]any)
	decl := decls[0].(map[string]any)
	if decl["name"] != "read_file" {
		t.Errorf("functionDeclarations[0].name = %v, want read_file", decl["name"])
	}
	params := decl["parameters"].(map[string]any)
	if params["type"] != "object" {
		t.Errorf("parameters.type = %v, want object", params["type"])
	}
}

// TestGeminiQueryParamAuth verifies that the API key is passed as a query
// parameter and NOT as a Bearer token.
func TestGeminiQueryParamAuth(t *testing.T) {
	var receivedKey, receivedAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedKey = r.URL.Query().Get("key")
		receivedAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, okGenerateResponse)
	}))
	defer server.Close()

	g, err := NewGeminiBackend("my-secret-api-key", WithGeminiBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewGeminiBackend() error: %v", err)
	}
	req := &GenerateContentRequest{Model: "gemini-2.5-flash", Contents: []*Content{UserContent(TextPart("hi"))}}
	if _, err := g.Generate(context.Background(), req, ""); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	if receivedKey != "my-secret-api-key" {
		t.Errorf("query key = %q, want my-secret-api-key", receivedKey)
	}
	if receivedAuth != "" {
		t.Errorf("Authorization header = %q, want empty", receivedAuth)
	}
}

// TestGeminiVertexBearerAuth verifies that a token source switches auth to a
// bearer header and routes through the project/location path.
func TestGeminiVertexBearerAuth(t *testing.T) {
	var receivedPath, receivedAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		receivedAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, okGenerateResponse)
	}))
	defer server.Close()

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "fake-access-token"})
	g, err := NewGeminiBackend("",
		WithVertex("my-project", "us-central1"),
		WithGeminiTokenSource(ts),
		WithGeminiBaseURL(server.URL),
	)
	if err != nil {
		t.Fatalf("NewGeminiBackend() error: %v", err)
	}

	req := &GenerateContentRequest{Model: "gemini-2.5-pro", Contents: []*Content{UserContent(TextPart("hi"))}}
	if _, err := g.Generate(context.Background(), req, ""); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	if receivedAuth != "Bearer fake-access-token" {
		t.Errorf("Authorization = %q, want Bearer fake-access-token", receivedAuth)
	}
	if !strings.Contains(receivedPath, "/projects/my-project/locations/us-central1/") {
		t.Errorf("path = %q, should contain project/location segments", receivedPath)
	}
}

func TestGeminiGenerateParsesFunctionCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"candidates": [{
				"content": {"parts": [
					{"functionCall": {"name": "get_weather", "args": {"location": "NYC"}}},
					{"text": "Checking the weather."}
				], "role": "model"},
				"finishReason": "STOP"
			}]
		}`)
	}))
	defer server.Close()

	g, err := NewGeminiBackend("test-key", WithGeminiBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewGeminiBackend() error: %v", err)
	}
	req := &GenerateContentRequest{Model: "gemini-2.5-pro", Contents: []*Content{UserContent(TextPart("weather?"))}}
	resp, err := g.Generate(context.Background(), req, "")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	calls := resp.FunctionCalls()
	if len(calls) != 1 {
		t.Fatalf("FunctionCalls() returned %d calls, want 1", len(calls))
	}
	if calls[0].Name != "get_weather" {
		t.Errorf("call name = %q, want get_weather", calls[0].Name)
	}
	if calls[0].Args["location"] != "NYC" {
		t.Errorf("call args location = %v, want NYC", calls[0].Args["location"])
	}
	if got := resp.Text(); got != "Checking the weather." {
		t.Errorf("Text() = %q, want %q", got, "Checking the weather.")
	}
	if resp.FinishReason() != FinishReasonStop {
		t.Errorf("FinishReason() = %q, want STOP", resp.FinishReason())
	}
}

// TestGeminiStreaming verifies SSE chunks are decoded in order and the
// concatenated text matches the model's output.
func TestGeminiStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("streaming path = %q, should contain :streamGenerateContent", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("alt param = %q, want sse", r.URL.Query().Get("alt"))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		chunks := []string{
			`data: {"candidates":[{"content":{"parts":[{"text":"Hello"}],"role":"model"}}]}`,
			``,
			`data: {"candidates":[{"content":{"parts":[{"text":" world"}],"role":"model"}}]}`,
			``,
			`data: {"candidates":[{"content":{"parts":[{"text":"!"}],"role":"model"},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":3,"totalTokenCount":8}}`,
			``,
		}
		for _, chunk := range chunks {
			fmt.Fprintf(w, "%s\n", chunk)
		}
	}))
	defer server.Close()

	g, err := NewGeminiBackend("test-key", WithGeminiBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewGeminiBackend() error: %v", err)
	}
	req := &GenerateContentRequest{Model: "gemini-2.5-pro", Contents: []*Content{UserContent(TextPart("Hello"))}}
	ch, err := g.GenerateStream(context.Background(), req, "p1")
	if err != nil {
		t.Fatalf("GenerateStream() error: %v", err)
	}

	var text string
	var finish FinishReason
	var usage *UsageMetadata
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("stream error: %v", chunk.Err)
		}
		text += chunk.Response.Text()
		if fr := chunk.Response.FinishReason(); fr != FinishReasonUnspecified {
			finish = fr
		}
		if chunk.Response.UsageMetadata != nil {
			usage = chunk.Response.UsageMetadata
		}
	}

	if text != "Hello world!" {
		t.Errorf("streamed text = %q, want 'Hello world!'", text)
	}
	if finish != FinishReasonStop {
		t.Errorf("finish reason = %q, want STOP", finish)
	}
	if usage == nil || usage.TotalTokenCount != 8 {
		t.Errorf("usage = %+v, want totalTokenCount 8", usage)
	}
}

// TestGeminiErrorMapping verifies HTTP statuses map to the right error types
// and the status code is preserved for quota-fallback logic.
func TestGeminiErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		checkErr func(error) bool
	}{
		{
			name:     "bad request",
			status:   http.StatusBadRequest,
			body:     `{"error":{"code":400,"message":"Bad request","status":"INVALID_ARGUMENT"}}`,
			checkErr: func(err error) bool { var e *InvalidRequestError; return errors.As(err, &e) },
		},
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"code":401,"message":"Invalid key","status":"UNAUTHENTICATED"}}`,
			checkErr: IsAuthError,
		},
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"error":{"code":429,"message":"Quota exceeded","status":"RESOURCE_EXHAUSTED"}}`,
			checkErr: IsQuotaError,
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			body:     `{"error":{"code":500,"message":"Internal","status":"INTERNAL"}}`,
			checkErr: func(err error) bool { var e *ServerError; return errors.As(err, &e) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			g, err := NewGeminiBackend("test-key", WithGeminiBaseURL(server.URL))
			if err != nil {
				t.Fatalf("NewGeminiBackend() error: %v", err)
			}
			req := &GenerateContentRequest{Model: "gemini-2.5-pro", Contents: []*Content{UserContent(TextPart("hi"))}}
			_, err = g.Generate(context.Background(), req, "")
			if err == nil {
				t.Fatal("Generate() should have returned an error")
			}
			if !tt.checkErr(err) {
				t.Errorf("error %v failed type check", err)
			}
			if StatusOf(err) != tt.status {
				t.Errorf("StatusOf(err) = %d, want %d", StatusOf(err), tt.status)
			}
		})
	}
}

func TestGeminiCountTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":countTokens") {
			t.Errorf("path = %q, should end with :countTokens", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"totalTokens": 42}`)
	}))
	defer server.Close()

	g, err := NewGeminiBackend("test-key", WithGeminiBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewGeminiBackend() error: %v", err)
	}
	req := &GenerateContentRequest{Model: "gemini-2.5-pro", Contents: []*Content{UserContent(TextPart("hi"))}}
	result, err := g.CountTokens(context.Background(), req)
	if err != nil {
		t.Fatalf("CountTokens() error: %v", err)
	}
	if result.TotalTokens != 42 {
		t.Errorf("TotalTokens = %d, want 42", result.TotalTokens)
	}
}

func TestGeminiEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":batchEmbedContents") {
			t.Errorf("path = %q, should end with :batchEmbedContents", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"embeddings": [{"values": [0.1, 0.2]}, {"values": [0.3, 0.4]}]}`)
	}))
	defer server.Close()

	g, err := NewGeminiBackend("test-key", WithGeminiBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewGeminiBackend() error: %v", err)
	}
	result, err := g.Embed(context.Background(), "", []string{"one", "two"})
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if len(result.Embeddings) != 2 {
		t.Fatalf("got %d embeddings, want 2", len(result.Embeddings))
	}
	if result.Embeddings[1][0] != 0.3 {
		t.Errorf("embeddings[1][0] = %v, want 0.3", result.Embeddings[1][0])
	}
}
