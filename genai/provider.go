// ABOUTME: Shared HTTP plumbing for content generator backends.
// ABOUTME: Provides the base backend with request building, auth headers, and call ID generation.

package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
)

// BackendTimeout configures HTTP timeouts for a backend.
type BackendTimeout struct {
	Connect time.Duration `json:"connect"`
	Request time.Duration `json:"request"`
}

// DefaultBackendTimeout returns sensible defaults for backend timeouts.
func DefaultBackendTimeout() BackendTimeout {
	return BackendTimeout{
		Connect: 10 * time.Second,
		Request: 120 * time.Second,
	}
}

// BaseBackend provides common HTTP functionality shared across generator backends.
// Backend implementations embed BaseBackend to reuse request building, header
// management, and retry-after parsing.
type BaseBackend struct {
	APIKey         string
	BaseURL        string
	DefaultHeaders map[string]string
	Timeout        BackendTimeout
	HTTPClient     *http.Client

	// StreamClient has no overall timeout; streamed responses can outlive
	// Timeout.Request and are bounded by the caller's context instead.
	StreamClient *http.Client
}

// NewBaseBackend creates a BaseBackend with the given API key, base URL, and timeout config.
// It initializes both the unary and streaming HTTP clients and the default headers map.
func NewBaseBackend(apiKey, baseURL string, timeout BackendTimeout) *BaseBackend {
	if timeout.Request == 0 {
		timeout = DefaultBackendTimeout()
	}
	return &BaseBackend{
		APIKey:         apiKey,
		BaseURL:        baseURL,
		DefaultHeaders: make(map[string]string),
		Timeout:        timeout,
		HTTPClient: &http.Client{
			Timeout: timeout.Request,
		},
		StreamClient: &http.Client{},
	}
}

// DoRequest builds and executes an HTTP request against the backend's API.
// It JSON-encodes the body (if non-nil), sets authorization and content type
// headers, applies default headers, and then applies per-request overrides.
func (b *BaseBackend) DoRequest(ctx context.Context, method, path string, body any, headers map[string]string) (*http.Response, error) {
	return b.do(ctx, b.HTTPClient, method, path, body, headers)
}

// DoStream is DoRequest without the overall request timeout, for SSE responses
// that stay open longer than a unary call would.
func (b *BaseBackend) DoStream(ctx context.Context, method, path string, body any, headers map[string]string) (*http.Response, error) {
	return b.do(ctx, b.StreamClient, method, path, body, headers)
}

func (b *BaseBackend) do(ctx context.Context, client *http.Client, method, path string, body any, headers map[string]string) (*http.Response, error) {
	url := b.BaseURL + path

	var reqBody *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewBuffer(encoded)
	}

	var httpReq *http.Request
	var err error
	if reqBody != nil {
		httpReq, err = http.NewRequestWithContext(ctx, method, url, reqBody)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if b.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.APIKey)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range b.DefaultHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &AbortError{APIError: APIError{Message: "request aborted", Cause: ctx.Err()}}
		}
		return nil, &NetworkError{APIError: APIError{Message: "executing request: " + err.Error(), Cause: err}}
	}

	return resp, nil
}

// RetryAfterSeconds extracts the retry-after header as seconds, if present.
// Both delta-seconds and HTTP-date forms are accepted.
func RetryAfterSeconds(headers http.Header) *float64 {
	v := headers.Get("retry-after")
	if v == "" {
		return nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		return &secs
	}
	if at, err := http.ParseTime(v); err == nil {
		secs := time.Until(at).Seconds()
		if secs < 0 {
			secs = 0
		}
		return &secs
	}
	return nil
}

// NewCallID produces a unique identifier for a tool call, prefixed with the
// tool name. Backends that do not assign their own call IDs (Gemini) use this
// so every FunctionCall carries a stable, collision-free handle.
func NewCallID(name string) string {
	return fmt.Sprintf("%s-%s", name, ulid.Make())
}
