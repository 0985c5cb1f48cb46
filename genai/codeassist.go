// ABOUTME: Code Assist backend speaking the v1internal envelope wire with OAuth bearer auth.
// ABOUTME: Handles user onboarding, tier detection, and managed-project resolution.

package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/2389-research/tern/genai/sse"
)

const (
	codeAssistBaseURL    = "https://cloudcode-pa.googleapis.com"
	codeAssistAPIVersion = "v1internal"

	// Public installed-app OAuth client for the Code Assist API. Installed-app
	// clients cannot keep secrets; this pair identifies the app, it does not
	// authenticate it.
	codeAssistClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	codeAssistClientSecret = "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"

	onboardPollInterval = 5 * time.Second
)

// UserTier identifies the Code Assist subscription tier of the signed-in user.
type UserTier string

const (
	UserTierFree     UserTier = "free-tier"
	UserTierLegacy   UserTier = "legacy-tier"
	UserTierStandard UserTier = "standard-tier"
)

// CodeAssistOAuthConfig returns the OAuth2 config used for the sign-in flow.
func CodeAssistOAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     codeAssistClientID,
		ClientSecret: codeAssistClientSecret,
		Endpoint:     google.Endpoint,
		Scopes: []string{
			"https://www.googleapis.com/auth/cloud-platform",
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
	}
}

// CodeAssistBackend implements ContentGenerator against the Code Assist API.
// Requests and responses use the native Gemini shapes wrapped in an envelope
// carrying the project and prompt ID.
type CodeAssistBackend struct {
	base   *BaseBackend
	tokens oauth2.TokenSource

	mu        sync.Mutex
	setupDone bool
	project   string
	tier      UserTier
}

var _ ContentGenerator = (*CodeAssistBackend)(nil)

// CodeAssistOption configures a CodeAssistBackend.
type CodeAssistOption func(*CodeAssistBackend)

// WithCodeAssistBaseURL overrides the API base URL (no trailing slash).
func WithCodeAssistBaseURL(baseURL string) CodeAssistOption {
	return func(c *CodeAssistBackend) {
		c.base.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithCodeAssistProject pins the cloud project instead of resolving one
// during onboarding. Required for tiers that bill a user-owned project.
func WithCodeAssistProject(project string) CodeAssistOption {
	return func(c *CodeAssistBackend) {
		c.project = project
	}
}

// NewCodeAssistBackend creates a backend that authenticates every request
// with tokens from ts. Onboarding runs lazily on the first request; call
// Setup to run it eagerly.
func NewCodeAssistBackend(ts oauth2.TokenSource, opts ...CodeAssistOption) (*CodeAssistBackend, error) {
	if ts == nil {
		return nil, &ConfigurationError{APIError: APIError{
			Message: "code assist backend requires an OAuth token source",
		}}
	}
	c := &CodeAssistBackend{
		base:   NewBaseBackend("", codeAssistBaseURL, DefaultBackendTimeout()),
		tokens: ts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name identifies the backend in logs and error messages.
func (c *CodeAssistBackend) Name() string { return "code-assist" }

// UserTier reports the tier resolved during setup. Empty until Setup has run.
func (c *CodeAssistBackend) UserTier() UserTier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tier
}

// Project reports the cloud project in use. Empty until Setup has run for
// managed (free-tier) accounts.
func (c *CodeAssistBackend) Project() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.project
}

func (c *CodeAssistBackend) authHeaders() (map[string]string, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, &AuthenticationError{BackendError: BackendError{
			APIError: APIError{Message: "fetching access token: " + err.Error(), Cause: err},
			Backend:  c.Name(),
		}}
	}
	return map[string]string{"Authorization": "Bearer " + tok.AccessToken}, nil
}

func (c *CodeAssistBackend) methodPath(method string) string {
	return fmt.Sprintf("/%s:%s", codeAssistAPIVersion, method)
}

// caClientMetadata identifies this client to the Code Assist API.
type caClientMetadata struct {
	IDEType     string `json:"ideType"`
	Platform    string `json:"platform"`
	PluginType  string `json:"pluginType"`
	DuetProject string `json:"duetProject,omitempty"`
}

func (c *CodeAssistBackend) clientMetadata() caClientMetadata {
	return caClientMetadata{
		IDEType:     "IDE_UNSPECIFIED",
		Platform:    "PLATFORM_UNSPECIFIED",
		PluginType:  "GEMINI",
		DuetProject: c.project,
	}
}

type caTier struct {
	ID                                 string `json:"id"`
	IsDefault                          bool   `json:"isDefault,omitempty"`
	UserDefinedCloudaicompanionProject bool   `json:"userDefinedCloudaicompanionProject,omitempty"`
}

type caLoadResponse struct {
	CurrentTier             *caTier  `json:"currentTier,omitempty"`
	AllowedTiers            []caTier `json:"allowedTiers,omitempty"`
	CloudaicompanionProject string   `json:"cloudaicompanionProject,omitempty"`
}

type caOnboardResponse struct {
	Done     bool `json:"done"`
	Response struct {
		CloudaicompanionProject struct {
			ID string `json:"id"`
		} `json:"cloudaicompanionProject"`
	} `json:"response"`
}

// Setup resolves the user's tier and project, onboarding the account on
// first use. It is idempotent and safe to call concurrently.
func (c *CodeAssistBackend) Setup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setupLocked(ctx)
}

func (c *CodeAssistBackend) setupLocked(ctx context.Context) error {
	if c.setupDone {
		return nil
	}

	load, err := c.loadCodeAssist(ctx)
	if err != nil {
		return err
	}

	if load.CurrentTier != nil {
		c.tier = UserTier(load.CurrentTier.ID)
		if load.CloudaicompanionProject != "" {
			c.project = load.CloudaicompanionProject
		}
		c.setupDone = true
		return nil
	}

	tier := caTier{ID: string(UserTierFree)}
	for _, t := range load.AllowedTiers {
		if t.IsDefault {
			tier = t
			break
		}
	}
	if tier.UserDefinedCloudaicompanionProject && c.project == "" {
		return &ConfigurationError{APIError: APIError{
			Message: "this account requires a cloud project; set GOOGLE_CLOUD_PROJECT",
		}}
	}

	project, err := c.onboardUser(ctx, tier.ID)
	if err != nil {
		return err
	}
	if project != "" {
		c.project = project
	}
	c.tier = UserTier(tier.ID)
	c.setupDone = true
	return nil
}

func (c *CodeAssistBackend) loadCodeAssist(ctx context.Context) (*caLoadResponse, error) {
	body := map[string]any{"metadata": c.clientMetadata()}
	if c.project != "" {
		body["cloudaicompanionProject"] = c.project
	}

	var out caLoadResponse
	if err := c.call(ctx, "loadCodeAssist", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// onboardUser starts the onboarding long-running operation and polls it to
// completion, returning the resolved project ID.
func (c *CodeAssistBackend) onboardUser(ctx context.Context, tierID string) (string, error) {
	body := map[string]any{
		"tierId":   tierID,
		"metadata": c.clientMetadata(),
	}
	if c.project != "" {
		body["cloudaicompanionProject"] = c.project
	}

	for {
		var op caOnboardResponse
		if err := c.call(ctx, "onboardUser", body, &op); err != nil {
			return "", err
		}
		if op.Done {
			return op.Response.CloudaicompanionProject.ID, nil
		}
		select {
		case <-ctx.Done():
			return "", &AbortError{APIError: APIError{Message: "onboarding cancelled", Cause: ctx.Err()}}
		case <-time.After(onboardPollInterval):
		}
	}
}

// call performs one authenticated unary request and decodes the JSON response.
func (c *CodeAssistBackend) call(ctx context.Context, method string, body, out any) error {
	headers, err := c.authHeaders()
	if err != nil {
		return err
	}

	resp, err := c.base.DoRequest(ctx, http.MethodPost, c.methodPath(method), body, headers)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return parseGoogleError(c.Name(), resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &StreamError{APIError: APIError{Message: "decoding " + method + " response: " + err.Error(), Cause: err}}
	}
	return nil
}

func (c *CodeAssistBackend) ensureSetup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setupLocked(ctx)
}

// buildEnvelope wraps the native request body in the Code Assist envelope.
func (c *CodeAssistBackend) buildEnvelope(req *GenerateContentRequest, promptID string) map[string]any {
	body := map[string]any{
		"model":   req.Model,
		"request": buildGeminiRequestBody(req),
	}
	c.mu.Lock()
	if c.project != "" {
		body["project"] = c.project
	}
	c.mu.Unlock()
	if promptID != "" {
		body["user_prompt_id"] = promptID
	}
	return body
}

// caResponseEnvelope wraps every generate response from the Code Assist API.
type caResponseEnvelope struct {
	Response *GenerateContentResponse `json:"response"`
}

// Generate performs a blocking completion request.
func (c *CodeAssistBackend) Generate(ctx context.Context, req *GenerateContentRequest, promptID string) (*GenerateContentResponse, error) {
	if err := c.ensureSetup(ctx); err != nil {
		return nil, err
	}

	var envelope caResponseEnvelope
	if err := c.call(ctx, "generateContent", c.buildEnvelope(req, promptID), &envelope); err != nil {
		return nil, err
	}
	if envelope.Response == nil {
		return nil, &StreamError{APIError: APIError{Message: "response envelope missing payload"}}
	}
	return envelope.Response, nil
}

// GenerateStream performs a streaming completion request. Each SSE frame
// carries one enveloped response.
func (c *CodeAssistBackend) GenerateStream(ctx context.Context, req *GenerateContentRequest, promptID string) (<-chan StreamChunk, error) {
	if err := c.ensureSetup(ctx); err != nil {
		return nil, err
	}
	headers, err := c.authHeaders()
	if err != nil {
		return nil, err
	}
	headers["Accept"] = "text/event-stream"

	path := c.methodPath("streamGenerateContent") + "?alt=sse"
	resp, err := c.base.DoStream(ctx, http.MethodPost, path, c.buildEnvelope(req, promptID), headers)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, parseGoogleError(c.Name(), resp)
	}

	ch := make(chan StreamChunk, streamChannelCapacity)
	go c.processStream(ctx, resp, ch)
	return ch, nil
}

func (c *CodeAssistBackend) processStream(ctx context.Context, resp *http.Response, ch chan<- StreamChunk) {
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

		var envelope caResponseEnvelope
		if err := json.Unmarshal([]byte(ev.Data), &envelope); err != nil {
			ch <- StreamChunk{Err: &StreamError{APIError: APIError{Message: "decoding stream chunk: " + err.Error(), Cause: err}}}
			return
		}
		if envelope.Response == nil {
			continue
		}
		ch <- StreamChunk{Response: envelope.Response}
	}
}

// CountTokens reports the prompt token count for a prospective request.
func (c *CodeAssistBackend) CountTokens(ctx context.Context, req *GenerateContentRequest) (*CountTokensResult, error) {
	if err := c.ensureSetup(ctx); err != nil {
		return nil, err
	}

	body := map[string]any{
		"request": map[string]any{
			"model":    "models/" + req.Model,
			"contents": req.Contents,
		},
	}
	var out struct {
		TotalTokens int `json:"totalTokens"`
	}
	if err := c.call(ctx, "countTokens", body, &out); err != nil {
		return nil, err
	}
	return &CountTokensResult{TotalTokens: out.TotalTokens}, nil
}

// Embed is not offered by the Code Assist API.
func (c *CodeAssistBackend) Embed(ctx context.Context, model string, texts []string) (*EmbedResult, error) {
	return nil, ErrEmbeddingUnsupported
}

// Close releases backend resources.
func (c *CodeAssistBackend) Close() error { return nil }
