// ABOUTME: ContentGenerator contract, auth types, and the backend factory.
// ABOUTME: Resolves credentials from explicit config or environment and validates them up front.

package genai

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2"
)

// ContentGenerator is the uniform contract every backend satisfies. promptID
// identifies the user prompt a request belongs to; backends that report it
// upstream include it on the wire, the rest ignore it.
type ContentGenerator interface {
	Generate(ctx context.Context, req *GenerateContentRequest, promptID string) (*GenerateContentResponse, error)
	GenerateStream(ctx context.Context, req *GenerateContentRequest, promptID string) (<-chan StreamChunk, error)
	CountTokens(ctx context.Context, req *GenerateContentRequest) (*CountTokensResult, error)
	Embed(ctx context.Context, model string, texts []string) (*EmbedResult, error)
	Name() string
	Close() error
}

// TierProvider is implemented by backends that know the user's subscription
// tier. Callers use it to pick quota-fallback messaging.
type TierProvider interface {
	UserTier() UserTier
}

// AuthType selects which backend the factory builds and how it authenticates.
type AuthType string

const (
	AuthGeminiAPIKey  AuthType = "gemini-api-key"
	AuthVertexAI      AuthType = "vertex-ai"
	AuthOAuthPersonal AuthType = "oauth-personal"
	AuthOpenRouter    AuthType = "openrouter"
	AuthOpenAI        AuthType = "openai"
)

// ParseAuthType validates a string from settings or environment.
func ParseAuthType(s string) (AuthType, error) {
	switch AuthType(s) {
	case AuthGeminiAPIKey, AuthVertexAI, AuthOAuthPersonal, AuthOpenRouter, AuthOpenAI:
		return AuthType(s), nil
	}
	return "", fmt.Errorf("unknown auth type %q", s)
}

// Environment variables consulted for credentials.
const (
	EnvGeminiAPIKey    = "GEMINI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_API_KEY"
	EnvGoogleProject   = "GOOGLE_CLOUD_PROJECT"
	EnvGoogleLocation  = "GOOGLE_CLOUD_LOCATION"
	EnvOpenRouterKey   = "OPENROUTER_API_KEY"
	EnvOpenAIKey       = "OPENAI_API_KEY"
	EnvDefaultAuthType = "TERN_DEFAULT_AUTH_TYPE"
)

// DefaultAuthType picks an auth type from the environment: an explicit
// TERN_DEFAULT_AUTH_TYPE wins, then whichever credential is present, and
// OAuth sign-in as the fallback when nothing is configured.
func DefaultAuthType() AuthType {
	if s := os.Getenv(EnvDefaultAuthType); s != "" {
		if at, err := ParseAuthType(s); err == nil {
			return at
		}
	}
	switch {
	case os.Getenv(EnvGeminiAPIKey) != "":
		return AuthGeminiAPIKey
	case os.Getenv(EnvGoogleAPIKey) != "",
		os.Getenv(EnvGoogleProject) != "" && os.Getenv(EnvGoogleLocation) != "":
		return AuthVertexAI
	case os.Getenv(EnvOpenRouterKey) != "":
		return AuthOpenRouter
	case os.Getenv(EnvOpenAIKey) != "":
		return AuthOpenAI
	default:
		return AuthOAuthPersonal
	}
}

// GeneratorConfig carries everything the factory needs to build a backend.
// Zero fields fall back to environment variables where one is defined.
type GeneratorConfig struct {
	AuthType AuthType
	Model    string

	// APIKey overrides the per-auth-type environment variable.
	APIKey string

	// BaseURL overrides the backend's default endpoint.
	BaseURL string

	// Project and Location configure Vertex and Code Assist project binding.
	Project  string
	Location string

	// TokenSource supplies OAuth tokens for AuthOAuthPersonal. Built by the
	// caller so the interactive login stays out of this package.
	TokenSource oauth2.TokenSource

	// HTTPReferer and AppTitle are attribution headers for router backends.
	HTTPReferer string
	AppTitle    string

	Timeout BackendTimeout
}

func (cfg *GeneratorConfig) key(envVar string) string {
	if cfg.APIKey != "" {
		return cfg.APIKey
	}
	return os.Getenv(envVar)
}

// NewContentGenerator builds the backend selected by cfg.AuthType, validating
// that the required credentials are present.
func NewContentGenerator(cfg *GeneratorConfig) (ContentGenerator, error) {
	switch cfg.AuthType {
	case AuthGeminiAPIKey:
		key := cfg.key(EnvGeminiAPIKey)
		if key == "" {
			return nil, &ConfigurationError{APIError: APIError{
				Message: fmt.Sprintf("auth type %s requires %s", cfg.AuthType, EnvGeminiAPIKey),
			}}
		}
		var opts []GeminiOption
		if cfg.BaseURL != "" {
			opts = append(opts, WithGeminiBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout.Request > 0 {
			opts = append(opts, WithGeminiTimeout(cfg.Timeout))
		}
		return NewGeminiBackend(key, opts...)

	case AuthVertexAI:
		key := cfg.key(EnvGoogleAPIKey)
		project := cfg.Project
		if project == "" {
			project = os.Getenv(EnvGoogleProject)
		}
		location := cfg.Location
		if location == "" {
			location = os.Getenv(EnvGoogleLocation)
		}
		if key == "" && (project == "" || location == "") {
			return nil, &ConfigurationError{APIError: APIError{
				Message: fmt.Sprintf("auth type %s requires %s, or %s and %s",
					cfg.AuthType, EnvGoogleAPIKey, EnvGoogleProject, EnvGoogleLocation),
			}}
		}
		opts := []GeminiOption{WithVertex(project, location)}
		if cfg.BaseURL != "" {
			opts = append(opts, WithGeminiBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout.Request > 0 {
			opts = append(opts, WithGeminiTimeout(cfg.Timeout))
		}
		return NewGeminiBackend(key, opts...)

	case AuthOAuthPersonal:
		if cfg.TokenSource == nil {
			return nil, &ConfigurationError{APIError: APIError{
				Message: fmt.Sprintf("auth type %s requires a completed OAuth sign-in", cfg.AuthType),
			}}
		}
		var opts []CodeAssistOption
		if cfg.BaseURL != "" {
			opts = append(opts, WithCodeAssistBaseURL(cfg.BaseURL))
		}
		project := cfg.Project
		if project == "" {
			project = os.Getenv(EnvGoogleProject)
		}
		if project != "" {
			opts = append(opts, WithCodeAssistProject(project))
		}
		return NewCodeAssistBackend(cfg.TokenSource, opts...)

	case AuthOpenRouter:
		key := cfg.key(EnvOpenRouterKey)
		if key == "" {
			return nil, &ConfigurationError{APIError: APIError{
				Message: fmt.Sprintf("auth type %s requires %s", cfg.AuthType, EnvOpenRouterKey),
			}}
		}
		opts := []RouterOption{WithRouterAttribution(cfg.HTTPReferer, cfg.AppTitle)}
		if cfg.BaseURL != "" {
			opts = append(opts, WithRouterBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout.Request > 0 {
			opts = append(opts, WithRouterTimeout(cfg.Timeout))
		}
		return NewRouterBackend(key, opts...)

	case AuthOpenAI:
		key := cfg.key(EnvOpenAIKey)
		if key == "" {
			return nil, &ConfigurationError{APIError: APIError{
				Message: fmt.Sprintf("auth type %s requires %s", cfg.AuthType, EnvOpenAIKey),
			}}
		}
		var opts []OpenAIOption
		if cfg.BaseURL != "" {
			opts = append(opts, WithOpenAIBaseURL(cfg.BaseURL))
		}
		return NewOpenAIBackend(key, opts...)

	default:
		return nil, &ConfigurationError{APIError: APIError{
			Message: fmt.Sprintf("unknown auth type %q", cfg.AuthType),
		}}
	}
}
