// ABOUTME: Model catalog providing metadata about known models across backends.
// ABOUTME: Supports lookup by ID or alias, token limit queries, and custom model registration.

package genai

// Default model IDs used when no explicit model is configured.
const (
	DefaultModel          = "gemini-2.5-pro"
	DefaultFlashModel     = "gemini-2.5-flash"
	DefaultFlashLiteModel = "gemini-2.5-flash-lite"
	DefaultEmbeddingModel = "gemini-embedding-001"
)

// DefaultTokenLimit is assumed for models the catalog does not know.
const DefaultTokenLimit = 1_048_576

// ModelInfo describes a single model's capabilities and metadata.
type ModelInfo struct {
	ID               string // e.g., "gemini-2.5-pro"
	Provider         string // e.g., "gemini"
	DisplayName      string // e.g., "Gemini 2.5 Pro"
	ContextWindow    int    // max total tokens
	MaxOutput        int    // max output tokens, 0 if unknown
	SupportsTools    bool
	SupportsVision   bool
	SupportsThinking bool
	Aliases          []string // shorthand names
}

// Catalog holds a collection of ModelInfo entries and supports lookup and filtering.
type Catalog struct {
	models []ModelInfo
}

// builtinModels returns the default set of known models.
func builtinModels() []ModelInfo {
	return []ModelInfo{
		{
			ID:               "gemini-2.5-pro",
			Provider:         "gemini",
			DisplayName:      "Gemini 2.5 Pro",
			ContextWindow:    1_048_576,
			MaxOutput:        65_536,
			SupportsTools:    true,
			SupportsVision:   true,
			SupportsThinking: true,
			Aliases:          []string{"pro", "gemini-pro"},
		},
		{
			ID:               "gemini-2.5-flash",
			Provider:         "gemini",
			DisplayName:      "Gemini 2.5 Flash",
			ContextWindow:    1_048_576,
			MaxOutput:        65_536,
			SupportsTools:    true,
			SupportsVision:   true,
			SupportsThinking: true,
			Aliases:          []string{"flash", "gemini-flash"},
		},
		{
			ID:             "gemini-2.5-flash-lite",
			Provider:       "gemini",
			DisplayName:    "Gemini 2.5 Flash Lite",
			ContextWindow:  1_048_576,
			MaxOutput:      65_536,
			SupportsTools:  true,
			SupportsVision: true,
			Aliases:        []string{"flash-lite"},
		},
		{
			ID:            "gemini-1.5-pro",
			Provider:      "gemini",
			DisplayName:   "Gemini 1.5 Pro",
			ContextWindow: 2_097_152,
			MaxOutput:     8_192,
			SupportsTools: true,
		},
		{
			ID:            "gemini-1.5-flash",
			Provider:      "gemini",
			DisplayName:   "Gemini 1.5 Flash",
			ContextWindow: 1_048_576,
			MaxOutput:     8_192,
			SupportsTools: true,
		},
		{
			ID:            "gemini-embedding-001",
			Provider:      "gemini",
			DisplayName:   "Gemini Embedding 001",
			ContextWindow: 2_048,
			Aliases:       []string{"embedding"},
		},
	}
}

// DefaultCatalog returns a new Catalog pre-populated with built-in model definitions.
// Each call returns an independent copy so registrations on one catalog do not affect others.
func DefaultCatalog() *Catalog {
	return &Catalog{
		models: builtinModels(),
	}
}

// GetModelInfo looks up a model by its canonical ID or any of its aliases.
// Returns nil if no matching model is found.
func (c *Catalog) GetModelInfo(modelID string) *ModelInfo {
	for i := range c.models {
		if c.models[i].ID == modelID {
			return &c.models[i]
		}
		for _, alias := range c.models[i].Aliases {
			if alias == modelID {
				return &c.models[i]
			}
		}
	}
	return nil
}

// ListModels returns all models matching the given provider.
// If provider is empty, all models in the catalog are returned.
func (c *Catalog) ListModels(provider string) []ModelInfo {
	var result []ModelInfo
	for _, m := range c.models {
		if provider == "" || m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// TokenLimit returns the context window for the given model, falling back to
// DefaultTokenLimit for unknown models so history compression always has a
// denominator to work with.
func (c *Catalog) TokenLimit(modelID string) int {
	if m := c.GetModelInfo(modelID); m != nil && m.ContextWindow > 0 {
		return m.ContextWindow
	}
	return DefaultTokenLimit
}

// TokenLimit returns the context window for modelID from the built-in
// catalog. Unknown models fall back to DefaultTokenLimit.
func TokenLimit(modelID string) int {
	return DefaultCatalog().TokenLimit(modelID)
}

// SupportsTools reports whether modelID accepts function declarations.
// The list is hand-curated; models the catalog does not know are assumed
// to support them.
func SupportsTools(modelID string) bool {
	if m := DefaultCatalog().GetModelInfo(modelID); m != nil {
		return m.SupportsTools
	}
	return true
}

// Register adds a model to the catalog. If a model with the same ID already exists,
// it is replaced.
func (c *Catalog) Register(model ModelInfo) {
	for i := range c.models {
		if c.models[i].ID == model.ID {
			c.models[i] = model
			return
		}
	}
	c.models = append(c.models, model)
}
