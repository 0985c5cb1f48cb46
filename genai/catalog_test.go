// ABOUTME: Tests for the model catalog.
// ABOUTME: Covers ID and alias lookup, provider filtering, token limits, and registration.

package genai

import "testing"

func TestGetModelInfoByID(t *testing.T) {
	c := DefaultCatalog()

	m := c.GetModelInfo("gemini-2.5-pro")
	if m == nil {
		t.Fatal("GetModelInfo(gemini-2.5-pro) = nil")
	}
	if m.DisplayName != "Gemini 2.5 Pro" {
		t.Errorf("DisplayName = %q", m.DisplayName)
	}
	if !m.SupportsTools {
		t.Error("SupportsTools = false")
	}

	if c.GetModelInfo("no-such-model") != nil {
		t.Error("GetModelInfo(no-such-model) != nil")
	}
}

func TestGetModelInfoByAlias(t *testing.T) {
	c := DefaultCatalog()

	tests := []struct {
		alias string
		want  string
	}{
		{"pro", "gemini-2.5-pro"},
		{"flash", "gemini-2.5-flash"},
		{"flash-lite", "gemini-2.5-flash-lite"},
		{"embedding", "gemini-embedding-001"},
	}

	for _, tt := range tests {
		m := c.GetModelInfo(tt.alias)
		if m == nil {
			t.Errorf("GetModelInfo(%q) = nil", tt.alias)
			continue
		}
		if m.ID != tt.want {
			t.Errorf("GetModelInfo(%q).ID = %q, want %q", tt.alias, m.ID, tt.want)
		}
	}
}

func TestListModels(t *testing.T) {
	c := DefaultCatalog()

	all := c.ListModels("")
	if len(all) < 5 {
		t.Errorf("ListModels(\"\") returned %d models", len(all))
	}

	gemini := c.ListModels("gemini")
	if len(gemini) != len(all) {
		t.Errorf("ListModels(gemini) = %d models, want %d", len(gemini), len(all))
	}

	if got := c.ListModels("nonexistent"); len(got) != 0 {
		t.Errorf("ListModels(nonexistent) = %d models, want 0", len(got))
	}
}

func TestTokenLimit(t *testing.T) {
	c := DefaultCatalog()

	if got := c.TokenLimit("gemini-1.5-pro"); got != 2_097_152 {
		t.Errorf("TokenLimit(gemini-1.5-pro) = %d", got)
	}
	if got := c.TokenLimit("pro"); got != 1_048_576 {
		t.Errorf("TokenLimit(pro) = %d", got)
	}
	if got := c.TokenLimit("mystery-model"); got != DefaultTokenLimit {
		t.Errorf("TokenLimit(mystery-model) = %d, want DefaultTokenLimit", got)
	}
}

func TestPackageLevelLookups(t *testing.T) {
	if got := TokenLimit("gemini-1.5-pro"); got != 2_097_152 {
		t.Errorf("TokenLimit(gemini-1.5-pro) = %d", got)
	}
	if got := TokenLimit("mystery-model"); got != DefaultTokenLimit {
		t.Errorf("TokenLimit(mystery-model) = %d, want DefaultTokenLimit", got)
	}

	if !SupportsTools("gemini-2.5-flash") {
		t.Error("SupportsTools(gemini-2.5-flash) = false")
	}
	if SupportsTools("gemini-embedding-001") {
		t.Error("SupportsTools(gemini-embedding-001) = true")
	}
	// Models outside the catalog are assumed tool-capable.
	if !SupportsTools("mystery-model") {
		t.Error("SupportsTools(mystery-model) = false")
	}
}

func TestRegister(t *testing.T) {
	c := DefaultCatalog()

	c.Register(ModelInfo{
		ID:            "custom-model",
		Provider:      "router",
		ContextWindow: 32_768,
	})
	if got := c.TokenLimit("custom-model"); got != 32_768 {
		t.Errorf("TokenLimit(custom-model) = %d", got)
	}

	// Registering an existing ID replaces the entry.
	c.Register(ModelInfo{ID: "custom-model", Provider: "router", ContextWindow: 65_536})
	if got := c.TokenLimit("custom-model"); got != 65_536 {
		t.Errorf("TokenLimit after re-register = %d", got)
	}
	if got := len(c.ListModels("router")); got != 1 {
		t.Errorf("router models = %d, want 1", got)
	}

	// Registration does not leak into fresh catalogs.
	if DefaultCatalog().GetModelInfo("custom-model") != nil {
		t.Error("custom model visible in a new DefaultCatalog")
	}
}
