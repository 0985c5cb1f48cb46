// ABOUTME: Tests for tool schema vetting and name sanitization.
// ABOUTME: Covers type/compositional acceptance, nested rejection, and overlong name shortening.

package mcp

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestHasValidTypes(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		want   bool
	}{
		{"plain object", `{"type":"object"}`, true},
		{"missing type", `{"properties":{}}`, false},
		{"empty object", `{}`, false},
		{"const only node", `{"const":"fixed"}`, false},
		{"anyOf with valid members", `{"anyOf":[{"type":"string"},{"type":"number"}]}`, true},
		{"allOf with valid members", `{"allOf":[{"type":"object"}]}`, true},
		{"oneOf with valid members", `{"oneOf":[{"type":"boolean"}]}`, true},
		{"anyOf with invalid member", `{"anyOf":[{"type":"string"},{"description":"no type"}]}`, false},
		{"empty anyOf", `{"anyOf":[]}`, false},
		{"type plus invalid anyOf member", `{"type":"object","anyOf":[{"format":"uri"}]}`, false},
		{
			"valid nested properties",
			`{"type":"object","properties":{"path":{"type":"string"},"count":{"type":"integer"}}}`,
			true,
		},
		{
			"invalid nested property",
			`{"type":"object","properties":{"path":{"type":"string"},"bad":{"description":"oops"}}}`,
			false,
		},
		{
			"valid array items",
			`{"type":"array","items":{"type":"string"}}`,
			true,
		},
		{
			"invalid array items",
			`{"type":"array","items":{"enum":["a","b"]}}`,
			false,
		},
		{
			"tuple items all valid",
			`{"type":"array","items":[{"type":"string"},{"type":"number"}]}`,
			true,
		},
		{
			"tuple items one invalid",
			`{"type":"array","items":[{"type":"string"},{}]}`,
			false,
		},
		{
			"deeply nested invalid node",
			`{"type":"object","properties":{"outer":{"type":"object","properties":{"inner":{"minimum":1}}}}}`,
			false,
		},
		{"boolean schema", `true`, true},
		{"null schema", `null`, true},
		{"empty input", ``, true},
		{"malformed json", `{"type":`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasValidTypes(json.RawMessage(tt.schema)); got != tt.want {
				t.Errorf("hasValidTypes(%s) = %v, want %v", tt.schema, got, tt.want)
			}
		})
	}
}

func TestNormalizeSchema(t *testing.T) {
	if got := string(normalizeSchema(json.RawMessage(`null`))); got != `{"type":"object","properties":{}}` {
		t.Errorf("normalizeSchema(null) = %s", got)
	}
	if got := string(normalizeSchema(nil)); got != `{"type":"object","properties":{}}` {
		t.Errorf("normalizeSchema(nil) = %s", got)
	}
	original := `{"type":"object","properties":{"q":{"type":"string"}}}`
	if got := string(normalizeSchema(json.RawMessage(original))); got != original {
		t.Errorf("normalizeSchema(%s) = %s, want unchanged", original, got)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already valid", "read_file", "read_file"},
		{"dots and dashes kept", "repo.search-v2", "repo.search-v2"},
		{"spaces replaced", "my tool", "my_tool"},
		{"symbols replaced", "get/user:info", "get_user_info"},
		{"unicode replaced", "café", "caf_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeName(tt.in); got != tt.want {
				t.Errorf("sanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeNameShortensLongNames(t *testing.T) {
	long := strings.Repeat("a", 40) + strings.Repeat("b", 40)
	got := sanitizeName(long)

	if len(got) != maxToolNameLength {
		t.Fatalf("len(sanitizeName(long)) = %d, want %d", len(got), maxToolNameLength)
	}
	want := strings.Repeat("a", 28) + "___" + strings.Repeat("b", 32)
	if got != want {
		t.Errorf("sanitizeName(long) = %q, want %q", got, want)
	}

	// A name exactly at the limit passes through untouched.
	exact := strings.Repeat("x", maxToolNameLength)
	if got := sanitizeName(exact); got != exact {
		t.Errorf("sanitizeName(exact) = %q, want unchanged", got)
	}
}
