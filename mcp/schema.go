// ABOUTME: Schema vetting and name sanitization for remote tool declarations.
// ABOUTME: Declarations the generation backends would reject are dropped at discovery time.

package mcp

import (
	"encoding/json"
	"regexp"
	"strings"
)

// maxToolNameLength is the longest function name the generation APIs accept.
const maxToolNameLength = 63

// hasValidTypes reports whether every node of a JSON schema either carries a
// type or delegates to a non-empty anyOf, allOf, or oneOf whose members all
// validate. A missing or non-object schema passes vacuously. Note this is
// stricter than JSON Schema itself: a node carrying only const or enum is
// rejected, because the upstream generation APIs refuse it.
func hasValidTypes(schema json.RawMessage) bool {
	if len(schema) == 0 {
		return true
	}
	var node any
	if err := json.Unmarshal(schema, &node); err != nil {
		return false
	}
	return schemaNodeValid(node)
}

var compositionalKeys = []string{"anyOf", "allOf", "oneOf"}

func schemaNodeValid(node any) bool {
	obj, ok := node.(map[string]any)
	if !ok {
		// Boolean and null schemas carry no nodes to vet.
		return true
	}

	_, hasType := obj["type"]
	composed := false
	for _, key := range compositionalKeys {
		members, ok := obj[key].([]any)
		if !ok || len(members) == 0 {
			continue
		}
		composed = true
		for _, member := range members {
			if !schemaNodeValid(member) {
				return false
			}
		}
	}
	if !hasType && !composed {
		return false
	}

	if props, ok := obj["properties"].(map[string]any); ok {
		for _, sub := range props {
			if !schemaNodeValid(sub) {
				return false
			}
		}
	}
	switch items := obj["items"].(type) {
	case map[string]any:
		if !schemaNodeValid(items) {
			return false
		}
	case []any:
		for _, sub := range items {
			if !schemaNodeValid(sub) {
				return false
			}
		}
	}
	return true
}

// normalizeSchema substitutes an object schema for declarations that omit
// parameters entirely, which some backends otherwise reject.
func normalizeSchema(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return raw
}

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// sanitizeName replaces characters the generation APIs reject and shortens
// overlong names, keeping the head and tail which tend to carry the meaning.
func sanitizeName(name string) string {
	valid := invalidNameChars.ReplaceAllString(name, "_")
	if len(valid) > maxToolNameLength {
		valid = valid[:28] + "___" + valid[len(valid)-32:]
	}
	return valid
}
