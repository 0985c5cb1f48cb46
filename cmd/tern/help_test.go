// ABOUTME: Tests for the tern CLI help display covering content, formatting, and env detection.
// ABOUTME: Checks usage patterns, flag listing, examples, and API key status markers.
package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintHelpContainsASCIIArt(t *testing.T) {
	var buf bytes.Buffer
	printHelp(&buf, "dev")
	out := buf.String()

	// The bird glides over a wave line.
	if !strings.Contains(out, "~^~") {
		t.Error("expected help output to contain the wave line")
	}
	if !strings.Contains(out, `_,...-'`) {
		t.Error("expected help output to contain the tern's wing")
	}
}

func TestPrintHelpContainsProjectName(t *testing.T) {
	var buf bytes.Buffer
	printHelp(&buf, "1.2.3")
	out := buf.String()

	if !strings.Contains(out, "tern") {
		t.Error("expected help output to contain project name 'tern'")
	}
	if !strings.Contains(out, "1.2.3") {
		t.Error("expected help output to contain version '1.2.3'")
	}
}

func TestPrintHelpContainsUsagePatterns(t *testing.T) {
	var buf bytes.Buffer
	printHelp(&buf, "dev")
	out := buf.String()

	patterns := []string{
		"tern -p",
		"tern -resume <session-id>",
		"tern -list-sessions",
	}
	for _, p := range patterns {
		if !strings.Contains(out, p) {
			t.Errorf("expected help to contain usage pattern %q", p)
		}
	}
}

func TestPrintHelpContainsAllFlags(t *testing.T) {
	var buf bytes.Buffer
	printHelp(&buf, "dev")
	out := buf.String()

	flags := []string{
		"-model",
		"-auth",
		"-approval",
		"-p",
		"-resume",
		"-list-sessions",
		"-debug",
		"-version",
		"-help",
	}
	for _, f := range flags {
		if !strings.Contains(out, f) {
			t.Errorf("expected help to contain flag %q", f)
		}
	}
}

func TestPrintHelpContainsExamples(t *testing.T) {
	var buf bytes.Buffer
	printHelp(&buf, "dev")
	out := buf.String()

	if !strings.Contains(out, "Examples:") {
		t.Error("expected help to contain 'Examples:' section header")
	}
	if !strings.Contains(out, "tern -model gemini-2.5-flash") {
		t.Error("expected help to contain a model selection example")
	}
}

func TestPrintHelpContainsInteractiveCommands(t *testing.T) {
	var buf bytes.Buffer
	printHelp(&buf, "dev")
	out := buf.String()

	for _, c := range []string{"/help", "/memory", "!<command>", "@<path>"} {
		if !strings.Contains(out, c) {
			t.Errorf("expected help to mention interactive command %q", c)
		}
	}
}

func TestPrintHelpShowsEnvVarStatus(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	var buf bytes.Buffer
	printHelp(&buf, "dev")
	out := buf.String()

	foundSet := false
	foundNotSet := false
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "GEMINI_API_KEY") && strings.Contains(line, "[set]") && !strings.Contains(line, "[not set]") {
			foundSet = true
		}
		if strings.Contains(line, "OPENAI_API_KEY") && strings.Contains(line, "[not set]") {
			foundNotSet = true
		}
	}
	if !foundSet {
		t.Error("expected GEMINI_API_KEY to show [set] when env var is present")
	}
	if !foundNotSet {
		t.Error("expected OPENAI_API_KEY to show [not set] when env var is empty")
	}
}

func TestPrintHelpMentionsGoogleSignIn(t *testing.T) {
	var buf bytes.Buffer
	printHelp(&buf, "dev")

	if !strings.Contains(buf.String(), "signs in with a Google account") {
		t.Error("expected help to mention the no-key sign-in path")
	}
}

func TestPrintHelpContainsDocsLink(t *testing.T) {
	var buf bytes.Buffer
	printHelp(&buf, "dev")

	if !strings.Contains(buf.String(), "https://github.com/2389-research/tern") {
		t.Error("expected help to contain docs link")
	}
}

func TestEnvStatus(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		expected string
	}{
		{"set key", "TEST_KEY_SET", "some-value", "[set]"},
		{"empty key", "TEST_KEY_EMPTY", "", "[not set]"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			got := envStatus(tc.key)
			if got != tc.expected {
				t.Errorf("envStatus(%q) = %q, want %q", tc.key, got, tc.expected)
			}
		})
	}
}
