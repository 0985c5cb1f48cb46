// ABOUTME: Tests for the slash-command and shell-escape processors.
// ABOUTME: Covers built-ins, memory routing, MCP prompt listing, and argument mapping.
package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/2389-research/tern/agent"
	"github.com/2389-research/tern/genai"
	"github.com/2389-research/tern/mcp"
)

// newTestProcessor builds a SlashProcessor over a real registry with the core
// tools installed. The memory file lives in a fresh temp dir.
func newTestProcessor(t *testing.T) *SlashProcessor {
	t.Helper()
	registry := agent.NewToolRegistry()
	env := agent.NewLocalExecutionEnvironment(t.TempDir())
	memoryFile := filepath.Join(t.TempDir(), memoryFileName)
	agent.RegisterCoreTools(registry, env, memoryFile)
	return NewSlashProcessor(registry, nil, memoryFile, nil, agent.NewSession())
}

func TestSlashProcessorIgnoresPlainInput(t *testing.T) {
	p := newTestProcessor(t)

	result, err := p.Process(context.Background(), "explain this function")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result for non-slash input, got %+v", result)
	}
}

func TestSlashHelp(t *testing.T) {
	p := newTestProcessor(t)

	result, err := p.Process(context.Background(), "/help")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result == nil || result.Action != agent.ActionHandled {
		t.Fatalf("expected handled result, got %+v", result)
	}
	for _, want := range []string{"/tools", "/memory add", "/quit", "!<command>", "@<path>"} {
		if !strings.Contains(result.Message, want) {
			t.Errorf("expected help to mention %q, got:\n%s", want, result.Message)
		}
	}
}

func TestSlashHelpQuestionMarkAlias(t *testing.T) {
	p := newTestProcessor(t)

	result, err := p.Process(context.Background(), "/?")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result == nil || result.Action != agent.ActionHandled {
		t.Fatalf("expected handled result, got %+v", result)
	}
	if !strings.Contains(result.Message, "Commands:") {
		t.Errorf("expected /? to show help, got:\n%s", result.Message)
	}
}

func TestSlashQuitConsumedSilently(t *testing.T) {
	p := newTestProcessor(t)

	for _, input := range []string{"/quit", "/exit"} {
		result, err := p.Process(context.Background(), input)
		if err != nil {
			t.Fatalf("Process(%q) failed: %v", input, err)
		}
		if result == nil || result.Action != agent.ActionHandled {
			t.Fatalf("expected %q to be handled, got %+v", input, result)
		}
		if result.Message != "" {
			t.Errorf("expected %q to be consumed silently, got message %q", input, result.Message)
		}
	}
}

func TestSlashToolsListsRegistry(t *testing.T) {
	p := newTestProcessor(t)

	result, err := p.Process(context.Background(), "/tools")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result == nil || result.Action != agent.ActionHandled {
		t.Fatalf("expected handled result, got %+v", result)
	}
	for _, tool := range []string{"read_file", "shell", "save_memory"} {
		if !strings.Contains(result.Message, tool) {
			t.Errorf("expected tool listing to include %q, got:\n%s", tool, result.Message)
		}
	}
}

func TestToolListingEmpty(t *testing.T) {
	if got := toolListing(nil); got != "No tools registered." {
		t.Errorf("expected empty-registry message, got %q", got)
	}
}

func TestSlashMCPWithoutManager(t *testing.T) {
	p := newTestProcessor(t)

	result, err := p.Process(context.Background(), "/mcp")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result == nil || result.Message != "No MCP servers configured." {
		t.Errorf("expected no-servers message, got %+v", result)
	}
}

func TestSlashMemoryUsage(t *testing.T) {
	p := newTestProcessor(t)

	for _, input := range []string{"/memory", "/memory bogus"} {
		result, err := p.Process(context.Background(), input)
		if err != nil {
			t.Fatalf("Process(%q) failed: %v", input, err)
		}
		if result == nil || result.Message != memoryUsage {
			t.Errorf("expected usage message for %q, got %+v", input, result)
		}
	}
}

func TestSlashMemoryShowEmpty(t *testing.T) {
	p := newTestProcessor(t)

	result, err := p.Process(context.Background(), "/memory show")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result == nil || result.Message != "Memory is empty." {
		t.Errorf("expected empty-memory message, got %+v", result)
	}
}

func TestSlashMemoryShowContents(t *testing.T) {
	p := newTestProcessor(t)
	if err := os.WriteFile(p.memoryFile, []byte("- prefers tabs\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := p.Process(context.Background(), "/memory show")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result == nil || result.Message != "- prefers tabs" {
		t.Errorf("expected trimmed memory contents, got %+v", result)
	}
}

func TestSlashMemoryAddSchedulesTool(t *testing.T) {
	p := newTestProcessor(t)

	result, err := p.Process(context.Background(), "/memory add prefers table tests")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result == nil || result.Action != agent.ActionScheduleTool {
		t.Fatalf("expected schedule_tool result, got %+v", result)
	}
	if result.ToolName != "save_memory" {
		t.Errorf("expected save_memory tool, got %q", result.ToolName)
	}
	if got := result.ToolArgs["fact"]; got != "prefers table tests" {
		t.Errorf("expected joined fact, got %v", got)
	}
}

func TestSlashMemoryAddWithoutFact(t *testing.T) {
	p := newTestProcessor(t)

	result, err := p.Process(context.Background(), "/memory add")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result == nil || result.Message != memoryUsage {
		t.Errorf("expected usage message for bare add, got %+v", result)
	}
}

func TestSlashRestoreDisabled(t *testing.T) {
	p := newTestProcessor(t)

	result, err := p.Process(context.Background(), "/restore")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result == nil || !strings.Contains(result.Message, "disabled") {
		t.Errorf("expected disabled message, got %+v", result)
	}
}

func TestSlashRestoreListsAndReloads(t *testing.T) {
	registry := agent.NewToolRegistry()
	env := agent.NewLocalExecutionEnvironment(t.TempDir())
	cp := agent.NewCheckpointer(filepath.Join(t.TempDir(), "checkpoints"), env)
	session := agent.NewSession()
	p := NewSlashProcessor(registry, nil, filepath.Join(t.TempDir(), memoryFileName), cp, session)

	// Nothing saved yet.
	result, err := p.Process(context.Background(), "/restore")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result == nil || result.Message != "No checkpoints saved." {
		t.Errorf("expected empty-list message, got %+v", result)
	}

	path, err := cp.Save(context.Background(), &agent.CheckpointBundle{
		History:  []*genai.Content{genai.UserContent(genai.TextPart("earlier question"))},
		ToolCall: agent.CheckpointCall{Name: "write_file"},
		FilePath: "notes.txt",
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	name := filepath.Base(path)

	result, err = p.Process(context.Background(), "/restore")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result == nil || !strings.Contains(result.Message, name) {
		t.Errorf("expected listing to include %q, got %+v", name, result)
	}

	result, err = p.Process(context.Background(), "/restore "+name)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result == nil || !strings.Contains(result.Message, "Restored conversation") {
		t.Errorf("expected restore confirmation, got %+v", result)
	}
	history := session.History()
	if len(history) != 1 || history[0].Text() != "earlier question" {
		t.Errorf("expected restored history, got %+v", history)
	}
}

func TestSlashRestoreUnknownCheckpoint(t *testing.T) {
	env := agent.NewLocalExecutionEnvironment(t.TempDir())
	cp := agent.NewCheckpointer(filepath.Join(t.TempDir(), "checkpoints"), env)
	p := NewSlashProcessor(agent.NewToolRegistry(), nil, filepath.Join(t.TempDir(), memoryFileName), cp, agent.NewSession())

	if _, err := p.Process(context.Background(), "/restore missing.json"); err == nil {
		t.Error("expected error for unknown checkpoint")
	}
}

func TestSlashHelpShowsRestoreWhenEnabled(t *testing.T) {
	env := agent.NewLocalExecutionEnvironment(t.TempDir())
	cp := agent.NewCheckpointer(filepath.Join(t.TempDir(), "checkpoints"), env)
	p := NewSlashProcessor(agent.NewToolRegistry(), nil, filepath.Join(t.TempDir(), memoryFileName), cp, agent.NewSession())

	result, err := p.Process(context.Background(), "/help")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !strings.Contains(result.Message, "/restore") {
		t.Errorf("expected help to mention /restore, got:\n%s", result.Message)
	}

	disabled := newTestProcessor(t)
	result, err = disabled.Process(context.Background(), "/help")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if strings.Contains(result.Message, "/restore") {
		t.Error("help mentions /restore while checkpointing is disabled")
	}
}

func TestSlashUnknownCommand(t *testing.T) {
	p := newTestProcessor(t)

	result, err := p.Process(context.Background(), "/frobnicate now")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result == nil || result.Action != agent.ActionHandled {
		t.Fatalf("expected handled result, got %+v", result)
	}
	want := "Unknown command: /frobnicate. Try /help."
	if result.Message != want {
		t.Errorf("expected %q, got %q", want, result.Message)
	}
}

func TestSlashHelpListsServerPrompts(t *testing.T) {
	registry := agent.NewToolRegistry()
	manager := mcp.NewManager(map[string]*mcp.ServerConfig{}, registry)
	manager.Prompts().Register("review", &mcp.DiscoveredPrompt{
		Server: "dev",
		Name:   "review",
	})
	p := NewSlashProcessor(registry, manager, filepath.Join(t.TempDir(), memoryFileName), nil, agent.NewSession())

	result, err := p.Process(context.Background(), "/help")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !strings.Contains(result.Message, "Server prompts:") {
		t.Errorf("expected server prompt section, got:\n%s", result.Message)
	}
	if !strings.Contains(result.Message, "/review") {
		t.Errorf("expected /review in help, got:\n%s", result.Message)
	}
}

// --- promptArgValues tests ---

func TestPromptArgValues(t *testing.T) {
	prompt := &mcp.DiscoveredPrompt{
		Name: "review",
		Arguments: []mcp.PromptArgument{
			{Name: "file"},
			{Name: "focus"},
		},
	}

	tests := []struct {
		name string
		args []string
		want map[string]string
	}{
		{"no args", nil, nil},
		{"one arg", []string{"main.go"}, map[string]string{"file": "main.go"}},
		{"exact args", []string{"main.go", "errors"}, map[string]string{"file": "main.go", "focus": "errors"}},
		{"surplus joins last", []string{"main.go", "error", "handling", "style"}, map[string]string{"file": "main.go", "focus": "error handling style"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := promptArgValues(prompt, tc.args)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d values, got %v", len(tc.want), got)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Errorf("expected %s=%q, got %q", k, v, got[k])
				}
			}
		})
	}
}

func TestPromptArgValuesNoDeclaredArguments(t *testing.T) {
	prompt := &mcp.DiscoveredPrompt{Name: "plain"}
	if got := promptArgValues(prompt, []string{"stray"}); got != nil {
		t.Errorf("expected nil for prompt without declared arguments, got %v", got)
	}
}

// --- ShellProcessor tests ---

func TestShellProcessorIgnoresPlainInput(t *testing.T) {
	result, err := ShellProcessor{}.Process(context.Background(), "ls -la")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result for non-! input, got %+v", result)
	}
}

func TestShellProcessorRunsCommand(t *testing.T) {
	result, err := ShellProcessor{}.Process(context.Background(), "!git status")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result == nil || result.Action != agent.ActionRunShell {
		t.Fatalf("expected run_shell result, got %+v", result)
	}
	if result.Command != "git status" {
		t.Errorf("expected command 'git status', got %q", result.Command)
	}
}

func TestShellProcessorEmptyCommandShowsUsage(t *testing.T) {
	for _, input := range []string{"!", "!   "} {
		result, err := ShellProcessor{}.Process(context.Background(), input)
		if err != nil {
			t.Fatalf("Process(%q) failed: %v", input, err)
		}
		if result == nil || result.Action != agent.ActionHandled {
			t.Fatalf("expected handled result for %q, got %+v", input, result)
		}
		if !strings.Contains(result.Message, "Usage:") {
			t.Errorf("expected usage message for %q, got %q", input, result.Message)
		}
	}
}
