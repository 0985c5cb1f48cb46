// ABOUTME: Tests for settings.yaml loading and the user/project merge rules.
// ABOUTME: Covers missing files, malformed YAML, pointer-field defaults, and MCP server maps.
package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSettings(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, settingsFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadSettingsFileMissingIsEmpty(t *testing.T) {
	s, err := loadSettingsFile(filepath.Join(t.TempDir(), "no-such-settings.yaml"))
	if err != nil {
		t.Fatalf("expected missing file to yield empty settings, got error: %v", err)
	}
	if s.Model != "" || s.AuthType != "" || s.MaxSessionTurns != nil {
		t.Errorf("expected zero-value settings, got %+v", s)
	}
}

func TestLoadSettingsFileMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, "model: [unclosed\n")

	_, err := loadSettingsFile(filepath.Join(dir, settingsFileName))
	if err == nil {
		t.Fatal("expected error for malformed YAML")
	}
	if !strings.Contains(err.Error(), "parsing") {
		t.Errorf("expected parsing error, got %v", err)
	}
}

func TestLoadSettingsFileFullDecode(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, `
model: gemini-2.5-flash
authType: gemini-api-key
maxSessionTurns: 10
approvalMode: auto_edit
checkpointing: true
excludeTools:
  - shell
mcpServers:
  local:
    command: ./server
    args: ["--fast"]
    trust: true
  remote:
    httpUrl: https://mcp.example.com/api
    timeout: 5000
`)

	s, err := loadSettingsFile(filepath.Join(dir, settingsFileName))
	if err != nil {
		t.Fatalf("loadSettingsFile failed: %v", err)
	}

	if s.Model != "gemini-2.5-flash" {
		t.Errorf("expected model gemini-2.5-flash, got %q", s.Model)
	}
	if s.AuthType != "gemini-api-key" {
		t.Errorf("expected authType gemini-api-key, got %q", s.AuthType)
	}
	if s.maxTurns() != 10 {
		t.Errorf("expected maxTurns=10, got %d", s.maxTurns())
	}
	if s.ApprovalMode != "auto_edit" {
		t.Errorf("expected approvalMode auto_edit, got %q", s.ApprovalMode)
	}
	if !s.checkpointing() {
		t.Error("expected checkpointing=true")
	}
	if len(s.ExcludeTools) != 1 || s.ExcludeTools[0] != "shell" {
		t.Errorf("expected excludeTools=[shell], got %v", s.ExcludeTools)
	}

	local := s.MCPServers["local"]
	if local == nil {
		t.Fatal("expected mcpServers.local entry")
	}
	if local.Command != "./server" {
		t.Errorf("expected local command ./server, got %q", local.Command)
	}
	if len(local.Args) != 1 || local.Args[0] != "--fast" {
		t.Errorf("expected local args [--fast], got %v", local.Args)
	}
	if !local.Trust {
		t.Error("expected local trust=true")
	}

	remote := s.MCPServers["remote"]
	if remote == nil {
		t.Fatal("expected mcpServers.remote entry")
	}
	if remote.HTTPURL != "https://mcp.example.com/api" {
		t.Errorf("expected remote httpUrl, got %q", remote.HTTPURL)
	}
	if remote.TimeoutMs != 5000 {
		t.Errorf("expected remote timeout=5000, got %d", remote.TimeoutMs)
	}
}

func TestMaxTurnsAbsentMeansUnlimited(t *testing.T) {
	s := &Settings{}
	if got := s.maxTurns(); got != -1 {
		t.Errorf("expected -1 for absent maxSessionTurns, got %d", got)
	}
}

func TestMaxTurnsZeroIsKept(t *testing.T) {
	zero := 0
	s := &Settings{MaxSessionTurns: &zero}
	if got := s.maxTurns(); got != 0 {
		t.Errorf("expected configured 0 to survive, got %d", got)
	}
}

func TestCheckpointingDefaultsOff(t *testing.T) {
	s := &Settings{}
	if s.checkpointing() {
		t.Error("expected checkpointing off when unset")
	}
}

func TestLoadSettingsProjectOverridesUser(t *testing.T) {
	appDir := t.TempDir()
	projectRoot := t.TempDir()

	writeSettings(t, appDir, "model: gemini-2.5-pro\napprovalMode: default\n")
	writeSettings(t, filepath.Join(projectRoot, projectSettingsDir), "model: gemini-2.5-flash\n")

	s, err := loadSettings(appDir, projectRoot)
	if err != nil {
		t.Fatalf("loadSettings failed: %v", err)
	}

	if s.Model != "gemini-2.5-flash" {
		t.Errorf("expected project model to win, got %q", s.Model)
	}
	if s.ApprovalMode != "default" {
		t.Errorf("expected user approvalMode to survive, got %q", s.ApprovalMode)
	}
}

func TestLoadSettingsNoFilesAtAll(t *testing.T) {
	s, err := loadSettings(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("loadSettings failed: %v", err)
	}
	if s.Model != "" {
		t.Errorf("expected empty settings, got model %q", s.Model)
	}
}

func TestMergeExcludeToolsAccumulate(t *testing.T) {
	user := &Settings{ExcludeTools: []string{"shell"}}
	project := &Settings{ExcludeTools: []string{"write_file"}}

	user.merge(project)

	if len(user.ExcludeTools) != 2 {
		t.Fatalf("expected 2 excluded tools, got %v", user.ExcludeTools)
	}
	if user.ExcludeTools[0] != "shell" || user.ExcludeTools[1] != "write_file" {
		t.Errorf("expected [shell write_file], got %v", user.ExcludeTools)
	}
}

func TestMergeMCPServersByName(t *testing.T) {
	appDir := t.TempDir()
	projectRoot := t.TempDir()

	writeSettings(t, appDir, `
mcpServers:
  shared:
    command: user-server
  userOnly:
    command: user-only
`)
	writeSettings(t, filepath.Join(projectRoot, projectSettingsDir), `
mcpServers:
  shared:
    command: project-server
  projectOnly:
    command: project-only
`)

	s, err := loadSettings(appDir, projectRoot)
	if err != nil {
		t.Fatalf("loadSettings failed: %v", err)
	}

	if len(s.MCPServers) != 3 {
		t.Fatalf("expected 3 merged servers, got %d", len(s.MCPServers))
	}
	if got := s.MCPServers["shared"].Command; got != "project-server" {
		t.Errorf("expected project entry to win for shared server, got %q", got)
	}
	if s.MCPServers["userOnly"] == nil || s.MCPServers["projectOnly"] == nil {
		t.Error("expected entries from both layers to survive the merge")
	}
}

func TestMergeDoesNotOverwriteWithAbsent(t *testing.T) {
	five := 5
	yes := true
	user := &Settings{
		Model:           "gemini-2.5-pro",
		MaxSessionTurns: &five,
		Checkpointing:   &yes,
	}

	user.merge(&Settings{})

	if user.Model != "gemini-2.5-pro" {
		t.Errorf("expected model untouched by empty overlay, got %q", user.Model)
	}
	if user.maxTurns() != 5 {
		t.Errorf("expected maxTurns untouched, got %d", user.maxTurns())
	}
	if !user.checkpointing() {
		t.Error("expected checkpointing untouched")
	}
}

func TestMergeZeroTurnsOverridesUnlimited(t *testing.T) {
	zero := 0
	user := &Settings{}
	user.merge(&Settings{MaxSessionTurns: &zero})

	if got := user.maxTurns(); got != 0 {
		t.Errorf("expected overlay's explicit 0 to win, got %d", got)
	}
}
