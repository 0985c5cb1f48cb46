// ABOUTME: Tests for the built-in tools: read_file, write_file, replace, shell, grep, glob, save_memory.
// ABOUTME: Runs each tool against a real LocalExecutionEnvironment in a temp directory.

package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- argument helper tests ---

func TestGetStringArg(t *testing.T) {
	args := map[string]any{"name": "value", "count": 3, "empty": nil}

	got, err := getStringArg(args, "name", true)
	if err != nil {
		t.Fatalf("getStringArg returned error: %v", err)
	}
	if got != "value" {
		t.Errorf("expected %q, got %q", "value", got)
	}

	// Missing optional returns empty without error
	got, err = getStringArg(args, "absent", false)
	if err != nil {
		t.Fatalf("optional missing arg should not error: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty string, got %q", got)
	}

	// Missing required errors
	if _, err := getStringArg(args, "absent", true); err == nil {
		t.Error("expected error for missing required arg")
	} else if !strings.Contains(err.Error(), "missing required parameter: absent") {
		t.Errorf("unexpected error message: %v", err)
	}

	// Nil value counts as missing
	if _, err := getStringArg(args, "empty", true); err == nil {
		t.Error("expected error for nil required arg")
	}

	// Wrong type errors
	if _, err := getStringArg(args, "count", true); err == nil {
		t.Error("expected error for non-string arg")
	}
}

func TestGetIntArg(t *testing.T) {
	args := map[string]any{
		"float":  float64(42),
		"int":    7,
		"number": json.Number("19"),
		"text":   "nope",
	}

	tests := []struct {
		key  string
		want int
	}{
		{"float", 42},
		{"int", 7},
		{"number", 19},
		{"absent", 99}, // default
	}
	for _, tt := range tests {
		got, err := getIntArg(args, tt.key, 99)
		if err != nil {
			t.Errorf("getIntArg(%q) returned error: %v", tt.key, err)
			continue
		}
		if got != tt.want {
			t.Errorf("getIntArg(%q) = %d, want %d", tt.key, got, tt.want)
		}
	}

	if _, err := getIntArg(args, "text", 0); err == nil {
		t.Error("expected error for non-numeric arg")
	}
}

func TestGetBoolArg(t *testing.T) {
	args := map[string]any{"flag": true, "text": "yes"}

	got, err := getBoolArg(args, "flag", false)
	if err != nil {
		t.Fatalf("getBoolArg returned error: %v", err)
	}
	if !got {
		t.Error("expected true")
	}

	got, err = getBoolArg(args, "absent", true)
	if err != nil {
		t.Fatalf("getBoolArg returned error: %v", err)
	}
	if !got {
		t.Error("expected default true for missing arg")
	}

	if _, err := getBoolArg(args, "text", false); err == nil {
		t.Error("expected error for non-boolean arg")
	}
}

// --- read_file tests ---

func TestReadFileTool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.go")
	if err := os.WriteFile(path, []byte("package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewReadFileTool(NewLocalExecutionEnvironment(dir))
	if tool.Name() != "read_file" {
		t.Errorf("expected tool name 'read_file', got %q", tool.Name())
	}
	if tool.Kind() != KindRead {
		t.Errorf("expected kind %q, got %q", KindRead, tool.Kind())
	}

	result, err := tool.Execute(context.Background(), map[string]any{"path": path})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if !strings.Contains(result.LLMContent, "1\tpackage main") {
		t.Errorf("expected line-numbered output, got:\n%s", result.LLMContent)
	}
	if !strings.Contains(result.LLMContent, "4\t\tprintln(\"hi\")") {
		t.Errorf("expected line 4 content, got:\n%s", result.LLMContent)
	}
	if result.ReturnDisplay != "Read "+path {
		t.Errorf("expected display %q, got %q", "Read "+path, result.ReturnDisplay)
	}
}

func TestReadFileToolOffsetAndLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lines.txt")
	if err := os.WriteFile(path, []byte("line1\nline2\nline3\nline4\nline5\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewReadFileTool(NewLocalExecutionEnvironment(dir))

	// JSON numbers arrive as float64
	result, err := tool.Execute(context.Background(), map[string]any{
		"path":   path,
		"offset": float64(3),
		"limit":  float64(2),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if !strings.Contains(result.LLMContent, "line3") {
		t.Errorf("expected line3, got:\n%s", result.LLMContent)
	}
	if !strings.Contains(result.LLMContent, "line4") {
		t.Errorf("expected line4, got:\n%s", result.LLMContent)
	}
	if strings.Contains(result.LLMContent, "line2") {
		t.Errorf("should not contain line2 (before offset), got:\n%s", result.LLMContent)
	}
	if strings.Contains(result.LLMContent, "line5") {
		t.Errorf("should not contain line5 (past limit), got:\n%s", result.LLMContent)
	}
}

func TestReadFileToolMissingPath(t *testing.T) {
	tool := NewReadFileTool(NewLocalExecutionEnvironment(t.TempDir()))

	_, err := tool.Execute(context.Background(), map[string]any{})
	if err == nil {
		t.Fatal("expected error for missing path, got nil")
	}
	if !strings.Contains(err.Error(), "missing required parameter: path") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestReadFileToolNotFound(t *testing.T) {
	dir := t.TempDir()
	tool := NewReadFileTool(NewLocalExecutionEnvironment(dir))

	_, err := tool.Execute(context.Background(), map[string]any{
		"path": filepath.Join(dir, "nonexistent.txt"),
	})
	if err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}

// --- write_file tests ---

func TestWriteFileTool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output.txt")

	tool := NewWriteFileTool(NewLocalExecutionEnvironment(dir))
	if tool.Name() != "write_file" {
		t.Errorf("expected tool name 'write_file', got %q", tool.Name())
	}

	result, err := tool.Execute(context.Background(), map[string]any{
		"path":    path,
		"content": "hello world\n",
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	want := "Successfully wrote 12 bytes to " + path
	if result.LLMContent != want {
		t.Errorf("expected %q, got %q", want, result.LLMContent)
	}
	if result.ReturnDisplay != "Wrote output.txt" {
		t.Errorf("expected display %q, got %q", "Wrote output.txt", result.ReturnDisplay)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("os.ReadFile returned error: %v", err)
	}
	if string(data) != "hello world\n" {
		t.Errorf("expected file content %q, got %q", "hello world\n", string(data))
	}
}

func TestWriteFileToolConfirmation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes", "draft.md")

	tool := NewWriteFileTool(NewLocalExecutionEnvironment(dir))
	confirm, err := tool.ShouldConfirm(context.Background(), map[string]any{
		"path":    path,
		"content": "# Draft\n",
	})
	if err != nil {
		t.Fatalf("ShouldConfirm returned error: %v", err)
	}
	if confirm == nil {
		t.Fatal("expected a confirmation request, got nil")
	}
	if confirm.Kind != KindEdit {
		t.Errorf("expected kind %q, got %q", KindEdit, confirm.Kind)
	}
	if confirm.Title != "Apply change: draft.md" {
		t.Errorf("expected title %q, got %q", "Apply change: draft.md", confirm.Title)
	}
	if confirm.FilePath != path {
		t.Errorf("expected file path %q, got %q", path, confirm.FilePath)
	}
	if confirm.NewContent != "# Draft\n" {
		t.Errorf("expected new content %q, got %q", "# Draft\n", confirm.NewContent)
	}
}

// --- replace tests ---

func TestReplaceTool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edit.txt")
	if err := os.WriteFile(path, []byte("hello world\nfoo bar\nbaz qux\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewReplaceTool(NewLocalExecutionEnvironment(dir))
	if tool.Name() != "replace" {
		t.Errorf("expected tool name 'replace', got %q", tool.Name())
	}

	result, err := tool.Execute(context.Background(), map[string]any{
		"path":       path,
		"old_string": "foo bar",
		"new_string": "REPLACED",
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	want := "Made 1 replacement(s) in " + path
	if result.LLMContent != want {
		t.Errorf("expected %q, got %q", want, result.LLMContent)
	}
	if result.ReturnDisplay != "Edited edit.txt" {
		t.Errorf("expected display %q, got %q", "Edited edit.txt", result.ReturnDisplay)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "hello world\nREPLACED\nbaz qux\n" {
		t.Errorf("unexpected file content:\n%s", string(data))
	}
}

func TestReplaceToolStringNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edit.txt")
	if err := os.WriteFile(path, []byte("hello world\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewReplaceTool(NewLocalExecutionEnvironment(dir))

	_, err := tool.Execute(context.Background(), map[string]any{
		"path":       path,
		"old_string": "nonexistent string",
		"new_string": "replacement",
	})
	if err == nil {
		t.Fatal("expected error when old_string not found, got nil")
	}
	if !strings.Contains(err.Error(), "old_string not found in") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestReplaceToolNotUnique(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edit.txt")
	if err := os.WriteFile(path, []byte("hello world\nhello world\nhello world\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewReplaceTool(NewLocalExecutionEnvironment(dir))

	_, err := tool.Execute(context.Background(), map[string]any{
		"path":       path,
		"old_string": "hello world",
		"new_string": "goodbye",
	})
	if err == nil {
		t.Fatal("expected error when old_string matches multiple locations, got nil")
	}
	if !strings.Contains(err.Error(), "not unique") {
		t.Errorf("expected 'not unique' in error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "found 3 occurrences") {
		t.Errorf("expected occurrence count in error, got: %v", err)
	}
}

func TestReplaceToolReplaceAll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edit.txt")
	if err := os.WriteFile(path, []byte("aaa bbb aaa ccc aaa\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewReplaceTool(NewLocalExecutionEnvironment(dir))

	result, err := tool.Execute(context.Background(), map[string]any{
		"path":        path,
		"old_string":  "aaa",
		"new_string":  "ZZZ",
		"replace_all": true,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if !strings.Contains(result.LLMContent, "Made 3 replacement(s)") {
		t.Errorf("expected 3 replacements, got: %s", result.LLMContent)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "ZZZ bbb ZZZ ccc ZZZ\n" {
		t.Errorf("expected all occurrences replaced, got %q", string(data))
	}
}

func TestReplaceToolConfirmationShowsResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edit.txt")
	if err := os.WriteFile(path, []byte("before text\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewReplaceTool(NewLocalExecutionEnvironment(dir))

	confirm, err := tool.ShouldConfirm(context.Background(), map[string]any{
		"path":       path,
		"old_string": "before",
		"new_string": "after",
	})
	if err != nil {
		t.Fatalf("ShouldConfirm returned error: %v", err)
	}
	if confirm == nil {
		t.Fatal("expected a confirmation request, got nil")
	}
	// The confirmation carries the post-edit content so the UI can show a diff.
	if confirm.NewContent != "after text\n" {
		t.Errorf("expected new content %q, got %q", "after text\n", confirm.NewContent)
	}

	// Broken args defer to Execute for the real error.
	confirm, err = tool.ShouldConfirm(context.Background(), map[string]any{
		"path":       filepath.Join(dir, "missing.txt"),
		"old_string": "x",
		"new_string": "y",
	})
	if err != nil {
		t.Fatalf("ShouldConfirm returned error: %v", err)
	}
	if confirm != nil {
		t.Error("expected nil confirmation when the edit cannot be computed")
	}
}

// --- shell tests ---

func TestShellTool(t *testing.T) {
	dir := t.TempDir()
	tool := NewShellTool(NewLocalExecutionEnvironment(dir))
	if tool.Name() != "shell" {
		t.Errorf("expected tool name 'shell', got %q", tool.Name())
	}
	if tool.Kind() != KindExecute {
		t.Errorf("expected kind %q, got %q", KindExecute, tool.Kind())
	}

	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "echo hello from shell",
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if !strings.Contains(result.LLMContent, "hello from shell") {
		t.Errorf("expected command output, got: %s", result.LLMContent)
	}
	if !strings.Contains(result.LLMContent, "[exit code: 0") {
		t.Errorf("expected exit code marker, got: %s", result.LLMContent)
	}
	if result.ReturnDisplay != "echo hello from shell" {
		t.Errorf("expected display to echo the command, got %q", result.ReturnDisplay)
	}
}

func TestShellToolExitCode(t *testing.T) {
	dir := t.TempDir()
	tool := NewShellTool(NewLocalExecutionEnvironment(dir))

	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "exit 3",
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if !strings.Contains(result.LLMContent, "[exit code: 3") {
		t.Errorf("expected exit code 3 marker, got: %s", result.LLMContent)
	}
}

func TestShellToolLabelsStderr(t *testing.T) {
	dir := t.TempDir()
	tool := NewShellTool(NewLocalExecutionEnvironment(dir))

	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "echo out; echo err 1>&2",
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if !strings.Contains(result.LLMContent, "out") {
		t.Errorf("expected stdout in output, got: %s", result.LLMContent)
	}
	if !strings.Contains(result.LLMContent, "[stderr]\nerr") {
		t.Errorf("expected labeled stderr, got: %s", result.LLMContent)
	}
}

func TestShellToolTimeoutMessage(t *testing.T) {
	dir := t.TempDir()
	tool := NewShellTool(NewLocalExecutionEnvironment(dir))

	result, err := tool.Execute(context.Background(), map[string]any{
		"command":    "sleep 30",
		"timeout_ms": float64(300),
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if !strings.Contains(result.LLMContent, "Command timed out after 300ms") {
		t.Errorf("expected timeout message, got: %s", result.LLMContent)
	}
}

func TestShellToolConfirmation(t *testing.T) {
	dir := t.TempDir()
	tool := NewShellTool(NewLocalExecutionEnvironment(dir))

	confirm, err := tool.ShouldConfirm(context.Background(), map[string]any{
		"command":     "rm -rf build",
		"description": "Clean the build directory",
	})
	if err != nil {
		t.Fatalf("ShouldConfirm returned error: %v", err)
	}
	if confirm == nil {
		t.Fatal("expected a confirmation request, got nil")
	}
	if confirm.Kind != KindExecute {
		t.Errorf("expected kind %q, got %q", KindExecute, confirm.Kind)
	}
	if confirm.Title != "Run shell command" {
		t.Errorf("expected title %q, got %q", "Run shell command", confirm.Title)
	}
	if confirm.Command != "rm -rf build" {
		t.Errorf("expected command %q, got %q", "rm -rf build", confirm.Command)
	}
	if confirm.Description != "Clean the build directory" {
		t.Errorf("expected description %q, got %q", "Clean the build directory", confirm.Description)
	}
}

// --- grep tests ---

func TestGrepTool(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("func main() {\n}\nfunc helper() {\n}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewGrepTool(NewLocalExecutionEnvironment(dir))
	if tool.Name() != "grep" {
		t.Errorf("expected tool name 'grep', got %q", tool.Name())
	}

	result, err := tool.Execute(context.Background(), map[string]any{"pattern": "func"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if !strings.Contains(result.LLMContent, "func main()") {
		t.Errorf("expected grep results, got: %s", result.LLMContent)
	}
	if !strings.Contains(result.LLMContent, "func helper()") {
		t.Errorf("expected grep results, got: %s", result.LLMContent)
	}
}

func TestGrepToolNoMatches(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewGrepTool(NewLocalExecutionEnvironment(dir))

	result, err := tool.Execute(context.Background(), map[string]any{"pattern": "zebra"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if result.LLMContent != "No matches found." {
		t.Errorf("expected no-matches message, got: %q", result.LLMContent)
	}
}

func TestGrepToolNeverConfirms(t *testing.T) {
	tool := NewGrepTool(NewLocalExecutionEnvironment(t.TempDir()))

	confirm, err := tool.ShouldConfirm(context.Background(), map[string]any{"pattern": "x"})
	if err != nil {
		t.Fatalf("ShouldConfirm returned error: %v", err)
	}
	if confirm != nil {
		t.Error("read-only tools must not request confirmation")
	}
}

// --- glob tests ---

func TestGlobTool(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"main.go", "utils.go", "readme.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	tool := NewGlobTool(NewLocalExecutionEnvironment(dir))
	if tool.Name() != "glob" {
		t.Errorf("expected tool name 'glob', got %q", tool.Name())
	}

	result, err := tool.Execute(context.Background(), map[string]any{"pattern": "*.go"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if !strings.Contains(result.LLMContent, "main.go") {
		t.Errorf("expected main.go in results, got: %s", result.LLMContent)
	}
	if !strings.Contains(result.LLMContent, "utils.go") {
		t.Errorf("expected utils.go in results, got: %s", result.LLMContent)
	}
	if strings.Contains(result.LLMContent, "readme.md") {
		t.Errorf("readme.md should not match *.go, got: %s", result.LLMContent)
	}
	if result.ReturnDisplay != "Found 2 files" {
		t.Errorf("expected display %q, got %q", "Found 2 files", result.ReturnDisplay)
	}
}

func TestGlobToolNoMatches(t *testing.T) {
	dir := t.TempDir()
	tool := NewGlobTool(NewLocalExecutionEnvironment(dir))

	result, err := tool.Execute(context.Background(), map[string]any{"pattern": "*.rs"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if result.LLMContent != "No files matched the pattern." {
		t.Errorf("expected no-files message, got: %q", result.LLMContent)
	}
}

// --- save_memory tests ---

func TestSaveMemoryToolCreatesFile(t *testing.T) {
	dir := t.TempDir()
	memFile := filepath.Join(dir, "mem", "TERN.md")

	tool := NewSaveMemoryTool(memFile)
	if tool.Name() != "save_memory" {
		t.Errorf("expected tool name 'save_memory', got %q", tool.Name())
	}

	result, err := tool.Execute(context.Background(), map[string]any{
		"fact": "the user prefers tabs",
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	want := `Okay, I've remembered that: "the user prefers tabs"`
	if result.LLMContent != want {
		t.Errorf("expected %q, got %q", want, result.LLMContent)
	}
	if result.ReturnDisplay != "Saved to memory" {
		t.Errorf("expected display %q, got %q", "Saved to memory", result.ReturnDisplay)
	}

	data, err := os.ReadFile(memFile)
	if err != nil {
		t.Fatalf("memory file missing: %v", err)
	}
	wantFile := "## Tern Added Memories\n- the user prefers tabs\n"
	if string(data) != wantFile {
		t.Errorf("expected file content %q, got %q", wantFile, string(data))
	}
}

func TestSaveMemoryToolAppendsWithinSection(t *testing.T) {
	dir := t.TempDir()
	memFile := filepath.Join(dir, "TERN.md")
	existing := "## Tern Added Memories\n- old fact\n\n## Other Notes\nstuff\n"
	if err := os.WriteFile(memFile, []byte(existing), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewSaveMemoryTool(memFile)
	if _, err := tool.Execute(context.Background(), map[string]any{"fact": "new fact"}); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	data, _ := os.ReadFile(memFile)
	want := "## Tern Added Memories\n- old fact\n- new fact\n\n## Other Notes\nstuff\n"
	if string(data) != want {
		t.Errorf("expected %q, got %q", want, string(data))
	}
}

func TestSaveMemoryToolAddsSectionToExistingFile(t *testing.T) {
	dir := t.TempDir()
	memFile := filepath.Join(dir, "TERN.md")
	if err := os.WriteFile(memFile, []byte("# Project notes\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewSaveMemoryTool(memFile)
	if _, err := tool.Execute(context.Background(), map[string]any{"fact": "a fact"}); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	data, _ := os.ReadFile(memFile)
	want := "# Project notes\n\n## Tern Added Memories\n- a fact\n"
	if string(data) != want {
		t.Errorf("expected %q, got %q", want, string(data))
	}
}

func TestSaveMemoryToolEmptyFact(t *testing.T) {
	tool := NewSaveMemoryTool(filepath.Join(t.TempDir(), "TERN.md"))

	_, err := tool.Execute(context.Background(), map[string]any{"fact": "   "})
	if err == nil {
		t.Fatal("expected error for blank fact, got nil")
	}
	if !strings.Contains(err.Error(), "fact must not be empty") {
		t.Errorf("unexpected error message: %v", err)
	}
}

// --- RegisterCoreTools tests ---

func TestRegisterCoreTools(t *testing.T) {
	registry := NewToolRegistry()
	RegisterCoreTools(registry, NewLocalExecutionEnvironment(t.TempDir()), filepath.Join(t.TempDir(), "TERN.md"))

	wantNames := []string{"apply_patch", "glob", "grep", "read_file", "replace", "save_memory", "shell", "write_file"}
	gotNames := registry.Names()
	if len(gotNames) != len(wantNames) {
		t.Fatalf("expected %d core tools, got %d: %v", len(wantNames), len(gotNames), gotNames)
	}
	for i, want := range wantNames {
		if gotNames[i] != want {
			t.Errorf("Names()[%d] = %q, want %q", i, gotNames[i], want)
		}
	}

	for _, name := range wantNames {
		tool := registry.Get(name)
		if tool == nil {
			t.Errorf("expected core tool %q to be registered", name)
			continue
		}
		if tool.Description() == "" {
			t.Errorf("expected non-empty description for tool %q", name)
		}
		if !json.Valid(tool.Parameters()) {
			t.Errorf("tool %q declares invalid parameter schema", name)
		}
	}
}
