// ABOUTME: Built-in tools for the agent loop: read_file, write_file, replace, shell, grep, glob, save_memory.
// ABOUTME: Each tool delegates to the ExecutionEnvironment and declares its own JSON schema and confirmation policy.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// getStringArg extracts a string argument from a map, returning an error if missing or wrong type.
func getStringArg(args map[string]any, key string, required bool) (string, error) {
	val, ok := args[key]
	if !ok || val == nil {
		if required {
			return "", fmt.Errorf("missing required parameter: %s", key)
		}
		return "", nil
	}
	s, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, val)
	}
	return s, nil
}

// getIntArg extracts an integer argument from a map, handling JSON float64 encoding.
func getIntArg(args map[string]any, key string, defaultVal int) (int, error) {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal, nil
	}
	switch v := val.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("parameter %s must be an integer: %w", key, err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("parameter %s must be a number, got %T", key, val)
	}
}

// getBoolArg extracts a boolean argument from a map.
func getBoolArg(args map[string]any, key string, defaultVal bool) (bool, error) {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal, nil
	}
	b, ok := val.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %s must be a boolean, got %T", key, val)
	}
	return b, nil
}

// noConfirm is embedded by tools that never require user approval.
type noConfirm struct{}

func (noConfirm) ShouldConfirm(ctx context.Context, args map[string]any) (*ConfirmationRequest, error) {
	return nil, nil
}

// ReadFileTool reads files with line-numbered output.
type ReadFileTool struct {
	noConfirm
	env ExecutionEnvironment
}

// NewReadFileTool creates the read_file tool.
func NewReadFileTool(env ExecutionEnvironment) *ReadFileTool {
	return &ReadFileTool{env: env}
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Kind() ToolKind {
	return KindRead
}

func (t *ReadFileTool) Description() string {
	return "Read a file from the filesystem. Returns line-numbered content."
}

func (t *ReadFileTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "Path to the file to read"
			},
			"offset": {
				"type": "integer",
				"description": "1-based line number to start reading from (default: beginning)"
			},
			"limit": {
				"type": "integer",
				"description": "Maximum number of lines to read (default: 2000)"
			}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (*ToolResult, error) {
	path, err := getStringArg(args, "path", true)
	if err != nil {
		return nil, err
	}
	offset, err := getIntArg(args, "offset", 0)
	if err != nil {
		return nil, err
	}
	limit, err := getIntArg(args, "limit", 0)
	if err != nil {
		return nil, err
	}

	content, err := t.env.ReadFile(path, offset, limit)
	if err != nil {
		return nil, err
	}

	return &ToolResult{
		LLMContent:    content,
		ReturnDisplay: fmt.Sprintf("Read %s", path),
	}, nil
}

// WriteFileTool writes whole files, with user confirmation.
type WriteFileTool struct {
	env ExecutionEnvironment
}

// NewWriteFileTool creates the write_file tool.
func NewWriteFileTool(env ExecutionEnvironment) *WriteFileTool {
	return &WriteFileTool{env: env}
}

func (t *WriteFileTool) Name() string   { return "write_file" }
func (t *WriteFileTool) Kind() ToolKind { return KindEdit }

func (t *WriteFileTool) Description() string {
	return "Write content to a file. Creates the file and parent directories if needed."
}

func (t *WriteFileTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "Path to the file to write"
			},
			"content": {
				"type": "string",
				"description": "The full file content to write"
			}
		},
		"required": ["path", "content"]
	}`)
}

func (t *WriteFileTool) ShouldConfirm(ctx context.Context, args map[string]any) (*ConfirmationRequest, error) {
	path, err := getStringArg(args, "path", true)
	if err != nil {
		return nil, nil
	}
	content, _ := getStringArg(args, "content", false)
	return &ConfirmationRequest{
		Kind:       KindEdit,
		Title:      fmt.Sprintf("Apply change: %s", filepath.Base(path)),
		FilePath:   path,
		NewContent: content,
	}, nil
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (*ToolResult, error) {
	path, err := getStringArg(args, "path", true)
	if err != nil {
		return nil, err
	}
	content, err := getStringArg(args, "content", true)
	if err != nil {
		return nil, err
	}

	if err := t.env.WriteFile(path, content); err != nil {
		return nil, err
	}

	return &ToolResult{
		LLMContent:    fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path),
		ReturnDisplay: fmt.Sprintf("Wrote %s", filepath.Base(path)),
	}, nil
}

// ReplaceTool performs exact string replacement within a file, with user
// confirmation.
type ReplaceTool struct {
	env ExecutionEnvironment
}

// NewReplaceTool creates the replace tool.
func NewReplaceTool(env ExecutionEnvironment) *ReplaceTool {
	return &ReplaceTool{env: env}
}

func (t *ReplaceTool) Name() string   { return "replace" }
func (t *ReplaceTool) Kind() ToolKind { return KindEdit }

func (t *ReplaceTool) Description() string {
	return "Replace an exact string occurrence in a file."
}

func (t *ReplaceTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "Path to the file to edit"
			},
			"old_string": {
				"type": "string",
				"description": "Exact text to find in the file"
			},
			"new_string": {
				"type": "string",
				"description": "Replacement text"
			},
			"replace_all": {
				"type": "boolean",
				"description": "Replace all occurrences (default: false)"
			}
		},
		"required": ["path", "old_string", "new_string"]
	}`)
}

// apply computes the edited file content without writing it.
func (t *ReplaceTool) apply(args map[string]any) (path, newContent string, replacements int, err error) {
	path, err = getStringArg(args, "path", true)
	if err != nil {
		return "", "", 0, err
	}
	oldString, err := getStringArg(args, "old_string", true)
	if err != nil {
		return "", "", 0, err
	}
	newString, err := getStringArg(args, "new_string", true)
	if err != nil {
		return "", "", 0, err
	}
	replaceAll, err := getBoolArg(args, "replace_all", false)
	if err != nil {
		return "", "", 0, err
	}

	content, err := t.env.ReadFileRaw(path)
	if err != nil {
		return "", "", 0, err
	}

	count := strings.Count(content, oldString)
	if count == 0 {
		return "", "", 0, fmt.Errorf("old_string not found in %s", path)
	}
	if !replaceAll && count > 1 {
		return "", "", 0, fmt.Errorf("old_string is not unique in %s (found %d occurrences). "+
			"Provide more context to make it unique, or set replace_all=true", path, count)
	}

	if replaceAll {
		return path, strings.ReplaceAll(content, oldString, newString), count, nil
	}
	return path, strings.Replace(content, oldString, newString, 1), 1, nil
}

func (t *ReplaceTool) ShouldConfirm(ctx context.Context, args map[string]any) (*ConfirmationRequest, error) {
	path, newContent, _, err := t.apply(args)
	if err != nil {
		// Let Execute surface the real failure.
		return nil, nil
	}
	return &ConfirmationRequest{
		Kind:       KindEdit,
		Title:      fmt.Sprintf("Apply change: %s", filepath.Base(path)),
		FilePath:   path,
		NewContent: newContent,
	}, nil
}

func (t *ReplaceTool) Execute(ctx context.Context, args map[string]any) (*ToolResult, error) {
	path, newContent, replacements, err := t.apply(args)
	if err != nil {
		return nil, err
	}

	if err := t.env.WriteFile(path, newContent); err != nil {
		return nil, err
	}

	return &ToolResult{
		LLMContent:    fmt.Sprintf("Made %d replacement(s) in %s", replacements, path),
		ReturnDisplay: fmt.Sprintf("Edited %s", filepath.Base(path)),
	}, nil
}

// ApplyPatchTool applies multi-file v4a patches, with user confirmation.
type ApplyPatchTool struct {
	env ExecutionEnvironment
}

// NewApplyPatchTool creates the apply_patch tool.
func NewApplyPatchTool(env ExecutionEnvironment) *ApplyPatchTool {
	return &ApplyPatchTool{env: env}
}

func (t *ApplyPatchTool) Name() string   { return "apply_patch" }
func (t *ApplyPatchTool) Kind() ToolKind { return KindEdit }

func (t *ApplyPatchTool) Description() string {
	return "Apply code changes using the v4a patch format. Supports creating, deleting, updating, and moving files in a single operation."
}

func (t *ApplyPatchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"patch": {
				"type": "string",
				"description": "The full patch text, starting with *** Begin Patch and ending with *** End Patch"
			}
		},
		"required": ["patch"]
	}`)
}

func (t *ApplyPatchTool) ShouldConfirm(ctx context.Context, args map[string]any) (*ConfirmationRequest, error) {
	raw, err := getStringArg(args, "patch", true)
	if err != nil {
		// Let Execute surface the real failure.
		return nil, nil
	}
	patch, err := ParsePatch(raw)
	if err != nil {
		return nil, nil
	}

	ops := make([]string, 0, len(patch.Ops))
	for _, op := range patch.Ops {
		if op.Action == PatchMove {
			ops = append(ops, fmt.Sprintf("%s: %s -> %s", op.Action, op.Path, op.NewPath))
			continue
		}
		ops = append(ops, fmt.Sprintf("%s: %s", op.Action, op.Path))
	}
	return &ConfirmationRequest{
		Kind:        KindEdit,
		Title:       fmt.Sprintf("Apply patch (%d operations)", len(patch.Ops)),
		Description: strings.Join(ops, "\n"),
	}, nil
}

func (t *ApplyPatchTool) Execute(ctx context.Context, args map[string]any) (*ToolResult, error) {
	raw, err := getStringArg(args, "patch", true)
	if err != nil {
		return nil, err
	}
	patch, err := ParsePatch(raw)
	if err != nil {
		return nil, err
	}
	result, err := ApplyPatch(patch, t.env)
	if err != nil {
		return nil, err
	}

	return &ToolResult{
		LLMContent:    result.Summary(),
		ReturnDisplay: result.Summary(),
	}, nil
}

// ShellTool executes shell commands, with user confirmation.
type ShellTool struct {
	env ExecutionEnvironment
}

// NewShellTool creates the shell tool.
func NewShellTool(env ExecutionEnvironment) *ShellTool {
	return &ShellTool{env: env}
}

func (t *ShellTool) Name() string   { return "shell" }
func (t *ShellTool) Kind() ToolKind { return KindExecute }

func (t *ShellTool) Description() string {
	return "Execute a shell command. Returns stdout, stderr, and exit code."
}

func (t *ShellTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "The shell command to run"
			},
			"timeout_ms": {
				"type": "integer",
				"description": "Command timeout in milliseconds (default: 10000)"
			},
			"description": {
				"type": "string",
				"description": "Human-readable description of what this command does"
			}
		},
		"required": ["command"]
	}`)
}

func (t *ShellTool) ShouldConfirm(ctx context.Context, args map[string]any) (*ConfirmationRequest, error) {
	command, err := getStringArg(args, "command", true)
	if err != nil {
		return nil, nil
	}
	description, _ := getStringArg(args, "description", false)
	return &ConfirmationRequest{
		Kind:        KindExecute,
		Title:       "Run shell command",
		Command:     command,
		Description: description,
	}, nil
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) (*ToolResult, error) {
	command, err := getStringArg(args, "command", true)
	if err != nil {
		return nil, err
	}
	timeoutMs, err := getIntArg(args, "timeout_ms", 10000)
	if err != nil {
		return nil, err
	}

	result, err := t.env.ExecCommand(ctx, command, timeoutMs, "", nil)
	if err != nil {
		return nil, err
	}

	var output strings.Builder
	if result.Stdout != "" {
		output.WriteString(result.Stdout)
	}
	if result.Stderr != "" {
		if output.Len() > 0 {
			output.WriteByte('\n')
		}
		output.WriteString("[stderr]\n")
		output.WriteString(result.Stderr)
	}

	output.WriteString(fmt.Sprintf("\n[exit code: %d, duration: %dms]", result.ExitCode, result.DurationMs))

	if result.TimedOut {
		output.WriteString(fmt.Sprintf("\n[ERROR: Command timed out after %dms. Partial output is shown above. "+
			"You can retry with a longer timeout by setting the timeout_ms parameter.]", timeoutMs))
	}

	return &ToolResult{
		LLMContent:    output.String(),
		ReturnDisplay: command,
	}, nil
}

// GrepTool searches file contents by regex.
type GrepTool struct {
	noConfirm
	env ExecutionEnvironment
}

// NewGrepTool creates the grep tool.
func NewGrepTool(env ExecutionEnvironment) *GrepTool {
	return &GrepTool{env: env}
}

func (t *GrepTool) Name() string   { return "grep" }
func (t *GrepTool) Kind() ToolKind { return KindSearch }

func (t *GrepTool) Description() string {
	return "Search file contents using regex patterns."
}

func (t *GrepTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "Regex pattern to search for"
			},
			"path": {
				"type": "string",
				"description": "Directory or file to search (default: working directory)"
			},
			"glob_filter": {
				"type": "string",
				"description": "File pattern filter (e.g., '*.go')"
			},
			"case_insensitive": {
				"type": "boolean",
				"description": "Case insensitive search (default: false)"
			},
			"max_results": {
				"type": "integer",
				"description": "Maximum number of results (default: 100)"
			}
		},
		"required": ["pattern"]
	}`)
}

func (t *GrepTool) Execute(ctx context.Context, args map[string]any) (*ToolResult, error) {
	pattern, err := getStringArg(args, "pattern", true)
	if err != nil {
		return nil, err
	}
	path, err := getStringArg(args, "path", false)
	if err != nil {
		return nil, err
	}
	globFilter, err := getStringArg(args, "glob_filter", false)
	if err != nil {
		return nil, err
	}
	caseInsensitive, err := getBoolArg(args, "case_insensitive", false)
	if err != nil {
		return nil, err
	}
	maxResults, err := getIntArg(args, "max_results", 100)
	if err != nil {
		return nil, err
	}

	opts := GrepOptions{
		GlobFilter:      globFilter,
		CaseInsensitive: caseInsensitive,
		MaxResults:      maxResults,
	}

	result, err := t.env.Grep(ctx, pattern, path, opts)
	if err != nil {
		return nil, err
	}
	if result == "" {
		result = "No matches found."
	}

	return &ToolResult{LLMContent: result}, nil
}

// GlobTool finds files by glob pattern.
type GlobTool struct {
	noConfirm
	env ExecutionEnvironment
}

// NewGlobTool creates the glob tool.
func NewGlobTool(env ExecutionEnvironment) *GlobTool {
	return &GlobTool{env: env}
}

func (t *GlobTool) Name() string   { return "glob" }
func (t *GlobTool) Kind() ToolKind { return KindSearch }

func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern."
}

func (t *GlobTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "Glob pattern (e.g., '**/*.go')"
			},
			"path": {
				"type": "string",
				"description": "Base directory (default: working directory)"
			}
		},
		"required": ["pattern"]
	}`)
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]any) (*ToolResult, error) {
	pattern, err := getStringArg(args, "pattern", true)
	if err != nil {
		return nil, err
	}
	path, err := getStringArg(args, "path", false)
	if err != nil {
		return nil, err
	}

	matches, err := t.env.Glob(ctx, pattern, path)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return &ToolResult{LLMContent: "No files matched the pattern."}, nil
	}

	return &ToolResult{
		LLMContent:    strings.Join(matches, "\n"),
		ReturnDisplay: fmt.Sprintf("Found %d files", len(matches)),
	}, nil
}

// memorySectionHeader marks the block save_memory appends to.
const memorySectionHeader = "## Tern Added Memories"

// SaveMemoryTool appends user facts to the long-term memory file.
type SaveMemoryTool struct {
	noConfirm
	memoryFile string
}

// NewSaveMemoryTool creates the save_memory tool writing to memoryFile.
func NewSaveMemoryTool(memoryFile string) *SaveMemoryTool {
	return &SaveMemoryTool{memoryFile: memoryFile}
}

func (t *SaveMemoryTool) Name() string   { return "save_memory" }
func (t *SaveMemoryTool) Kind() ToolKind { return KindMemory }

func (t *SaveMemoryTool) Description() string {
	return "Save a fact about the user or project to long-term memory."
}

func (t *SaveMemoryTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"fact": {
				"type": "string",
				"description": "The fact to remember, stated plainly"
			}
		},
		"required": ["fact"]
	}`)
}

func (t *SaveMemoryTool) Execute(ctx context.Context, args map[string]any) (*ToolResult, error) {
	fact, err := getStringArg(args, "fact", true)
	if err != nil {
		return nil, err
	}
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return nil, fmt.Errorf("fact must not be empty")
	}

	if err := appendMemory(t.memoryFile, fact); err != nil {
		return nil, err
	}

	return &ToolResult{
		LLMContent:    fmt.Sprintf("Okay, I've remembered that: %q", fact),
		ReturnDisplay: "Saved to memory",
	}, nil
}

// appendMemory inserts fact as a bullet under the memory section header,
// creating the file or the section when absent.
func appendMemory(path, fact string) error {
	entry := "- " + fact

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0755); mkErr != nil {
			return fmt.Errorf("create memory dir: %w", mkErr)
		}
		content := memorySectionHeader + "\n" + entry + "\n"
		return os.WriteFile(path, []byte(content), 0644)
	}
	if err != nil {
		return fmt.Errorf("read memory file: %w", err)
	}

	content := string(data)
	idx := strings.Index(content, memorySectionHeader)
	if idx < 0 {
		if !strings.HasSuffix(content, "\n") && content != "" {
			content += "\n"
		}
		content += "\n" + memorySectionHeader + "\n" + entry + "\n"
		return os.WriteFile(path, []byte(content), 0644)
	}

	// Insert at the end of the section: before the next header or at EOF.
	sectionStart := idx + len(memorySectionHeader)
	rest := content[sectionStart:]
	insertAt := len(content)
	if next := strings.Index(rest, "\n## "); next >= 0 {
		insertAt = sectionStart + next
	}

	head := strings.TrimRight(content[:insertAt], "\n")
	tail := content[insertAt:]
	updated := head + "\n" + entry + "\n" + tail
	return os.WriteFile(path, []byte(updated), 0644)
}

// RegisterCoreTools registers the built-in tools with the given registry.
// memoryFile is where save_memory appends facts.
func RegisterCoreTools(registry *ToolRegistry, env ExecutionEnvironment, memoryFile string) {
	registry.Register(NewReadFileTool(env))
	registry.Register(NewWriteFileTool(env))
	registry.Register(NewReplaceTool(env))
	registry.Register(NewApplyPatchTool(env))
	registry.Register(NewShellTool(env))
	registry.Register(NewGrepTool(env))
	registry.Register(NewGlobTool(env))
	registry.Register(NewSaveMemoryTool(memoryFile))
}

// Compile-time interface checks
var (
	_ Tool = (*ReadFileTool)(nil)
	_ Tool = (*WriteFileTool)(nil)
	_ Tool = (*ReplaceTool)(nil)
	_ Tool = (*ApplyPatchTool)(nil)
	_ Tool = (*ShellTool)(nil)
	_ Tool = (*GrepTool)(nil)
	_ Tool = (*GlobTool)(nil)
	_ Tool = (*SaveMemoryTool)(nil)
)
