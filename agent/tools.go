// ABOUTME: Tool contract and registry shared by built-in and MCP-discovered tools.
// ABOUTME: Provides the Tool interface, ToolResult, confirmation types, ToolRegistry, and output truncation.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/2389-research/tern/genai"
)

// ToolKind groups tools for approval memoization: a proceed-always decision
// covers every later call of the same kind in the session.
type ToolKind string

const (
	KindRead    ToolKind = "read"
	KindEdit    ToolKind = "edit"
	KindExecute ToolKind = "execute"
	KindSearch  ToolKind = "search"
	KindMemory  ToolKind = "memory"
	KindMCP     ToolKind = "mcp"
)

// ToolErrorType classifies tool failures for the scheduler and for the
// non-interactive exit-code policy.
type ToolErrorType string

const (
	ToolErrorInvalidArgs     ToolErrorType = "INVALID_ARGS"
	ToolErrorNotFound        ToolErrorType = "TOOL_NOT_FOUND"
	ToolErrorExecutionFailed ToolErrorType = "EXECUTION_FAILED"
	ToolErrorCancelled       ToolErrorType = "CANCELLED"
)

// Tool is one executable capability exposed to the model.
type Tool interface {
	// Name is the function name declared to the model.
	Name() string

	// Description explains the tool to the model.
	Description() string

	// Parameters is the JSON Schema object describing the tool's arguments.
	Parameters() json.RawMessage

	// Kind groups the tool for session-wide approval memoization.
	Kind() ToolKind

	// ShouldConfirm reports whether this call needs user approval before it
	// may execute. A nil request means the call can run immediately.
	ShouldConfirm(ctx context.Context, args map[string]any) (*ConfirmationRequest, error)

	// Execute runs the tool. Implementations honor ctx cancellation.
	Execute(ctx context.Context, args map[string]any) (*ToolResult, error)
}

// ToolResult is what a tool execution returns: content destined for the
// model and a display form for the UI. An empty ReturnDisplay falls back to
// LLMContent.
type ToolResult struct {
	LLMContent    string
	ReturnDisplay string
}

// Display returns the UI-facing form of the result.
func (r *ToolResult) Display() string {
	if r == nil {
		return ""
	}
	if r.ReturnDisplay != "" {
		return r.ReturnDisplay
	}
	return r.LLMContent
}

// ConfirmationRequest describes a pending approval surfaced to the user.
// Kind doubles as the memoization key for proceed-always decisions.
type ConfirmationRequest struct {
	Kind        ToolKind `json:"kind"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`

	// Command is set for shell-style confirmations.
	Command string `json:"command,omitempty"`

	// FilePath and NewContent are set for file-mutation confirmations.
	FilePath   string `json:"filePath,omitempty"`
	NewContent string `json:"newContent,omitempty"`

	// ServerName and ToolName are set for MCP tool confirmations.
	ServerName string `json:"serverName,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
}

// ConfirmationOutcome is the user's answer to a confirmation request.
type ConfirmationOutcome string

const (
	OutcomeProceedOnce      ConfirmationOutcome = "proceed_once"
	OutcomeProceedAlways    ConfirmationOutcome = "proceed_always"
	OutcomeModifyAndProceed ConfirmationOutcome = "modify_and_proceed"
	OutcomeCancel           ConfirmationOutcome = "cancel"
)

// ConfirmationDecision pairs an outcome with the edited arguments a
// modify-and-proceed answer supplies.
type ConfirmationDecision struct {
	Outcome      ConfirmationOutcome
	ModifiedArgs map[string]any
}

// ToolRegistry is a thread-safe name-to-tool mapping. It is write-heavy
// during MCP discovery and effectively read-only afterward.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds or replaces a tool. Returns an error if the tool reports an
// empty name.
func (r *ToolRegistry) Register(tool Tool) error {
	if tool.Name() == "" {
		return fmt.Errorf("tool name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	return nil
}

// Unregister removes a tool by name. Returns true if the tool existed.
func (r *ToolRegistry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; ok {
		delete(r.tools, name)
		return true
	}
	return false
}

// Get returns the tool with the given name, or nil if not registered.
func (r *ToolRegistry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has returns true if a tool with the given name is registered.
func (r *ToolRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered tool names, sorted.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Declarations returns function declarations for every registered tool in
// name order, ready to attach to a generation request.
func (r *ToolRegistry) Declarations() []*genai.FunctionDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	decls := make([]*genai.FunctionDeclaration, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	return decls
}

// defaultToolLimits maps tool names to their default character limits.
var defaultToolLimits = map[string]int{
	"read_file":  50000,
	"shell":      30000,
	"grep":       20000,
	"glob":       20000,
	"replace":    10000,
	"write_file": 1000,
}

// defaultToolModes maps tool names to their truncation mode ("head_tail" or "tail").
var defaultToolModes = map[string]string{
	"read_file":  "head_tail",
	"shell":      "head_tail",
	"grep":       "tail",
	"glob":       "tail",
	"replace":    "tail",
	"write_file": "tail",
}

// defaultCharLimit is used for tools not listed in defaultToolLimits.
const defaultCharLimit = 30000

// DefaultLineLimits maps tool names to their default line-count limits.
// A value of 0 means unlimited (no line-based truncation).
var DefaultLineLimits = map[string]int{
	"shell": 256,
	"grep":  200,
	"glob":  500,
}

// TruncateLines truncates output that exceeds maxLines using a head/tail split.
// If maxLines is 0 or the output has fewer lines than maxLines, the output is
// returned unchanged. Otherwise the first half and last half of lines are kept
// with an omission marker in between.
func TruncateLines(output string, maxLines int) string {
	if maxLines <= 0 {
		return output
	}

	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateOutput truncates output that exceeds maxChars using the given mode.
// Supported modes: "head_tail" (keep first half + last half) and "tail" (keep last N chars).
// A truncation warning is inserted at the truncation point.
func TruncateOutput(output string, maxChars int, mode string) string {
	if len(output) <= maxChars {
		return output
	}

	removed := len(output) - maxChars

	if mode == "head_tail" {
		half := maxChars / 2
		return output[:half] +
			fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
				"If you need to see specific parts, re-run the tool with more targeted parameters.]\n\n", removed) +
			output[len(output)-half:]
	}

	// Default to "tail" mode
	return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed.]\n\n", removed) +
		output[len(output)-maxChars:]
}

// TruncateToolOutput truncates tool output using per-tool defaults, optionally
// overridden by the limits map. Tools not found in defaults or overrides use
// defaultCharLimit with "tail" mode. Character truncation runs first, then
// line-based truncation is applied for tools that have a configured line limit.
func TruncateToolOutput(output, toolName string, limits map[string]int) string {
	maxChars := defaultCharLimit
	if defaultLimit, ok := defaultToolLimits[toolName]; ok {
		maxChars = defaultLimit
	}
	if limits != nil {
		if override, ok := limits[toolName]; ok {
			maxChars = override
		}
	}

	mode := "tail"
	if m, ok := defaultToolModes[toolName]; ok {
		mode = m
	}

	result := TruncateOutput(output, maxChars, mode)

	if maxLines, ok := DefaultLineLimits[toolName]; ok && maxLines > 0 {
		result = TruncateLines(result, maxLines)
	}

	return result
}
