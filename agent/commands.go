// ABOUTME: Pre-processing seam for raw user input: slash commands, at-commands, shell escapes.
// ABOUTME: Processors run in order before a prompt goes out; the first one that handles the input wins.

package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/2389-research/tern/genai"
	"github.com/2389-research/tern/ignore"
)

// CommandAction tells the orchestrator what to do with processed input.
type CommandAction string

const (
	// ActionHandled means the processor consumed the input; nothing is sent.
	ActionHandled CommandAction = "handled"

	// ActionSubmitPrompt replaces the outbound message with Content.
	ActionSubmitPrompt CommandAction = "submit_prompt"

	// ActionScheduleTool routes a client-initiated tool call to the scheduler.
	ActionScheduleTool CommandAction = "schedule_tool"

	// ActionRunShell executes Command through the shell tool, client-initiated.
	ActionRunShell CommandAction = "run_shell"
)

// CommandResult is a processor's verdict on a piece of user input. Exactly
// the fields matching Action are set. Message optionally accompanies
// ActionHandled and is surfaced to the user as an info item.
type CommandResult struct {
	Action   CommandAction
	Content  []*genai.Part
	ToolName string
	ToolArgs map[string]any
	Command  string
	Message  string
}

// QueryProcessor inspects raw user input before it is sent to the model.
// Returning (nil, nil) means the processor does not handle this input and the
// next one is consulted.
type QueryProcessor interface {
	Process(ctx context.Context, raw string) (*CommandResult, error)
}

// atReferencePattern matches @path tokens: an @ at the start of a word
// followed by a run of non-whitespace characters.
var atReferencePattern = regexp.MustCompile(`(^|\s)@([^\s@]+)`)

// AtProcessor expands @path references by inlining the referenced file
// contents after the prompt text. Paths excluded by the ignore filter are
// skipped with a note. Input without @references is left for the next
// processor.
type AtProcessor struct {
	env     ExecutionEnvironment
	ignorer *ignore.Filter
}

// NewAtProcessor creates an AtProcessor. The ignore filter may be nil.
func NewAtProcessor(env ExecutionEnvironment, ignorer *ignore.Filter) *AtProcessor {
	return &AtProcessor{env: env, ignorer: ignorer}
}

var _ QueryProcessor = (*AtProcessor)(nil)

// Process inlines @path file contents. The outbound message keeps the raw
// query first so the model sees what the user actually typed, followed by one
// section per successfully read file.
func (p *AtProcessor) Process(ctx context.Context, raw string) (*CommandResult, error) {
	matches := atReferencePattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, nil
	}

	parts := []*genai.Part{genai.TextPart(raw)}
	sections := []*genai.Part{}
	for _, m := range matches {
		path := strings.TrimRight(m[2], ".,;:!?")
		if path == "" {
			continue
		}
		section := p.loadReference(path)
		if section != "" {
			sections = append(sections, genai.TextPart(section))
		}
	}

	if len(sections) == 0 {
		// Nothing readable behind the @s; send the query as typed.
		return nil, nil
	}

	parts = append(parts, genai.TextPart("\n--- Content from referenced files ---"))
	parts = append(parts, sections...)
	return &CommandResult{Action: ActionSubmitPrompt, Content: parts}, nil
}

// loadReference reads one @path target, returning a text section for the
// outbound message or "" when the reference contributes nothing.
func (p *AtProcessor) loadReference(path string) string {
	if p.ignorer != nil && p.ignorer.ShouldIgnore(path, ignore.DefaultFilterOptions()) {
		return fmt.Sprintf("\nSkipped @%s: path is ignored.", path)
	}

	exists, err := p.env.FileExists(path)
	if err != nil || !exists {
		return fmt.Sprintf("\nSkipped @%s: file not found.", path)
	}

	content, err := p.env.ReadFileRaw(path)
	if err != nil {
		return fmt.Sprintf("\nError reading @%s: %v", path, err)
	}
	return fmt.Sprintf("\nContent from @%s:\n%s", path, content)
}
