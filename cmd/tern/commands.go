// ABOUTME: Slash-command and shell-escape processors for the prompt line.
// ABOUTME: Built-ins are answered locally; MCP prompts expand into outbound prompts.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/2389-research/tern/agent"
	"github.com/2389-research/tern/genai"
	"github.com/2389-research/tern/mcp"
)

// handled wraps a message into an ActionHandled result. An empty message
// consumes the input silently.
func handled(message string) *agent.CommandResult {
	return &agent.CommandResult{Action: agent.ActionHandled, Message: message}
}

// SlashProcessor answers /commands locally: help, tool and MCP listings, the
// memory commands, and checkpoint restore. Any other /name is looked up among
// discovered MCP prompts and, when found, expanded into the outbound prompt.
type SlashProcessor struct {
	registry    *agent.ToolRegistry
	manager     *mcp.Manager        // nil when no MCP servers are configured
	checkpoints *agent.Checkpointer // nil when checkpointing is disabled
	session     *agent.Session
	memoryFile  string
}

// NewSlashProcessor creates a SlashProcessor. The manager and checkpoints may
// be nil.
func NewSlashProcessor(registry *agent.ToolRegistry, manager *mcp.Manager, memoryFile string, checkpoints *agent.Checkpointer, session *agent.Session) *SlashProcessor {
	return &SlashProcessor{
		registry:    registry,
		manager:     manager,
		checkpoints: checkpoints,
		session:     session,
		memoryFile:  memoryFile,
	}
}

var _ agent.QueryProcessor = (*SlashProcessor)(nil)

// Process handles input starting with "/". Anything else is left for the
// next processor.
func (p *SlashProcessor) Process(ctx context.Context, raw string) (*agent.CommandResult, error) {
	if !strings.HasPrefix(raw, "/") {
		return nil, nil
	}
	fields := strings.Fields(raw)
	name := strings.TrimPrefix(fields[0], "/")

	switch name {
	case "help", "?":
		return handled(p.helpText()), nil
	case "quit", "exit":
		// The TUI exits on these before they reach the orchestrator; consume
		// a stray one so it never goes to the model.
		return handled(""), nil
	case "tools":
		return handled(toolListing(p.registry.Names())), nil
	case "mcp":
		return handled(p.mcpStatus()), nil
	case "memory":
		return p.memoryCommand(fields[1:])
	case "restore":
		return p.restoreCommand(fields[1:])
	}

	if p.manager != nil {
		if prompt := p.manager.Prompts().Get(name); prompt != nil {
			return p.expandPrompt(ctx, prompt, fields[1:])
		}
	}
	return handled(fmt.Sprintf("Unknown command: /%s. Try /help.", name)), nil
}

func (p *SlashProcessor) helpText() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	b.WriteString("  /help               Show this help\n")
	b.WriteString("  /tools              List available tools\n")
	b.WriteString("  /mcp                Show MCP server status\n")
	b.WriteString("  /memory show        Print saved memory\n")
	b.WriteString("  /memory add <fact>  Save a fact to memory\n")
	if p.checkpoints != nil {
		b.WriteString("  /restore [name]     List checkpoints or reload one\n")
	}
	b.WriteString("  /quit               Exit\n")
	b.WriteString("  !<command>          Run a shell command\n")
	b.WriteString("  @<path>             Include a file in your prompt")
	if p.manager != nil {
		if names := p.manager.Prompts().Names(); len(names) > 0 {
			b.WriteString("\n\nServer prompts:")
			for _, name := range names {
				fmt.Fprintf(&b, "\n  /%s", name)
			}
		}
	}
	return b.String()
}

func toolListing(names []string) string {
	if len(names) == 0 {
		return "No tools registered."
	}
	return "Available tools:\n  " + strings.Join(names, "\n  ")
}

func (p *SlashProcessor) mcpStatus() string {
	if p.manager == nil {
		return "No MCP servers configured."
	}
	servers := p.manager.Servers()
	if len(servers) == 0 {
		return "No MCP servers configured."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "MCP servers (discovery %s):", p.manager.State())
	for _, name := range servers {
		fmt.Fprintf(&b, "\n  %s: %s", name, p.manager.Status(name))
		if p.manager.RequiresOAuth(name) {
			b.WriteString(" (authorization required)")
		}
		if tools := p.manager.ServerTools(name); len(tools) > 0 {
			fmt.Fprintf(&b, "\n    tools: %s", strings.Join(tools, ", "))
		}
	}
	return b.String()
}

const memoryUsage = "Usage: /memory show | /memory add <fact>"

// memoryCommand implements /memory. "show" prints the memory file; "add"
// routes through the save_memory tool so the write shows up in the
// transcript like any other tool call.
func (p *SlashProcessor) memoryCommand(args []string) (*agent.CommandResult, error) {
	if len(args) == 0 {
		return handled(memoryUsage), nil
	}
	switch args[0] {
	case "show":
		data, err := os.ReadFile(p.memoryFile)
		if err != nil || strings.TrimSpace(string(data)) == "" {
			return handled("Memory is empty."), nil
		}
		return handled(strings.TrimSpace(string(data))), nil
	case "add":
		fact := strings.TrimSpace(strings.Join(args[1:], " "))
		if fact == "" {
			return handled(memoryUsage), nil
		}
		return &agent.CommandResult{
			Action:   agent.ActionScheduleTool,
			ToolName: "save_memory",
			ToolArgs: map[string]any{"fact": fact},
		}, nil
	}
	return handled(memoryUsage), nil
}

// restoreCommand implements /restore. Bare, it lists saved checkpoints; with
// a name, it reloads that checkpoint's conversation into the session. File
// contents are not rewound, only the chat.
func (p *SlashProcessor) restoreCommand(args []string) (*agent.CommandResult, error) {
	if p.checkpoints == nil {
		return handled("Checkpointing is disabled. Enable checkpointing in settings.yaml to use /restore."), nil
	}
	if len(args) == 0 {
		names, err := p.checkpoints.List()
		if err != nil {
			return nil, fmt.Errorf("list checkpoints: %w", err)
		}
		if len(names) == 0 {
			return handled("No checkpoints saved."), nil
		}
		return handled("Checkpoints:\n  " + strings.Join(names, "\n  ") +
			"\n\nUse /restore <name> to reload one."), nil
	}

	bundle, err := p.checkpoints.Load(args[0])
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	p.session.SetHistory(bundle.History)
	return handled(fmt.Sprintf("Restored conversation from %s (%d messages).",
		args[0], len(bundle.History))), nil
}

// expandPrompt maps positional words onto the prompt's declared arguments
// and submits the expanded text as the outbound prompt.
func (p *SlashProcessor) expandPrompt(ctx context.Context, prompt *mcp.DiscoveredPrompt, args []string) (*agent.CommandResult, error) {
	text, err := prompt.Get(ctx, promptArgValues(prompt, args))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return handled(fmt.Sprintf("Prompt /%s produced no text.", prompt.Name)), nil
	}
	return &agent.CommandResult{
		Action:  agent.ActionSubmitPrompt,
		Content: []*genai.Part{genai.TextPart(text)},
	}, nil
}

// promptArgValues assigns positional args to declared arguments in order.
// Surplus words join onto the last declared argument so free-text tails
// survive the word split.
func promptArgValues(prompt *mcp.DiscoveredPrompt, args []string) map[string]string {
	if len(prompt.Arguments) == 0 || len(args) == 0 {
		return nil
	}
	values := make(map[string]string)
	for i, decl := range prompt.Arguments {
		if i >= len(args) {
			break
		}
		if i == len(prompt.Arguments)-1 {
			values[decl.Name] = strings.Join(args[i:], " ")
		} else {
			values[decl.Name] = args[i]
		}
	}
	return values
}

// ShellProcessor turns "!command" input into a client-initiated shell call
// whose output lands in the transcript without a model round trip.
type ShellProcessor struct{}

var _ agent.QueryProcessor = (ShellProcessor{})

// Process handles input starting with "!". Anything else is left for the
// next processor.
func (ShellProcessor) Process(_ context.Context, raw string) (*agent.CommandResult, error) {
	if !strings.HasPrefix(raw, "!") {
		return nil, nil
	}
	command := strings.TrimSpace(strings.TrimPrefix(raw, "!"))
	if command == "" {
		return handled("Usage: !<command> runs a shell command in the project directory."), nil
	}
	return &agent.CommandResult{Action: agent.ActionRunShell, Command: command}, nil
}
