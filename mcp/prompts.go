// ABOUTME: Discovered prompt templates and the registry that surfaces them as slash commands.
// ABOUTME: Prompt expansion calls prompts/get on the owning server and joins the message texts.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// promptSession is the slice of a server session prompt expansion needs.
// *mcpsdk.ClientSession satisfies it.
type promptSession interface {
	GetPrompt(ctx context.Context, params *mcpsdk.GetPromptParams) (*mcpsdk.GetPromptResult, error)
}

// PromptArgument describes one parameter of a discovered prompt.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// DiscoveredPrompt is a prompt template exposed by an MCP server. The UI
// surfaces these as slash commands; Get expands one into message text ready
// to submit.
type DiscoveredPrompt struct {
	Server      string
	Name        string
	Description string
	Arguments   []PromptArgument

	session promptSession
}

// Get expands the prompt with the given arguments and returns the text of
// the resulting messages, joined with newlines.
func (p *DiscoveredPrompt) Get(ctx context.Context, args map[string]string) (string, error) {
	res, err := p.session.GetPrompt(ctx, &mcpsdk.GetPromptParams{Name: p.Name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("expanding prompt %s on %s: %w", p.Name, p.Server, err)
	}
	var parts []string
	for _, msg := range res.Messages {
		if msg == nil {
			continue
		}
		if tc, ok := msg.Content.(*mcpsdk.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// promptArguments copies the wire shape of a prompt's argument list into the
// local type via JSON, so the SDK's field layout stays out of this package.
func promptArguments(raw any) []PromptArgument {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var args []PromptArgument
	if err := json.Unmarshal(data, &args); err != nil {
		return nil
	}
	return args
}

// PromptRegistry is a thread-safe name-to-prompt mapping filled during
// discovery. Names may carry a server prefix when two servers declare the
// same prompt.
type PromptRegistry struct {
	mu      sync.RWMutex
	prompts map[string]*DiscoveredPrompt
}

// NewPromptRegistry creates an empty PromptRegistry.
func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{
		prompts: make(map[string]*DiscoveredPrompt),
	}
}

// Register adds or replaces a prompt under the given name.
func (r *PromptRegistry) Register(name string, p *DiscoveredPrompt) error {
	if name == "" {
		return fmt.Errorf("prompt name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts[name] = p
	return nil
}

// Unregister removes a prompt by name. Returns true if the prompt existed.
func (r *PromptRegistry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.prompts[name]; ok {
		delete(r.prompts, name)
		return true
	}
	return false
}

// Get returns the prompt registered under name, or nil.
func (r *PromptRegistry) Get(name string) *DiscoveredPrompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prompts[name]
}

// Names returns the registered prompt names, sorted.
func (r *PromptRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.prompts))
	for name := range r.prompts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered prompts.
func (r *PromptRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.prompts)
}
