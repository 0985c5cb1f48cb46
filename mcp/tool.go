// ABOUTME: DiscoveredTool adapts a remote MCP tool declaration to the agent Tool interface.
// ABOUTME: Execution calls back through the server session with the per-server timeout applied.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389-research/tern/agent"
)

// toolSession is the slice of a server session that tool execution needs.
// *mcpsdk.ClientSession satisfies it.
type toolSession interface {
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
}

// DiscoveredTool exposes one remote MCP tool through the agent Tool
// interface. The registered name can differ from the remote name after
// sanitization or collision prefixing; calls always use the remote name.
type DiscoveredTool struct {
	serverName  string
	remoteName  string
	name        string
	description string
	params      json.RawMessage
	timeout     time.Duration
	trusted     bool
	session     toolSession
}

var _ agent.Tool = (*DiscoveredTool)(nil)

func (t *DiscoveredTool) Name() string                { return t.name }
func (t *DiscoveredTool) Description() string         { return t.description }
func (t *DiscoveredTool) Parameters() json.RawMessage { return t.params }
func (t *DiscoveredTool) Kind() agent.ToolKind        { return agent.KindMCP }

// ServerName reports which server the tool came from.
func (t *DiscoveredTool) ServerName() string { return t.serverName }

// RemoteName is the name the server declared, before any sanitization.
func (t *DiscoveredTool) RemoteName() string { return t.remoteName }

// ShouldConfirm asks for approval unless the server is trusted.
func (t *DiscoveredTool) ShouldConfirm(ctx context.Context, args map[string]any) (*agent.ConfirmationRequest, error) {
	if t.trusted {
		return nil, nil
	}
	return &agent.ConfirmationRequest{
		Kind:        agent.KindMCP,
		Title:       fmt.Sprintf("Run MCP tool %q on server %q", t.remoteName, t.serverName),
		Description: t.description,
		ServerName:  t.serverName,
		ToolName:    t.remoteName,
	}, nil
}

// Execute invokes the remote tool with the per-server timeout applied. A
// result flagged IsError comes back as a Go error so the scheduler reports
// the failure to the model.
func (t *DiscoveredTool) Execute(ctx context.Context, args map[string]any) (*agent.ToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if args == nil {
		args = map[string]any{}
	}
	res, err := t.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: t.remoteName, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("calling %s on %s: %w", t.remoteName, t.serverName, err)
	}

	text := resultText(res)
	if res.IsError {
		if text == "" {
			text = "Tool execution failed"
		}
		return nil, fmt.Errorf("calling %s on %s: %s", t.remoteName, t.serverName, text)
	}
	if text == "" {
		text = "Tool executed successfully"
	}
	return &agent.ToolResult{LLMContent: text}, nil
}

// resultText joins the text content blocks of a tool result. Non-text blocks
// are skipped.
func resultText(res *mcpsdk.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
