// ABOUTME: Interactive terminal session wiring the agent stack into the Bubble Tea UI.
// ABOUTME: Orchestrator events reach the message loop through an EventBridge and Program.Send.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/tern/agent"
	"github.com/2389-research/tern/genai"
	"github.com/2389-research/tern/mcp"
	"github.com/2389-research/tern/render"
	"github.com/2389-research/tern/tui"
)

// runInteractive starts the full-screen terminal session and reports the
// exit code.
func runInteractive(ctx context.Context, cfg config, settings *Settings, dir, cwd string) int {
	// Log lines would tear the alternate screen, so logs are dropped in this
	// mode; errors surface through the transcript instead.
	logger := discardLogger()
	slog.SetDefault(logger)

	s, err := buildStack(ctx, cfg, settings, dir, cwd, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer s.Close()

	if echoSystemPrompt() {
		fmt.Fprintf(os.Stderr, "--- system prompt ---\n%s\n--- end system prompt ---\n", s.systemPrompt)
	}

	// p is assigned before any sink can fire: sinks only run during Submit,
	// and nothing submits until the program is running.
	var p *tea.Program
	bridge := tui.NewEventBridge(func(msg tea.Msg) { p.Send(msg) })

	opts := append(s.orchestratorOptions(),
		agent.WithSplitPoint(render.LastSafeSplitPoint))
	opts = append(opts, bridge.Options()...)
	orc := agent.NewOrchestrator(s.session, s.gen, s.registry, opts...)

	model := tui.NewAppModel(ctx, orc, resumeItems(cfg.resume, s.initial)...)
	p = tea.NewProgram(model, tea.WithAltScreen())

	if s.manager != nil {
		s.manager.AddStatusListener(func(server string, status mcp.Status) {
			if status != mcp.StatusConnected {
				return
			}
			p.Send(tui.TranscriptItemMsg{Item: tui.TranscriptItem{
				Type: agent.HistoryInfo,
				Text: fmt.Sprintf("MCP server %s connected (%d tools).",
					server, len(s.manager.ServerTools(server))),
			}})
		})
		go s.manager.Discover(ctx)
	}

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// resumeItems converts recorded history into transcript items so a resumed
// session scrolls back with its past conversation. Tool-call rounds carry no
// text and are skipped.
func resumeItems(sessionID string, history []*genai.Content) []tui.TranscriptItem {
	if len(history) == 0 {
		return nil
	}
	items := make([]tui.TranscriptItem, 0, len(history)+1)
	for _, content := range history {
		if content == nil {
			continue
		}
		text := content.Text()
		if text == "" {
			continue
		}
		switch content.Role {
		case genai.RoleUser:
			items = append(items, tui.TranscriptItem{Type: agent.HistoryUser, Text: text})
		case genai.RoleModel:
			items = append(items, tui.TranscriptItem{Type: agent.HistoryModel, Text: text})
		}
	}
	items = append(items, tui.TranscriptItem{
		Type: agent.HistoryInfo,
		Text: fmt.Sprintf("Resumed session %s (%d recorded messages).", sessionID, len(history)),
	})
	return items
}
