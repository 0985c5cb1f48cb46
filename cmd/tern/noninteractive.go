// ABOUTME: One-shot prompt mode: submit a single prompt, print plain text, exit.
// ABOUTME: Exit codes: 0 on success, 1 on backend errors or failed tool executions.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/2389-research/tern/agent"
)

// plainPrinter renders history items as plain text: model text to out,
// notices and errors to errOut. It also watches tool results so the exit
// code can reflect execution failures.
type plainPrinter struct {
	out    io.Writer
	errOut io.Writer

	wrote      bool
	endedLine  bool
	sawError   bool
	toolFailed bool
}

func (p *plainPrinter) handleItem(item agent.HistoryItem) {
	switch item.Type {
	case agent.HistoryModel:
		// A fresh response after tool calls; keep it off the previous line.
		if p.wrote && !p.endedLine {
			fmt.Fprintln(p.out)
			p.endedLine = true
		}
		p.write(item.Text)
	case agent.HistoryModelContent:
		p.write(item.Text)
	case agent.HistoryInfo:
		fmt.Fprintln(p.errOut, item.Text)
	case agent.HistoryError:
		fmt.Fprintln(p.errOut, "Error:", item.Text)
		p.sawError = true
	case agent.HistoryToolGroup:
		for _, call := range item.Calls {
			p.noteCall(call)
		}
	}
}

func (p *plainPrinter) write(text string) {
	if text == "" {
		return
	}
	fmt.Fprint(p.out, text)
	p.wrote = true
	p.endedLine = strings.HasSuffix(text, "\n")
}

// noteCall flags failed executions. Not-found and bad-argument results go
// back to the model for another try and must not fail the process.
func (p *plainPrinter) noteCall(call *agent.TrackedToolCall) {
	if call.Status != agent.StatusError || call.Response == nil {
		return
	}
	if call.Response.ErrorType == agent.ToolErrorExecutionFailed {
		p.toolFailed = true
	}
}

// finish terminates the output with a newline when any text was printed.
func (p *plainPrinter) finish() {
	if p.wrote && !p.endedLine {
		fmt.Fprintln(p.out)
	}
}

// runPrompt answers cfg.prompt without a UI and reports the exit code.
func runPrompt(ctx context.Context, cfg config, settings *Settings, dir, cwd string) int {
	logger := buildLogger(cfg.debug)
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

	printer := &plainPrinter{out: os.Stdout, errOut: os.Stderr}

	// The sink fires only inside Submit, well after orc is assigned.
	var orc *agent.Orchestrator
	opts := append(s.orchestratorOptions(),
		agent.WithHistorySink(printer.handleItem),
		agent.WithConfirmationRequestSink(func(call *agent.TrackedToolCall) {
			fmt.Fprintf(os.Stderr,
				"Tool %s needs approval; cancelling. Run interactively or pass -approval yolo.\n",
				call.Request.Name)
			_ = orc.Confirm(call.Request.CallID, agent.ConfirmationDecision{Outcome: agent.OutcomeCancel})
		}),
	)
	orc = agent.NewOrchestrator(s.session, s.gen, s.registry, opts...)

	if s.manager != nil {
		s.manager.Discover(ctx)
	}

	if err := orc.Submit(ctx, cfg.prompt); err != nil {
		printer.finish()
		if !printer.sawError {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	printer.finish()

	if ctx.Err() != nil {
		return 1
	}
	if printer.toolFailed {
		return 1
	}
	return 0
}
