// ABOUTME: Tests for the plain-text printer behind one-shot prompt mode.
// ABOUTME: Covers stream accumulation, stderr routing, and exit-code bookkeeping.
package main

import (
	"bytes"
	"testing"

	"github.com/2389-research/tern/agent"
)

func newTestPrinter() (*plainPrinter, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &plainPrinter{out: &out, errOut: &errOut}, &out, &errOut
}

func TestPlainPrinterStreamsModelText(t *testing.T) {
	p, out, _ := newTestPrinter()

	p.handleItem(agent.HistoryItem{Type: agent.HistoryModel, Text: "Hello "})
	p.handleItem(agent.HistoryItem{Type: agent.HistoryModelContent, Text: "world"})
	p.finish()

	if got := out.String(); got != "Hello world\n" {
		t.Errorf("expected streamed text with trailing newline, got %q", got)
	}
}

func TestPlainPrinterFinishAddsNewlineOnce(t *testing.T) {
	p, out, _ := newTestPrinter()

	p.handleItem(agent.HistoryItem{Type: agent.HistoryModel, Text: "done\n"})
	p.finish()

	if got := out.String(); got != "done\n" {
		t.Errorf("expected no extra newline after terminated output, got %q", got)
	}
}

func TestPlainPrinterFinishWithoutOutput(t *testing.T) {
	p, out, _ := newTestPrinter()

	p.finish()

	if out.Len() != 0 {
		t.Errorf("expected no output when nothing was printed, got %q", out.String())
	}
}

func TestPlainPrinterSeparatesResponsesAfterTools(t *testing.T) {
	p, out, _ := newTestPrinter()

	// First response, then a tool round, then a fresh response.
	p.handleItem(agent.HistoryItem{Type: agent.HistoryModel, Text: "Checking the file"})
	p.handleItem(agent.HistoryItem{Type: agent.HistoryToolGroup})
	p.handleItem(agent.HistoryItem{Type: agent.HistoryModel, Text: "The file is fine."})
	p.finish()

	if got := out.String(); got != "Checking the file\nThe file is fine.\n" {
		t.Errorf("expected newline between responses, got %q", got)
	}
}

func TestPlainPrinterInfoGoesToStderr(t *testing.T) {
	p, out, errOut := newTestPrinter()

	p.handleItem(agent.HistoryItem{Type: agent.HistoryInfo, Text: "Request cancelled."})

	if out.Len() != 0 {
		t.Errorf("expected stdout untouched by info items, got %q", out.String())
	}
	if got := errOut.String(); got != "Request cancelled.\n" {
		t.Errorf("expected info on stderr, got %q", got)
	}
}

func TestPlainPrinterErrorGoesToStderr(t *testing.T) {
	p, out, errOut := newTestPrinter()

	p.handleItem(agent.HistoryItem{Type: agent.HistoryError, Text: "backend unavailable"})

	if out.Len() != 0 {
		t.Errorf("expected stdout untouched by errors, got %q", out.String())
	}
	if got := errOut.String(); got != "Error: backend unavailable\n" {
		t.Errorf("expected prefixed error on stderr, got %q", got)
	}
	if !p.sawError {
		t.Error("expected sawError to be set")
	}
}

func TestPlainPrinterFlagsExecutionFailures(t *testing.T) {
	p, _, _ := newTestPrinter()

	p.handleItem(agent.HistoryItem{
		Type: agent.HistoryToolGroup,
		Calls: []*agent.TrackedToolCall{
			{
				Status: agent.StatusError,
				Response: &agent.ToolCallResponse{
					ErrorType: agent.ToolErrorExecutionFailed,
				},
			},
		},
	})

	if !p.toolFailed {
		t.Error("expected toolFailed for an execution failure")
	}
}

func TestPlainPrinterIgnoresRecoverableToolErrors(t *testing.T) {
	tests := []struct {
		name      string
		errorType agent.ToolErrorType
	}{
		{"not found", agent.ToolErrorNotFound},
		{"invalid args", agent.ToolErrorInvalidArgs},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, _, _ := newTestPrinter()
			p.handleItem(agent.HistoryItem{
				Type: agent.HistoryToolGroup,
				Calls: []*agent.TrackedToolCall{
					{
						Status:   agent.StatusError,
						Response: &agent.ToolCallResponse{ErrorType: tc.errorType},
					},
				},
			})
			if p.toolFailed {
				t.Errorf("expected %s to be recoverable, not a process failure", tc.name)
			}
		})
	}
}

func TestPlainPrinterIgnoresSuccessfulCalls(t *testing.T) {
	p, _, _ := newTestPrinter()

	p.handleItem(agent.HistoryItem{
		Type: agent.HistoryToolGroup,
		Calls: []*agent.TrackedToolCall{
			{Status: agent.StatusSuccess, Response: &agent.ToolCallResponse{}},
			{Status: agent.StatusCancelled, Response: &agent.ToolCallResponse{}},
		},
	})

	if p.toolFailed {
		t.Error("expected successful and cancelled calls to leave toolFailed unset")
	}
}

func TestPlainPrinterSkipsUserEcho(t *testing.T) {
	p, out, errOut := newTestPrinter()

	p.handleItem(agent.HistoryItem{Type: agent.HistoryUser, Text: "what does main do?"})

	if out.Len() != 0 || errOut.Len() != 0 {
		t.Errorf("expected user echo to be dropped, got stdout %q stderr %q", out.String(), errOut.String())
	}
}
