// ABOUTME: Scrollable conversation pane showing finalized history items plus the live streaming tail.
// ABOUTME: Renders model Markdown through the render cache and tool batches as glyph-annotated call lines.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"

	"github.com/2389-research/tern/agent"
	"github.com/2389-research/tern/render"
)

// SpinnerFrames contains the Braille-dot animation frames for the live
// thinking indicator.
var SpinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// renderTTL bounds how long a rendered Markdown block stays cached. Resizes
// produce new cache keys, so stale widths age out on their own.
const renderTTL = 5 * time.Minute

// TranscriptModel is the scrollable conversation pane. Finalized entries
// arrive through AppendItem; the live tail (streaming text, thought summary,
// in-flight tool batch) is overwritten in place until the orchestrator
// finalizes it into a history item.
type TranscriptModel struct {
	items   []TranscriptItem
	pending string
	thought agent.ThoughtSummary
	calls   []ToolCallView
	busy    bool

	viewport     viewport.Model
	cache        *render.Cache
	spinnerIndex int
	width        int
	height       int
}

// NewTranscriptModel creates a transcript pane with a Markdown render cache.
func NewTranscriptModel() TranscriptModel {
	return TranscriptModel{
		viewport: viewport.New(80, 20),
		cache:    render.NewCache(render.Markdown, renderTTL),
		width:    80,
		height:   20,
	}
}

// AppendItem adds a finalized transcript entry. A tool group entry absorbs
// the live batch display; a model entry absorbs the streaming text it was
// split from, so the pending block never shows alongside its own final copy.
func (m *TranscriptModel) AppendItem(item TranscriptItem) {
	switch item.Type {
	case agent.HistoryToolGroup:
		m.calls = nil
	case agent.HistoryModel, agent.HistoryModelContent:
		m.pending = ""
	}
	m.items = append(m.items, item)
	m.sync()
}

// SetPending replaces the live streaming block.
func (m *TranscriptModel) SetPending(text string) {
	m.pending = text
	m.sync()
}

// SetThought replaces the current reasoning summary.
func (m *TranscriptModel) SetThought(t agent.ThoughtSummary) {
	m.thought = t
	m.sync()
}

// SetCalls replaces the in-flight tool batch display.
func (m *TranscriptModel) SetCalls(calls []ToolCallView) {
	m.calls = calls
	m.sync()
}

// SetBusy toggles the live indicator. Leaving the busy state clears the
// whole tail: anything worth keeping has been finalized by then.
func (m *TranscriptModel) SetBusy(busy bool) {
	m.busy = busy
	if !busy {
		m.pending = ""
		m.thought = agent.ThoughtSummary{}
		m.calls = nil
	}
	m.sync()
}

// AdvanceSpinner increments the spinner frame index.
func (m *TranscriptModel) AdvanceSpinner() {
	m.spinnerIndex++
	if m.busy {
		m.sync()
	}
}

// SetSize sets the pane dimensions and re-renders when they changed. A width
// change drops the render cache: its entries are keyed by width, so the old
// ones would only expire by TTL.
func (m *TranscriptModel) SetSize(w, h int) {
	if w == m.width && h == m.height {
		return
	}
	if w != m.width {
		m.cache.Clear()
	}
	m.width = w
	m.height = h
	m.viewport.Width = w
	m.viewport.Height = h
	m.sync()
}

// Len returns the number of finalized entries.
func (m TranscriptModel) Len() int {
	return len(m.items)
}

// Items returns the finalized entries in arrival order.
func (m TranscriptModel) Items() []TranscriptItem {
	return m.items
}

// Update forwards scroll events to the embedded viewport.
func (m TranscriptModel) Update(msg tea.Msg) (TranscriptModel, tea.Cmd) {
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the pane. An empty session shows a short hint instead.
func (m TranscriptModel) View() string {
	if len(m.items) == 0 && !m.busy {
		return HintStyle.Render("Type a prompt and press Enter. /help lists commands.")
	}
	return m.viewport.View()
}

// sync rebuilds the viewport content and scrolls to the bottom.
func (m *TranscriptModel) sync() {
	m.viewport.SetContent(m.content())
	m.viewport.GotoBottom()
}

// content joins all rendered blocks with blank lines, live tail last.
func (m *TranscriptModel) content() string {
	w := m.contentWidth()
	var blocks []string
	for _, item := range m.items {
		if block := m.renderItem(item, w); block != "" {
			blocks = append(blocks, block)
		}
	}
	if live := m.renderLive(w); live != "" {
		blocks = append(blocks, live)
	}
	return strings.Join(blocks, "\n\n")
}

// contentWidth leaves one column free so full-width lines never wrap twice.
func (m *TranscriptModel) contentWidth() int {
	w := m.width - 1
	if w < render.MinWidth {
		w = render.MinWidth
	}
	return w
}

// renderItem renders one finalized entry for the given width.
func (m *TranscriptModel) renderItem(item TranscriptItem, width int) string {
	switch item.Type {
	case agent.HistoryUser:
		return renderUserPrompt(item.Text, width)
	case agent.HistoryModel, agent.HistoryModelContent:
		return m.cache.Render(item.Text, width)
	case agent.HistoryToolGroup:
		return renderCalls(item.Calls, width)
	case agent.HistoryInfo:
		return InfoStyle.Render(wrapText(item.Text, width))
	case agent.HistoryError:
		return ErrorStyle.Render(wrapText(item.Text, width))
	default:
		// System prompt entries are persisted for resume but never shown.
		return ""
	}
}

// renderLive renders the streaming tail: pending Markdown, then the
// in-flight tool batch, then the spinner line while waiting on the model.
// Pending text changes on every chunk, so it skips the cache.
func (m *TranscriptModel) renderLive(width int) string {
	var blocks []string
	if m.pending != "" {
		blocks = append(blocks, render.Markdown(m.pending, width))
	}
	if len(m.calls) > 0 {
		blocks = append(blocks, renderCalls(m.calls, width))
	}
	if m.busy && m.pending == "" {
		line := SpinnerFrames[m.spinnerIndex%len(SpinnerFrames)] + " Thinking..."
		if m.thought.Subject != "" {
			line += " " + m.thought.Subject
		}
		blocks = append(blocks, ThoughtStyle.Render(line))
	}
	return strings.Join(blocks, "\n\n")
}

// renderUserPrompt shows the user's text behind a prompt marker, with
// continuation lines indented under it.
func renderUserPrompt(text string, width int) string {
	inner := width - 2
	if inner < 1 {
		inner = 1
	}
	lines := strings.Split(wrapText(text, inner), "\n")
	for i := 1; i < len(lines); i++ {
		lines[i] = "  " + lines[i]
	}
	return UserPromptStyle.Render("> ") + strings.Join(lines, "\n")
}

// renderCalls renders one line per call with a status glyph, followed by the
// indented result display once the call is terminal.
func renderCalls(calls []ToolCallView, width int) string {
	var b strings.Builder
	for i, call := range calls {
		if i > 0 {
			b.WriteString("\n")
		}
		style := StyleForCallStatus(call.Status)
		b.WriteString(style.Render(fmt.Sprintf("%s %s", StatusGlyph(call.Status), call.Name)))

		detail := call.ResultDisplay
		if detail == "" && call.Error != "" {
			detail = call.Error
		}
		if detail == "" || !call.Status.Terminal() {
			continue
		}
		inner := width - 4
		if inner < 1 {
			inner = 1
		}
		for _, line := range strings.Split(strings.TrimRight(wrapText(detail, inner), "\n"), "\n") {
			b.WriteString("\n    ")
			b.WriteString(ToolResultStyle.Render(line))
		}
	}
	return b.String()
}

// wrapText word-wraps then hard-wraps plain text to the given width.
func wrapText(s string, width int) string {
	if width <= 0 {
		return s
	}
	return wrap.String(wordwrap.String(s, width), width)
}
