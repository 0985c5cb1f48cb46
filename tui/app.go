// ABOUTME: Top-level Bubble Tea AppModel composing the transcript, composer, confirmation dialog, and status bar.
// ABOUTME: Implements tea.Model (Init, Update, View) and routes orchestrator events and keyboard input between panes.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/tern/agent"
)

// tickInterval drives the thinking spinner and elapsed-time refresh.
const tickInterval = 250 * time.Millisecond

// AppModel is the top-level Bubble Tea model for an interactive session.
type AppModel struct {
	transcript TranscriptModel
	composer   textinput.Model
	confirm    ConfirmModel
	statusBar  StatusBarModel

	orc *agent.Orchestrator
	ctx context.Context // bounds every submitted prompt

	busy   bool
	width  int
	height int
}

// NewAppModel creates an AppModel wired to the given orchestrator. Initial
// entries (the transcript of a resumed session) seed the conversation pane.
func NewAppModel(ctx context.Context, orc *agent.Orchestrator, initial ...TranscriptItem) AppModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.PromptStyle = PromptStyle
	ti.Placeholder = "Type a prompt; @file attaches, /help lists commands"
	ti.Focus()

	transcript := NewTranscriptModel()
	for _, item := range initial {
		transcript.AppendItem(item)
	}

	return AppModel{
		transcript: transcript,
		composer:   ti,
		confirm:    NewConfirmModel(),
		statusBar:  NewStatusBarModel(orc.Session().ModelName()),
		orc:        orc,
		ctx:        ctx,
	}
}

// Init implements tea.Model.
func (m AppModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, TickCmd(tickInterval))
}

// Update implements tea.Model. Routes incoming messages to the appropriate
// pane and returns the updated model with any follow-up commands.
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleWindowSize(msg)

	case TranscriptItemMsg:
		m.transcript.AppendItem(msg.Item)
		m.statusBar.SetPromptCount(m.orc.Session().PromptCount())
		return m, nil

	case PendingTextMsg:
		m.transcript.SetPending(msg.Text)
		return m, nil

	case ThoughtMsg:
		m.transcript.SetThought(msg.Thought)
		return m, nil

	case StateMsg:
		return m.handleState(msg)

	case ToolCallsMsg:
		m.transcript.SetCalls(msg.Calls)
		return m, nil

	case ConfirmationRequestMsg:
		m.confirm.SetActive(msg.Confirmation)
		return m, nil

	case PromptResultMsg:
		return m.handlePromptResult(msg)

	case EditorFinishedMsg:
		return m.handleEditorFinished(msg)

	case TickMsg:
		return m.handleTick(msg)

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model. Renders the transcript above the dialog,
// composer, and status bar.
func (m AppModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	// Minimum terminal size guard to prevent layout overflow
	if m.width < 40 || m.height < 8 {
		return fmt.Sprintf("Terminal too small (%dx%d). Minimum: 40x8.", m.width, m.height)
	}

	var dialogView string
	if m.confirm.IsActive() {
		dialogView = m.confirm.View()
	}

	// Transcript fills the space left by the fixed-height bottom chrome.
	chrome := 2 // composer + status bar
	if dialogView != "" {
		chrome += lipgloss.Height(dialogView)
	}
	transcriptHeight := m.height - chrome
	if transcriptHeight < 3 {
		transcriptHeight = 3
	}
	m.transcript.SetSize(m.width, transcriptHeight)
	m.statusBar.SetWidth(m.width)

	var b strings.Builder
	b.WriteString(m.transcript.View())
	b.WriteString("\n")
	if dialogView != "" {
		b.WriteString(dialogView)
		b.WriteString("\n")
	}
	b.WriteString(m.composer.View())
	b.WriteString("\n")
	b.WriteString(m.statusBar.View())

	return b.String()
}

// handleWindowSize updates dimensions on all panes.
func (m AppModel) handleWindowSize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.composer.Width = msg.Width - 4
	m.confirm.SetWidth(msg.Width)
	m.statusBar.SetWidth(msg.Width)

	transcriptHeight := msg.Height - 2
	if transcriptHeight < 3 {
		transcriptHeight = 3
	}
	m.transcript.SetSize(msg.Width, transcriptHeight)
	return m, nil
}

// handleState syncs the busy flag and status bar with the orchestrator.
func (m AppModel) handleState(msg StateMsg) (tea.Model, tea.Cmd) {
	m.statusBar.SetState(msg.State)
	m.statusBar.SetModelName(m.orc.Session().ModelName())
	switch msg.State {
	case agent.StateIdle:
		m.busy = false
		m.transcript.SetBusy(false)
	default:
		m.busy = true
		m.transcript.SetBusy(true)
	}
	return m, nil
}

// handlePromptResult clears the busy state once a prompt cascade finishes.
// Backend failures were already surfaced as transcript error items by the
// orchestrator, so only ErrBusy needs an extra notice here.
func (m AppModel) handlePromptResult(msg PromptResultMsg) (tea.Model, tea.Cmd) {
	m.busy = false
	m.transcript.SetBusy(false)
	m.statusBar.SetState(agent.StateIdle)
	m.statusBar.SetModelName(m.orc.Session().ModelName())
	m.statusBar.SetPromptCount(m.orc.Session().PromptCount())
	if msg.Err != nil && errors.Is(msg.Err, agent.ErrBusy) {
		m.transcript.AppendItem(TranscriptItem{Type: agent.HistoryInfo, Text: msg.Err.Error()})
	}
	return m, nil
}

// handleEditorFinished completes the modify-and-proceed flow: parse the
// edited arguments and answer the pending confirmation with them. Failures
// leave the dialog up so the user can still decide.
func (m AppModel) handleEditorFinished(msg EditorFinishedMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.transcript.AppendItem(TranscriptItem{Type: agent.HistoryError, Text: fmt.Sprintf("editor: %v", msg.Err)})
		return m, nil
	}
	args, err := ReadEditedArgs(msg.Path)
	if err != nil {
		m.transcript.AppendItem(TranscriptItem{Type: agent.HistoryError, Text: err.Error()})
		return m, nil
	}
	if err := m.orc.Confirm(msg.CallID, agent.ConfirmationDecision{
		Outcome:      agent.OutcomeModifyAndProceed,
		ModifiedArgs: args,
	}); err != nil {
		m.transcript.AppendItem(TranscriptItem{Type: agent.HistoryError, Text: err.Error()})
		return m, nil
	}
	m.confirm.Deactivate()
	return m, nil
}

// handleTick advances the spinner and schedules the next tick.
func (m AppModel) handleTick(_ TickMsg) (tea.Model, tea.Cmd) {
	m.transcript.AdvanceSpinner()
	return m, TickCmd(tickInterval)
}

// handleKeyMsg processes keyboard input, routing to the confirmation dialog
// or app-level shortcuts before the composer.
func (m AppModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.orc.Cancel()
		return m, tea.Quit
	}

	// The confirmation dialog owns the keyboard while visible.
	if m.confirm.IsActive() {
		return m.handleConfirmKey(msg)
	}

	switch msg.String() {
	case "esc":
		if m.busy {
			m.orc.Cancel()
		}
		return m, nil
	case "enter":
		return m.handleSubmit()
	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

// handleConfirmKey answers the pending confirmation according to the
// dialog's key contract.
func (m AppModel) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "e" || key == "E" {
		return m, EditArgsCmd(m.confirm.Current())
	}
	outcome, ok := m.confirm.Decide(key)
	if !ok {
		return m, nil
	}
	view := m.confirm.Current()
	m.confirm.Deactivate()
	if err := m.orc.Confirm(view.CallID, agent.ConfirmationDecision{Outcome: outcome}); err != nil {
		m.transcript.AppendItem(TranscriptItem{Type: agent.HistoryError, Text: err.Error()})
	}
	return m, nil
}

// handleSubmit sends the composer's text as a new prompt unless a turn is
// already running. Quit commands are intercepted here: the processor seam
// cannot stop the program loop.
func (m AppModel) handleSubmit() (tea.Model, tea.Cmd) {
	query := strings.TrimSpace(m.composer.Value())
	if query == "" {
		return m, nil
	}
	if m.busy {
		return m, nil
	}
	if query == "/quit" || query == "/exit" {
		return m, tea.Quit
	}

	m.composer.Reset()
	m.busy = true
	m.transcript.SetBusy(true)
	m.statusBar.SetState(agent.StateResponding)
	return m, SubmitPromptCmd(m.ctx, m.orc, query)
}
