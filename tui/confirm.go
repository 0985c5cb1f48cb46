// ABOUTME: Modal approval dialog for tool calls awaiting user confirmation.
// ABOUTME: Maps the y/a/e/n key contract onto confirmation outcomes and runs $EDITOR for argument edits.
package tui

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/tern/agent"
)

// maxPreviewLines limits how much of a proposed file body the dialog shows.
const maxPreviewLines = 12

// ConfirmModel renders the approval dialog for the tool call currently
// awaiting confirmation. The scheduler serializes confirmations, so a single
// slot suffices.
type ConfirmModel struct {
	active  bool
	current ConfirmationView
	width   int
}

// NewConfirmModel creates an inactive confirmation dialog.
func NewConfirmModel() ConfirmModel {
	return ConfirmModel{width: 80}
}

// SetActive shows the dialog for the given confirmation.
func (m *ConfirmModel) SetActive(view ConfirmationView) {
	m.current = view
	m.active = true
}

// Deactivate hides the dialog and drops its confirmation.
func (m *ConfirmModel) Deactivate() {
	m.active = false
	m.current = ConfirmationView{}
}

// IsActive reports whether the dialog is currently visible.
func (m ConfirmModel) IsActive() bool {
	return m.active
}

// Current returns the confirmation being displayed.
func (m ConfirmModel) Current() ConfirmationView {
	return m.current
}

// SetWidth sets the dialog width for rendering.
func (m *ConfirmModel) SetWidth(w int) {
	m.width = w
}

// Decide maps an approval key to its confirmation outcome. The edit key is
// handled separately because it spawns an external process.
func (m ConfirmModel) Decide(key string) (agent.ConfirmationOutcome, bool) {
	switch key {
	case "y", "Y":
		return agent.OutcomeProceedOnce, true
	case "a", "A":
		return agent.OutcomeProceedAlways, true
	case "n", "N", "esc":
		return agent.OutcomeCancel, true
	}
	return "", false
}

// View renders the dialog. Returns an empty string when inactive.
func (m ConfirmModel) View() string {
	if !m.active {
		return ""
	}
	c := m.current

	var b strings.Builder
	title := c.Title
	if title == "" {
		title = fmt.Sprintf("Run %s?", c.Name)
	}
	b.WriteString(ConfirmTitleStyle.Render(title))
	b.WriteString("\n")
	if c.Description != "" {
		b.WriteString(ConfirmBodyStyle.Render(c.Description))
		b.WriteString("\n")
	}

	switch c.Kind {
	case agent.KindExecute:
		if c.Command != "" {
			b.WriteString("\n")
			b.WriteString(ConfirmBodyStyle.Render("  $ " + c.Command))
			b.WriteString("\n")
		}
	case agent.KindEdit:
		if c.FilePath != "" {
			b.WriteString("\n")
			b.WriteString(ConfirmBodyStyle.Render("  " + c.FilePath))
			b.WriteString("\n")
		}
		if c.NewContent != "" {
			b.WriteString(renderPreview(c.NewContent))
		}
	case agent.KindMCP:
		if c.ServerName != "" || c.ToolName != "" {
			b.WriteString("\n")
			b.WriteString(ConfirmBodyStyle.Render(fmt.Sprintf("  %s / %s", c.ServerName, c.ToolName)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(keysLine())

	boxWidth := m.width - 4
	if boxWidth > 80 {
		boxWidth = 80
	}
	if boxWidth < 20 {
		boxWidth = 20
	}
	return ConfirmBoxStyle.Width(boxWidth).Render(b.String())
}

// renderPreview truncates a proposed file body to maxPreviewLines.
func renderPreview(content string) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	shown := lines
	var extra int
	if len(lines) > maxPreviewLines {
		shown = lines[:maxPreviewLines]
		extra = len(lines) - maxPreviewLines
	}

	var b strings.Builder
	b.WriteString("\n")
	for _, line := range shown {
		b.WriteString(ToolResultStyle.Render("  │ " + line))
		b.WriteString("\n")
	}
	if extra > 0 {
		b.WriteString(ToolResultStyle.Render(fmt.Sprintf("  │ (%d more lines)", extra)))
		b.WriteString("\n")
	}
	return b.String()
}

// keysLine renders the approval key legend.
func keysLine() string {
	keys := []struct{ key, label string }{
		{"y", "run once"},
		{"a", "always allow"},
		{"e", "edit args"},
		{"n", "cancel"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, ConfirmKeyStyle.Render("["+k.key+"]")+" "+k.label)
	}
	return strings.Join(parts, "  ")
}

// EditArgsCmd writes the call's arguments to a temp file and opens $EDITOR on
// it via tea.ExecProcess, which suspends the TUI for the duration. The
// follow-up EditorFinishedMsg carries the temp path for ReadEditedArgs.
func EditArgsCmd(view ConfirmationView) tea.Cmd {
	path, err := writeArgsFile(view.Args)
	if err != nil {
		return func() tea.Msg {
			return EditorFinishedMsg{CallID: view.CallID, Err: err}
		}
	}
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}
	cmd := exec.Command(editor, path)
	return tea.ExecProcess(cmd, func(err error) tea.Msg {
		return EditorFinishedMsg{CallID: view.CallID, Path: path, Err: err}
	})
}

// writeArgsFile seeds a temp file with the pretty-printed argument JSON.
func writeArgsFile(args map[string]any) (string, error) {
	data, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	f, err := os.CreateTemp("", "tern-args-*.json")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// ReadEditedArgs parses the edited argument JSON and removes the temp file.
func ReadEditedArgs(path string) (map[string]any, error) {
	defer os.Remove(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("edited args are not valid JSON: %w", err)
	}
	return args, nil
}
