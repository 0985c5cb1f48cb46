// ABOUTME: Defines lipgloss style constants for the chat transcript, tool call states, and the approval dialog.
// ABOUTME: Provides StyleForCallStatus and StatusGlyph to map tool call statuses to display styles and markers.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/tern/agent"
)

var (
	// Transcript roles
	UserPromptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
	InfoStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	ErrorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	ThoughtStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("241"))
	HintStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	// Tool call states
	ToolPendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	ToolWaitingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	ToolRunningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	ToolSuccessStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	ToolErrorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	ToolCancelledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	ToolResultStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	// Composer
	PromptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))

	// Status bar
	StatusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	// Confirmation dialog
	ConfirmBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(1, 2)
	ConfirmTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	ConfirmKeyStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
	ConfirmBodyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

// StyleForCallStatus returns the appropriate lipgloss style for a tool call status.
func StyleForCallStatus(status agent.ToolCallStatus) lipgloss.Style {
	switch status {
	case agent.StatusValidating, agent.StatusScheduled:
		return ToolPendingStyle
	case agent.StatusAwaitingApproval:
		return ToolWaitingStyle
	case agent.StatusExecuting:
		return ToolRunningStyle
	case agent.StatusSuccess:
		return ToolSuccessStyle
	case agent.StatusError:
		return ToolErrorStyle
	case agent.StatusCancelled:
		return ToolCancelledStyle
	default:
		return ToolPendingStyle
	}
}

// StatusGlyph returns the single-character marker shown beside a tool call.
func StatusGlyph(status agent.ToolCallStatus) string {
	switch status {
	case agent.StatusAwaitingApproval:
		return "?"
	case agent.StatusExecuting:
		return "⊷"
	case agent.StatusSuccess:
		return "✔"
	case agent.StatusError:
		return "✖"
	case agent.StatusCancelled:
		return "-"
	default:
		return "o"
	}
}
