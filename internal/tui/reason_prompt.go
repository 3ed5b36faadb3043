package tui

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ReasonPrompt collects the reason for rejecting a critique.
type ReasonPrompt struct {
	input  textinput.Model
	taskID string
	active bool
	width  int
}

// NewReasonPrompt creates a new ReasonPrompt.
func NewReasonPrompt() *ReasonPrompt {
	ti := textinput.New()
	ti.Placeholder = "Why is this step rejected? Enter to confirm, Esc to cancel"
	ti.CharLimit = 500
	ti.Width = 60

	return &ReasonPrompt{input: ti, width: 80}
}

// Open starts prompting for the given task.
func (p *ReasonPrompt) Open(taskID string) tea.Cmd {
	p.taskID = taskID
	p.active = true
	p.input.Reset()
	return p.input.Focus()
}

// Active reports whether the prompt is capturing keys.
func (p *ReasonPrompt) Active() bool {
	return p.active
}

// SetWidth sets the width of the prompt.
func (p *ReasonPrompt) SetWidth(width int) {
	p.width = width
	p.input.Width = max(width-6, 10)
}

// Update handles keys while the prompt is active.
func (p *ReasonPrompt) Update(msg tea.Msg) (*ReasonPrompt, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEsc:
			p.close()
			return p, nil
		case tea.KeyEnter:
			reason, taskID := p.input.Value(), p.taskID
			if reason == "" {
				reason = "rejected from dashboard"
			}
			p.close()
			return p, func() tea.Msg {
				return ReasonSubmittedMsg{TaskID: taskID, Reason: reason}
			}
		}
	}

	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	return p, cmd
}

func (p *ReasonPrompt) close() {
	p.active = false
	p.input.Blur()
	p.input.Reset()
}

// View renders the prompt.
func (p *ReasonPrompt) View() string {
	if !p.active {
		return ""
	}
	promptStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(max(p.width-2, 1))

	return boxStyle.Render(promptStyle.Render("reject "+p.taskID+"> ") + p.input.View())
}
