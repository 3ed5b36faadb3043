package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// TaskCounts holds the count of tasks in each status.
type TaskCounts struct {
	Done     int
	Failed   int
	Running  int
	Pending  int
	Critique int
}

var (
	footerOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("28")).Bold(true)
	footerErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	footerWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	footerHint = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	footerSep  = lipgloss.NewStyle().Foreground(lipgloss.Color("236")).Render(" │ ")
)

// Footer renders the run status bar and keyboard hints.
type Footer struct {
	status  models.OrchestratorStatus
	paused  bool
	budget  models.Budget
	counts  TaskCounts
	message string
	done    bool
	success bool
	width   int
}

// NewFooter returns a footer sized for an 80 column terminal.
func NewFooter() *Footer {
	return &Footer{width: 80}
}

// SetWidth sets the footer width.
func (f *Footer) SetWidth(width int) {
	f.width = width
}

// SetState updates the run status, pause flag and budget.
func (f *Footer) SetState(status models.OrchestratorStatus, paused bool, budget models.Budget) {
	f.status = status
	f.paused = paused
	f.budget = budget
}

// SetTaskCounts updates the task counts for display.
func (f *Footer) SetTaskCounts(counts TaskCounts) {
	f.counts = counts
}

// SetMessage shows a transient status message.
func (f *Footer) SetMessage(message string) {
	f.message = message
}

// SetRunDone marks the run as finished.
func (f *Footer) SetRunDone(success bool, message string) {
	f.done = true
	f.success = success
	f.message = message
}

// View renders the footer.
func (f *Footer) View() string {
	sep := footerSep

	status := string(f.status)
	if f.paused {
		status = footerWarn.Render("paused")
	}

	counts := fmt.Sprintf("✓%d ●%d ○%d", f.counts.Done, f.counts.Running, f.counts.Pending)
	if f.counts.Failed > 0 {
		counts += footerErr.Render(fmt.Sprintf(" ✗%d", f.counts.Failed))
	}
	if f.counts.Critique > 0 {
		counts += footerWarn.Render(fmt.Sprintf(" ?%d", f.counts.Critique))
	}

	spend := fmt.Sprintf("$%.2f", f.budget.Used)
	if f.budget.Allocated > 0 {
		spend = fmt.Sprintf("$%.2f/$%.2f", f.budget.Used, f.budget.Allocated)
		if f.budget.Utilization() >= 90 {
			spend = footerWarn.Render(spend)
		}
	}

	left := status + sep + counts + sep + spend
	if f.done {
		if f.success {
			left += sep + footerOK.Render("✓ "+f.message)
		} else {
			left += sep + footerErr.Render("✗ "+f.message)
		}
	} else if f.message != "" {
		left += sep + footerHint.Render(f.message)
	}

	return left + sep + f.keyboardHints()
}

func (f *Footer) keyboardHints() string {
	if f.done {
		return footerHint.Render("q quit")
	}
	pause := "p pause"
	if f.paused {
		pause = "p resume"
	}
	return footerHint.Render("↑/↓ select │ a approve │ r reject │ " + pause + " │ s stop │ tab logs │ q quit")
}
