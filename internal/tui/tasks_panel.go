package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// TaskRow is one task as the dashboard shows it.
type TaskRow struct {
	ID       string
	Title    string
	Status   models.TaskStatus
	Step     models.StepName
	Progress int
	// AwaitingCritique is true while a gated step waits for review.
	AwaitingCritique bool
	Error            string
}

// TasksPanel displays the task list with a progress bar per task.
type TasksPanel struct {
	rows         []TaskRow
	selected     int
	scrollOffset int
	width        int
	height       int
	bar          progress.Model

	titleStyle    lipgloss.Style
	borderStyle   lipgloss.Style
	selectedStyle lipgloss.Style
	pendingStyle  lipgloss.Style
	runningStyle  lipgloss.Style
	doneStyle     lipgloss.Style
	failedStyle   lipgloss.Style
	pausedStyle   lipgloss.Style
	stepStyle     lipgloss.Style
}

// NewTasksPanel creates a new TasksPanel instance.
func NewTasksPanel() *TasksPanel {
	return &TasksPanel{
		width:  80,
		height: 10,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(20), progress.WithoutPercentage()),

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1),

		borderStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")),

		selectedStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("15")).
			Bold(true),

		pendingStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		runningStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		doneStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("28")),
		failedStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		pausedStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		stepStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	}
}

// SetSize sets the panel dimensions, borders included.
func (p *TasksPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
	p.ensureVisible()
}

// SetRows replaces the rows, keeping the selection on the same task.
func (p *TasksPanel) SetRows(rows []TaskRow) {
	selectedID := p.SelectedID()
	p.rows = rows
	p.selected = 0
	for i, r := range rows {
		if r.ID == selectedID {
			p.selected = i
			break
		}
	}
	p.ensureVisible()
}

// Rows returns the current rows.
func (p *TasksPanel) Rows() []TaskRow {
	return p.rows
}

// SelectedID returns the selected task's ID, or "" with no tasks.
func (p *TasksPanel) SelectedID() string {
	if p.selected < 0 || p.selected >= len(p.rows) {
		return ""
	}
	return p.rows[p.selected].ID
}

// MoveUp selects the previous task.
func (p *TasksPanel) MoveUp() {
	if p.selected > 0 {
		p.selected--
		p.ensureVisible()
	}
}

// MoveDown selects the next task.
func (p *TasksPanel) MoveDown() {
	if p.selected < len(p.rows)-1 {
		p.selected++
		p.ensureVisible()
	}
}

func (p *TasksPanel) visibleLines() int {
	// Border (2) and title (1).
	if n := p.height - 3; n > 0 {
		return n
	}
	return 1
}

func (p *TasksPanel) ensureVisible() {
	visible := p.visibleLines()
	if p.selected < p.scrollOffset {
		p.scrollOffset = p.selected
	}
	if p.selected >= p.scrollOffset+visible {
		p.scrollOffset = p.selected - visible + 1
	}
}

// View renders the panel.
func (p *TasksPanel) View() string {
	var b strings.Builder
	b.WriteString(p.titleStyle.Render(fmt.Sprintf("Tasks (%d)", len(p.rows))))
	b.WriteString("\n")

	if len(p.rows) == 0 {
		b.WriteString(p.pendingStyle.Italic(true).Render("  No tasks"))
	}

	end := p.scrollOffset + p.visibleLines()
	if end > len(p.rows) {
		end = len(p.rows)
	}
	for i := p.scrollOffset; i < end; i++ {
		line := p.renderRow(p.rows[i])
		if i == p.selected {
			line = p.selectedStyle.Render(line)
		}
		b.WriteString(line)
		if i < end-1 {
			b.WriteString("\n")
		}
	}

	inner := p.width - 2
	if inner < 1 {
		inner = 1
	}
	return p.borderStyle.Width(inner).Render(b.String())
}

func (p *TasksPanel) renderRow(r TaskRow) string {
	icon, style := p.statusIcon(r)

	step := string(r.Step)
	if r.AwaitingCritique {
		step += " (awaiting critique)"
	}

	titleWidth := min(max(p.width/3, 10), 40)
	title := truncate(r.Title, titleWidth)

	line := fmt.Sprintf(" %s %-*s %s %3d%% %s",
		style.Render(icon),
		titleWidth, title,
		p.bar.ViewAs(float64(r.Progress)/100),
		r.Progress,
		p.stepStyle.Render(step),
	)
	if r.Status == models.TaskStatusFailed && r.Error != "" {
		line += " " + p.failedStyle.Render(truncate(r.Error, 40))
	}
	return line
}

func (p *TasksPanel) statusIcon(r TaskRow) (string, lipgloss.Style) {
	if r.AwaitingCritique {
		return "?", p.pausedStyle
	}
	switch r.Status {
	case models.TaskStatusInProgress:
		return "●", p.runningStyle
	case models.TaskStatusCompleted:
		return "✓", p.doneStyle
	case models.TaskStatusFailed:
		return "✗", p.failedStyle
	case models.TaskStatusPaused:
		return "‖", p.pausedStyle
	default:
		return "○", p.pendingStyle
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
