package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/budget"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/orchestrator"
	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// Controller is the orchestrator surface the dashboard reads and steers.
type Controller interface {
	Tasks() []*models.Task
	GetWorkflowProgress(taskID string) (int, error)
	TaskWorkflow(taskID string) (models.TaskWorkflowState, bool)
	GetStatus() models.OrchestratorStatus
	Budget() *budget.Tracker
	Critique() *orchestrator.CritiqueGate
	IsPaused() bool
	Pause()
	Resume()
	Stop()
}

var _ Controller = (*orchestrator.Orchestrator)(nil)

// defaultRefresh is used when no refresh rate is configured.
const defaultRefresh = 500 * time.Millisecond

// Dashboard is the bubbletea model for the orchestrator dashboard.
type Dashboard struct {
	ctrl    Controller
	events  <-chan orchestrator.OrchestratorEvent
	refresh time.Duration

	tasks  *TasksPanel
	logs   *LogsPanel
	prompt *ReasonPrompt
	footer *Footer

	width    int
	height   int
	showLogs bool
	runDone  bool
	runErr   error
	quitting bool

	titleStyle lipgloss.Style
}

// NewDashboard creates a dashboard over ctrl fed by events.
func NewDashboard(ctrl Controller, events <-chan orchestrator.OrchestratorEvent, refresh time.Duration) *Dashboard {
	if refresh <= 0 {
		refresh = defaultRefresh
	}
	d := &Dashboard{
		ctrl:    ctrl,
		events:  events,
		refresh: refresh,
		tasks:   NewTasksPanel(),
		logs:    NewLogsPanel(),
		prompt:  NewReasonPrompt(),
		footer:  NewFooter(),

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Padding(0, 1),
	}
	d.resize(80, 24)
	d.sync()
	return d
}

// NewProgram creates a full-screen program running the dashboard.
func NewProgram(ctrl Controller, events <-chan orchestrator.OrchestratorEvent, refresh time.Duration) *tea.Program {
	return tea.NewProgram(NewDashboard(ctrl, events, refresh), tea.WithAltScreen())
}

// Init implements tea.Model.
func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(waitForEvent(d.events), refreshEvery(d.refresh))
}

// Update implements tea.Model.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.resize(msg.Width, msg.Height)
		return d, nil

	case tea.KeyMsg:
		if d.prompt.Active() {
			var cmd tea.Cmd
			d.prompt, cmd = d.prompt.Update(msg)
			return d, cmd
		}
		return d.handleKey(msg)

	case EventMsg:
		d.handleEvent(msg.Event)
		return d, waitForEvent(d.events)

	case eventsClosedMsg:
		d.events = nil
		return d, nil

	case RefreshMsg:
		d.sync()
		return d, refreshEvery(d.refresh)

	case ReasonSubmittedMsg:
		d.decide(msg.TaskID, false, msg.Reason)
		return d, nil
	}

	if d.showLogs {
		var cmd tea.Cmd
		d.logs, cmd = d.logs.Update(msg)
		return d, cmd
	}
	return d, nil
}

func (d *Dashboard) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		d.quitting = true
		return d, tea.Quit
	case "tab":
		d.showLogs = !d.showLogs
		d.resize(d.width, d.height)
	case "up", "k":
		if !d.showLogs {
			d.tasks.MoveUp()
			return d, nil
		}
	case "down", "j":
		if !d.showLogs {
			d.tasks.MoveDown()
			return d, nil
		}
	case "p":
		if d.ctrl.IsPaused() {
			d.ctrl.Resume()
		} else {
			d.ctrl.Pause()
		}
		d.sync()
		return d, nil
	case "s":
		if !d.runDone {
			d.ctrl.Stop()
			d.footer.SetMessage("stop requested")
		}
		return d, nil
	case "a":
		d.decide(d.critiqueTarget(), true, "approved from dashboard")
		return d, nil
	case "r":
		if id := d.critiqueTarget(); id != "" {
			return d, d.prompt.Open(id)
		}
		d.footer.SetMessage("no critique pending")
		return d, nil
	}

	if d.showLogs {
		var cmd tea.Cmd
		d.logs, cmd = d.logs.Update(msg)
		return d, cmd
	}
	return d, nil
}

// critiqueTarget returns the selected task if it awaits critique, otherwise
// the task with the oldest pending request.
func (d *Dashboard) critiqueTarget() string {
	gate := d.ctrl.Critique()
	if id := d.tasks.SelectedID(); id != "" && gate.HasPending(id) {
		return id
	}
	if pending := gate.Pending(); len(pending) > 0 {
		return pending[0].TaskID
	}
	return ""
}

func (d *Dashboard) decide(taskID string, approved bool, reason string) {
	if taskID == "" {
		d.footer.SetMessage("no critique pending")
		return
	}
	gate := d.ctrl.Critique()
	for _, req := range gate.Pending() {
		if req.TaskID != taskID {
			continue
		}
		if gate.Submit(orchestrator.CritiqueDecision{
			TaskID:    req.TaskID,
			Step:      req.Step,
			Approved:  approved,
			Reason:    reason,
			DecidedBy: "dashboard",
		}) {
			verb := "rejected"
			if approved {
				verb = "approved"
			}
			d.footer.SetMessage(fmt.Sprintf("%s %s %s", verb, req.TaskID, req.Step))
		}
		return
	}
	d.footer.SetMessage(fmt.Sprintf("no critique pending for %s", taskID))
}

func (d *Dashboard) handleEvent(ev orchestrator.OrchestratorEvent) {
	d.logs.AddEvent(ev)
	if ev.Type == orchestrator.EventRunDone {
		d.runDone = true
		d.runErr = ev.Error
		d.footer.SetRunDone(ev.Error == nil, ev.Message)
	}
	d.sync()
}

// sync re-reads task, workflow, critique and budget state.
func (d *Dashboard) sync() {
	gate := d.ctrl.Critique()
	var counts TaskCounts
	var rows []TaskRow
	for _, t := range d.ctrl.Tasks() {
		row := TaskRow{ID: t.ID, Title: t.Title, Status: t.Status, Error: t.Error}
		if wf, ok := d.ctrl.TaskWorkflow(t.ID); ok {
			row.Step = wf.CurrentStep
		}
		row.Progress, _ = d.ctrl.GetWorkflowProgress(t.ID)
		row.AwaitingCritique = gate.HasPending(t.ID)
		rows = append(rows, row)

		switch {
		case row.AwaitingCritique:
			counts.Critique++
		case t.Status == models.TaskStatusCompleted:
			counts.Done++
		case t.Status == models.TaskStatusFailed:
			counts.Failed++
		case t.Status == models.TaskStatusInProgress, t.Status == models.TaskStatusPaused:
			counts.Running++
		default:
			counts.Pending++
		}
	}
	d.tasks.SetRows(rows)
	d.footer.SetTaskCounts(counts)
	d.footer.SetState(d.ctrl.GetStatus(), d.ctrl.IsPaused(), d.ctrl.Budget().GetCurrentBudget())
}

func (d *Dashboard) resize(width, height int) {
	d.width, d.height = width, height
	d.footer.SetWidth(width)
	d.prompt.SetWidth(width)

	// Title (1), footer (1), prompt (3).
	body := max(height-5, 4)
	if d.showLogs {
		d.logs.SetSize(width, body)
		return
	}
	taskHeight := body * 3 / 5
	d.tasks.SetSize(width, taskHeight)
	d.logs.SetSize(width, body-taskHeight)
}

// RunErr returns the error the run finished with, if any.
func (d *Dashboard) RunErr() error {
	return d.runErr
}

// View implements tea.Model.
func (d *Dashboard) View() string {
	if d.quitting {
		return ""
	}

	title := d.titleStyle.Render("CortexWeaver")
	var body string
	if d.showLogs {
		body = d.logs.View()
	} else {
		body = lipgloss.JoinVertical(lipgloss.Left, d.tasks.View(), d.logs.View())
	}

	parts := []string{title, body}
	if d.prompt.Active() {
		parts = append(parts, d.prompt.View())
	}
	parts = append(parts, d.footer.View())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
