package status

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/state"
	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

const reportEventLimit = 10

// FailedTask is a failed task and its recorded error.
type FailedTask struct {
	ID    string
	Title string
	Error string
}

// Report is a point-in-time summary of the orchestrator.
type Report struct {
	ProjectID    string
	Status       models.OrchestratorStatus
	LastError    string
	Progress     models.ProjectProgress
	Health       models.SystemHealth
	Sessions     []models.SessionInfo
	FailedTasks  []FailedTask
	Issues       []string
	BudgetAlerts []string
	RecentEvents []state.TaskEvent
	GeneratedAt  time.Time
}

// GenerateStatusReport gathers progress, health, sessions, failures, alerts
// and recent events. Sections whose source fails are left empty.
func (m *Manager) GenerateStatusReport(ctx context.Context) Report {
	m.mu.RLock()
	projectID, st, lastErr := m.projectID, m.status, m.lastError
	m.mu.RUnlock()

	r := Report{
		ProjectID:   projectID,
		Status:      st,
		LastError:   lastErr,
		Health:      m.GetSystemHealth(ctx),
		Sessions:    m.GetActiveSessionStatuses(ctx),
		GeneratedAt: time.Now(),
	}

	if projectID != "" {
		if p, ok := m.CachedProjectProgress(projectID); ok {
			r.Progress = p
		} else {
			r.Progress = m.GetProjectProgress(ctx, projectID)
		}
		r.FailedTasks = m.failedTasks(ctx, projectID)
		r.RecentEvents = m.recentEvents(ctx, projectID)
	}

	r.Issues = m.DetectHealthIssues()
	r.BudgetAlerts = m.GetBudgetAlerts()
	return r
}

func (m *Manager) failedTasks(ctx context.Context, projectID string) []FailedTask {
	if m.store == nil {
		return nil
	}
	tasks, err := m.store.GetTasksByProject(ctx, projectID)
	if err != nil {
		return nil
	}
	var failed []FailedTask
	for _, t := range tasks {
		if t.Status == models.TaskStatusFailed {
			failed = append(failed, FailedTask{ID: t.ID, Title: t.Title, Error: t.Error})
		}
	}
	return failed
}

func (m *Manager) recentEvents(ctx context.Context, projectID string) []state.TaskEvent {
	lister, ok := m.store.(EventLister)
	if !ok {
		return nil
	}
	events, err := lister.ListEvents(ctx, projectID, reportEventLimit)
	if err != nil {
		log.Printf("[status] list events for %s: %v", projectID, err)
		return nil
	}
	return events
}

// String renders the report as plain text.
func (r Report) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Project: %s\n", r.ProjectID)
	fmt.Fprintf(&b, "Status: %s\n", r.Status)
	if r.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", r.LastError)
	}

	p := r.Progress
	fmt.Fprintf(&b, "\nProgress: %d%% (%d/%d tasks completed)\n", p.ProgressPercentage, p.CompletedTasks, p.TotalTasks)
	fmt.Fprintf(&b, "  running: %d  pending: %d  paused: %d  failed: %d\n", p.RunningTasks, p.PendingTasks, p.PausedTasks, p.ErrorTasks)

	h := r.Health
	fmt.Fprintf(&b, "\nHealth:\n")
	fmt.Fprintf(&b, "  active sessions: %d\n", h.ActiveSessionsCount)
	fmt.Fprintf(&b, "  tasks in progress: %d\n", h.TotalTasksInProgress)
	fmt.Fprintf(&b, "  budget utilization: %.1f%%\n", h.BudgetUtilization)
	fmt.Fprintf(&b, "  error rate: %.1f%%\n", h.ErrorRate)

	if len(r.Sessions) > 0 {
		fmt.Fprintf(&b, "\nSessions:\n")
		for _, s := range r.Sessions {
			fmt.Fprintf(&b, "  %s  task=%s  age=%s\n", s.ID, s.TaskID, r.GeneratedAt.Sub(s.CreatedAt).Truncate(time.Second))
		}
	}

	if len(r.FailedTasks) > 0 {
		fmt.Fprintf(&b, "\nFailed tasks:\n")
		for _, f := range r.FailedTasks {
			fmt.Fprintf(&b, "  %s %s: %s\n", f.ID, f.Title, f.Error)
		}
	}

	if len(r.Issues)+len(r.BudgetAlerts) > 0 {
		fmt.Fprintf(&b, "\nAlerts:\n")
		for _, a := range r.BudgetAlerts {
			fmt.Fprintf(&b, "  ! %s\n", a)
		}
		for _, i := range r.Issues {
			fmt.Fprintf(&b, "  ! %s\n", i)
		}
	}

	if len(r.RecentEvents) > 0 {
		fmt.Fprintf(&b, "\nRecent events:\n")
		for _, e := range r.RecentEvents {
			line := fmt.Sprintf("  %s  %s  %s", e.CreatedAt.Format("15:04:05"), e.TaskID, e.Type)
			if e.Step != "" {
				line += " " + string(e.Step)
			}
			if e.Message != "" {
				line += ": " + e.Message
			}
			b.WriteString(line + "\n")
		}
	}

	return b.String()
}
