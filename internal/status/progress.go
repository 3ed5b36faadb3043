package status

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// maxProgressLookups bounds concurrent workflow progress lookups.
const maxProgressLookups = 8

// GetProjectProgress tallies the project's tasks by status. A store failure
// yields zeroed progress. The result is cached for CachedProjectProgress.
func (m *Manager) GetProjectProgress(ctx context.Context, projectID string) models.ProjectProgress {
	if m.store == nil {
		return models.ProjectProgress{}
	}

	tasks, err := m.store.GetTasksByProject(ctx, projectID)
	if err != nil {
		log.Printf("[status] load tasks for %s: %v", projectID, err)
		return models.ProjectProgress{}
	}

	p := tally(tasks)
	m.cache.Add(projectID, p)
	m.metrics.observeProgress(p)
	return p
}

// CachedProjectProgress returns the last computed progress for a project if
// it has not expired.
func (m *Manager) CachedProjectProgress(projectID string) (models.ProjectProgress, bool) {
	return m.cache.Get(projectID)
}

func tally(tasks []*models.Task) models.ProjectProgress {
	p := models.ProjectProgress{TotalTasks: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusCompleted:
			p.CompletedTasks++
		case models.TaskStatusInProgress:
			p.RunningTasks++
		case models.TaskStatusPending:
			p.PendingTasks++
		case models.TaskStatusPaused:
			p.PausedTasks++
		case models.TaskStatusFailed:
			p.ErrorTasks++
		}
	}
	if p.TotalTasks > 0 {
		p.ProgressPercentage = p.CompletedTasks * 100 / p.TotalTasks
	}
	return p
}

// GetWorkflowProgress returns the task's workflow completion percentage, or
// nil when the task has no workflow state.
func (m *Manager) GetWorkflowProgress(taskID string) *int {
	if m.workflow == nil {
		return nil
	}
	pct, err := m.workflow.GetWorkflowProgress(taskID)
	if err != nil {
		return nil
	}
	return &pct
}

// GetMultipleWorkflowProgresses looks up workflow progress for each task
// concurrently. Every requested ID has an entry; failures map to nil.
func (m *Manager) GetMultipleWorkflowProgresses(taskIDs []string) map[string]*int {
	out := make(map[string]*int, len(taskIDs))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(maxProgressLookups)
	for _, id := range taskIDs {
		g.Go(func() error {
			p := m.GetWorkflowProgress(id)
			mu.Lock()
			out[id] = p
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// GetActiveSessionStatuses lists live sessions. Provider failures yield an empty list.
func (m *Manager) GetActiveSessionStatuses(ctx context.Context) []models.SessionInfo {
	if m.sessions == nil {
		return nil
	}
	sessions, err := m.sessions.ListActiveSessions(ctx)
	if err != nil {
		log.Printf("[status] list sessions: %v", err)
		return nil
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// GetInactiveSessions returns sessions created longer ago than threshold.
func (m *Manager) GetInactiveSessions(ctx context.Context, threshold time.Duration) []models.SessionInfo {
	cutoff := time.Now().Add(-threshold)
	var inactive []models.SessionInfo
	for _, s := range m.GetActiveSessionStatuses(ctx) {
		if !s.CreatedAt.IsZero() && s.CreatedAt.Before(cutoff) {
			inactive = append(inactive, s)
		}
	}
	return inactive
}
