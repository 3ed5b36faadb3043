package models

import "time"

// OrchestratorStatus is the lifecycle state reported by the status manager.
type OrchestratorStatus string

const (
	StatusIdle        OrchestratorStatus = "idle"
	StatusInitialized OrchestratorStatus = "initialized"
	StatusRunning     OrchestratorStatus = "running"
	StatusCompleted   OrchestratorStatus = "completed"
	StatusError       OrchestratorStatus = "error"
	StatusShutdown    OrchestratorStatus = "shutdown"
)

// Valid returns true if the status is a known value.
func (s OrchestratorStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusInitialized, StatusRunning, StatusCompleted, StatusError, StatusShutdown:
		return true
	default:
		return false
	}
}

// ProjectProgress is a derived snapshot of task counts for a project.
type ProjectProgress struct {
	TotalTasks         int `json:"total_tasks"`
	CompletedTasks     int `json:"completed_tasks"`
	RunningTasks       int `json:"running_tasks"`
	PendingTasks       int `json:"pending_tasks"`
	PausedTasks        int `json:"paused_tasks"`
	ErrorTasks         int `json:"error_tasks"`
	ProgressPercentage int `json:"progress_percentage"`
}

// SystemHealth is a derived snapshot of orchestrator health.
type SystemHealth struct {
	OrchestratorStatus   OrchestratorStatus `json:"orchestrator_status"`
	ActiveSessionsCount  int                `json:"active_sessions_count"`
	TotalTasksInProgress int                `json:"total_tasks_in_progress"`
	BudgetUtilization    float64            `json:"budget_utilization"`
	ErrorRate            float64            `json:"error_rate"`
	LastHealthCheck      time.Time          `json:"last_health_check"`
}

// Budget is the cost ceiling and consumption, in dollars.
type Budget struct {
	Allocated float64 `json:"allocated"`
	Used      float64 `json:"used"`
	Remaining float64 `json:"remaining"`
}

// Utilization returns used/allocated as a percentage, or 0 with no allocation.
func (b Budget) Utilization() float64 {
	if b.Allocated <= 0 {
		return 0
	}
	return b.Used / b.Allocated * 100
}

// StatusSnapshot is the persisted form of the orchestrator status.
type StatusSnapshot struct {
	ID        string             `json:"id"`
	ProjectID string             `json:"project_id"`
	Status    OrchestratorStatus `json:"status"`
	LastError string             `json:"last_error,omitempty"`
	Progress  ProjectProgress    `json:"progress"`
	Health    SystemHealth       `json:"health"`
	UpdatedAt time.Time          `json:"updated_at"`
}
