package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates an agent is working a step of the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates every workflow step finished.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed and will not be retried.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusPaused indicates the task is waiting (critique gate, operator pause).
	TaskStatusPaused TaskStatus = "paused"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed, TaskStatusPaused:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further work will be scheduled for the task.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task represents a unit of work in a plan.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id" yaml:"id"`
	// Title is the short description of the task.
	Title string `json:"title" yaml:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status" yaml:"status,omitempty"`
	// Priority orders ready tasks; higher runs first.
	Priority int `json:"priority" yaml:"priority,omitempty"`
	// AgentType is the preferred agent role for the task, if any.
	AgentType AgentType `json:"agent_type,omitempty" yaml:"agent_type,omitempty"`
	// ProjectID is the project the task belongs to.
	ProjectID string `json:"project_id" yaml:"project_id,omitempty"`
	// Dependencies lists task IDs that must complete before this task.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
	// UpdatedAt is when the task status last changed.
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
	// Error contains the last error message if the task failed.
	Error string `json:"error,omitempty" yaml:"-"`
}

// Clone returns a copy of the task that shares no slices with the original.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Dependencies != nil {
		c.Dependencies = append([]string(nil), t.Dependencies...)
	}
	return &c
}
