package state

import (
	"context"
	"io"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// TaskStore handles task persistence.
type TaskStore interface {
	SyncTasks(ctx context.Context, projectID string, tasks []*models.Task) error
	UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, errMsg string) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	GetTasksByProject(ctx context.Context, projectID string) ([]*models.Task, error)
}

// StatusStore persists orchestrator status snapshots.
type StatusStore interface {
	PersistProjectStatus(ctx context.Context, projectID string, snap *models.StatusSnapshot) error
	// GetProjectStatus returns nil when no snapshot has been stored.
	GetProjectStatus(ctx context.Context, projectID string) (*models.StatusSnapshot, error)
}

// EventStore records the task event log.
type EventStore interface {
	RecordEvent(ctx context.Context, ev *TaskEvent) error
	ListEvents(ctx context.Context, projectID string, limit int) ([]TaskEvent, error)
	CompletedSteps(ctx context.Context, taskID string) ([]models.StepName, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store defines the persistence the orchestrator depends on. It composes
// focused sub-interfaces so components can depend on only what they use.
type Store interface {
	io.Closer
	Migrator
	TaskStore
	StatusStore
	EventStore
	ResetInterruptedTasks(ctx context.Context, projectID string) (int64, error)
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store       = (*DB)(nil)
	_ Migrator    = (*DB)(nil)
	_ TaskStore   = (*DB)(nil)
	_ StatusStore = (*DB)(nil)
	_ EventStore  = (*DB)(nil)
)
