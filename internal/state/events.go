package state

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// TaskEventType classifies a recorded task event.
type TaskEventType string

const (
	EventStepStarted   TaskEventType = "step_started"
	EventStepCompleted TaskEventType = "step_completed"
	EventStepFailed    TaskEventType = "step_failed"
	EventStepRetried   TaskEventType = "step_retried"
	EventTaskCompleted TaskEventType = "task_completed"
	EventTaskFailed    TaskEventType = "task_failed"
)

// TaskEvent is an audit record of something that happened to a task.
type TaskEvent struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	TaskID    string          `json:"task_id"`
	Step      models.StepName `json:"step,omitempty"`
	Type      TaskEventType   `json:"type"`
	Message   string          `json:"message,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// RecordEvent appends an event to the task event log.
func (db *DB) RecordEvent(ctx context.Context, ev *TaskEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	_, err := db.exec(ctx, `
		INSERT INTO task_events (id, project_id, task_id, step, type, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.ProjectID, ev.TaskID, string(ev.Step), string(ev.Type), ev.Message, formatTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// ListEvents returns a project's most recent events, newest first.
// A limit of zero or less returns every event.
func (db *DB) ListEvents(ctx context.Context, projectID string, limit int) ([]TaskEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.query(ctx, `
		SELECT id, project_id, task_id, step, type, message, created_at
		FROM task_events WHERE project_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []TaskEvent
	for rows.Next() {
		var ev TaskEvent
		var step, message *string
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.ProjectID, &ev.TaskID, &step, &ev.Type, &message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if step != nil {
			ev.Step = models.StepName(*step)
		}
		if message != nil {
			ev.Message = *message
		}
		ev.CreatedAt, _ = parseTime(createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CompletedSteps returns the steps recorded as completed for a task, in
// completion order and without duplicates.
func (db *DB) CompletedSteps(ctx context.Context, taskID string) ([]models.StepName, error) {
	rows, err := db.query(ctx, `
		SELECT step FROM task_events
		WHERE task_id = ? AND type = ?
		ORDER BY created_at, rowid
	`, taskID, string(EventStepCompleted))
	if err != nil {
		return nil, fmt.Errorf("list completed steps: %w", err)
	}
	defer rows.Close()

	seen := make(map[models.StepName]bool)
	var steps []models.StepName
	for rows.Next() {
		var step string
		if err := rows.Scan(&step); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		s := models.StepName(step)
		if !seen[s] {
			seen[s] = true
			steps = append(steps, s)
		}
	}
	return steps, rows.Err()
}
