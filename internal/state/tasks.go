package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("not found")

const taskColumns = `id, project_id, title, description, status, priority, agent_type, depends_on, error, created_at, updated_at`

// SyncTasks upserts the plan's tasks for a project in one transaction.
// Definitions are overwritten; a stored status and error survive so an
// interrupted run resumes where it stopped.
func (db *DB) SyncTasks(ctx context.Context, projectID string, tasks []*models.Task) error {
	now := time.Now()
	return db.transaction(ctx, func(tx *sql.Tx) error {
		for _, t := range tasks {
			dependsOn, _ := json.Marshal(t.Dependencies)
			status := t.Status
			if status == "" {
				status = models.TaskStatusPending
			}
			createdAt := t.CreatedAt
			if createdAt.IsZero() {
				createdAt = now
			}

			_, err := tx.ExecContext(ctx, `
				INSERT INTO tasks (`+taskColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					project_id = excluded.project_id,
					title = excluded.title,
					description = excluded.description,
					priority = excluded.priority,
					agent_type = excluded.agent_type,
					depends_on = excluded.depends_on,
					updated_at = excluded.updated_at
			`, t.ID, projectID, t.Title, t.Description, string(status), t.Priority, string(t.AgentType),
				string(dependsOn), t.Error, formatTime(createdAt), formatTime(now))
			if err != nil {
				return fmt.Errorf("sync task %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// UpdateTaskStatus sets a task's status and last error.
func (db *DB) UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, errMsg string) error {
	res, err := db.exec(ctx, `
		UPDATE tasks SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, string(status), errMsg, formatTime(time.Now()), taskID)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

// GetTask retrieves a task by ID. Returns nil if it does not exist.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := db.queryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// GetTasksByProject lists a project's tasks in insertion order.
func (db *DB) GetTasksByProject(ctx context.Context, projectID string) ([]*models.Task, error) {
	rows, err := db.query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY rowid
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by project: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks by project: %w", err)
	}
	return tasks, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(s rowScanner) (*models.Task, error) {
	var t models.Task
	var status, createdAt, updatedAt string
	var description, agentType, dependsOn, errMsg sql.NullString

	if err := s.Scan(&t.ID, &t.ProjectID, &t.Title, &description, &status, &t.Priority,
		&agentType, &dependsOn, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	t.Status = models.TaskStatus(status)
	t.Description = description.String
	t.AgentType = models.AgentType(agentType.String)
	t.Error = errMsg.String
	if dependsOn.Valid && dependsOn.String != "" {
		_ = json.Unmarshal([]byte(dependsOn.String), &t.Dependencies)
	}
	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt, _ = parseTime(updatedAt)
	return &t, nil
}
