package state

import (
	"context"
	"fmt"
	"time"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// ResetInterruptedTasks returns tasks left in_progress by a crashed run to
// pending so they are scheduled again. Returns the number of tasks reset.
func (db *DB) ResetInterruptedTasks(ctx context.Context, projectID string) (int64, error) {
	res, err := db.exec(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?
		WHERE project_id = ? AND status = ?
	`, string(models.TaskStatusPending), formatTime(time.Now()), projectID, string(models.TaskStatusInProgress))
	if err != nil {
		return 0, fmt.Errorf("reset interrupted tasks: %w", err)
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

// PurgeEvents deletes task events older than the specified duration.
// Returns the number of events deleted.
func (db *DB) PurgeEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	res, err := db.exec(ctx, `DELETE FROM task_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}
