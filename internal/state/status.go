package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// PersistProjectStatus stores the latest status snapshot for a project,
// replacing any earlier one.
func (db *DB) PersistProjectStatus(ctx context.Context, projectID string, snap *models.StatusSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}

	progress, err := json.Marshal(snap.Progress)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	health, err := json.Marshal(snap.Health)
	if err != nil {
		return fmt.Errorf("encode health: %w", err)
	}

	_, err = db.exec(ctx, `
		INSERT INTO project_status (project_id, snapshot_id, status, last_error, progress, health, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			snapshot_id = excluded.snapshot_id,
			status = excluded.status,
			last_error = excluded.last_error,
			progress = excluded.progress,
			health = excluded.health,
			updated_at = excluded.updated_at
	`, projectID, snap.ID, string(snap.Status), snap.LastError, string(progress), string(health), formatTime(snap.UpdatedAt))
	if err != nil {
		return fmt.Errorf("persist project status: %w", err)
	}
	return nil
}

// GetProjectStatus returns the stored snapshot for a project, or nil if none exists.
func (db *DB) GetProjectStatus(ctx context.Context, projectID string) (*models.StatusSnapshot, error) {
	row := db.queryRow(ctx, `
		SELECT snapshot_id, status, last_error, progress, health, updated_at
		FROM project_status WHERE project_id = ?
	`, projectID)

	snap := models.StatusSnapshot{ProjectID: projectID}
	var status, updatedAt string
	var lastError, progress, health sql.NullString
	err := row.Scan(&snap.ID, &status, &lastError, &progress, &health, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project status: %w", err)
	}

	snap.Status = models.OrchestratorStatus(status)
	snap.LastError = lastError.String
	if progress.Valid {
		if err := json.Unmarshal([]byte(progress.String), &snap.Progress); err != nil {
			return nil, fmt.Errorf("decode progress: %w", err)
		}
	}
	if health.Valid {
		if err := json.Unmarshal([]byte(health.String), &snap.Health); err != nil {
			return nil, fmt.Errorf("decode health: %w", err)
		}
	}
	snap.UpdatedAt, _ = parseTime(updatedAt)
	return &snap, nil
}
