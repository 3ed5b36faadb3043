package state

import (
	"context"
	"errors"
	"testing"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

func TestSyncAndGetTasks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tasks := []*models.Task{
		{ID: "b", Title: "Second", Priority: 2, AgentType: models.AgentCoder},
		{ID: "a", Title: "First", Dependencies: []string{"b"}},
	}
	if err := db.SyncTasks(ctx, "proj", tasks); err != nil {
		t.Fatalf("SyncTasks: %v", err)
	}

	got, err := db.GetTasksByProject(ctx, "proj")
	if err != nil {
		t.Fatalf("GetTasksByProject: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("expected insertion order [b a], got %+v", got)
	}
	if got[0].Status != models.TaskStatusPending {
		t.Errorf("default status = %q, want pending", got[0].Status)
	}
	if got[0].Priority != 2 || got[0].AgentType != models.AgentCoder {
		t.Errorf("fields not round-tripped: %+v", got[0])
	}
	if len(got[1].Dependencies) != 1 || got[1].Dependencies[0] != "b" {
		t.Errorf("dependencies = %v, want [b]", got[1].Dependencies)
	}

	other, err := db.GetTasksByProject(ctx, "other")
	if err != nil || len(other) != 0 {
		t.Errorf("expected no tasks for other project, got %v, %v", other, err)
	}
}

func TestSyncTasksPreservesStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.SyncTasks(ctx, "proj", []*models.Task{{ID: "a", Title: "Old"}}); err != nil {
		t.Fatalf("SyncTasks: %v", err)
	}
	if err := db.UpdateTaskStatus(ctx, "a", models.TaskStatusFailed, "boom"); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	if err := db.SyncTasks(ctx, "proj", []*models.Task{{ID: "a", Title: "New"}}); err != nil {
		t.Fatalf("second SyncTasks: %v", err)
	}

	task, err := db.GetTask(ctx, "a")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Title != "New" {
		t.Errorf("title = %q, want New", task.Title)
	}
	if task.Status != models.TaskStatusFailed || task.Error != "boom" {
		t.Errorf("status not preserved: %q %q", task.Status, task.Error)
	}
}

func TestUpdateTaskStatusMissing(t *testing.T) {
	db := setupTestDB(t)

	err := db.UpdateTaskStatus(context.Background(), "ghost", models.TaskStatusCompleted, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetTaskMissing(t *testing.T) {
	db := setupTestDB(t)

	task, err := db.GetTask(context.Background(), "ghost")
	if err != nil || task != nil {
		t.Errorf("GetTask = %v, %v; want nil, nil", task, err)
	}
}

func TestResetInterruptedTasks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tasks := []*models.Task{{ID: "a", Title: "a"}, {ID: "b", Title: "b"}, {ID: "c", Title: "c"}}
	if err := db.SyncTasks(ctx, "proj", tasks); err != nil {
		t.Fatalf("SyncTasks: %v", err)
	}
	_ = db.UpdateTaskStatus(ctx, "a", models.TaskStatusInProgress, "")
	_ = db.UpdateTaskStatus(ctx, "b", models.TaskStatusCompleted, "")

	n, err := db.ResetInterruptedTasks(ctx, "proj")
	if err != nil {
		t.Fatalf("ResetInterruptedTasks: %v", err)
	}
	if n != 1 {
		t.Errorf("reset %d tasks, want 1", n)
	}

	a, _ := db.GetTask(ctx, "a")
	b, _ := db.GetTask(ctx, "b")
	if a.Status != models.TaskStatusPending || b.Status != models.TaskStatusCompleted {
		t.Errorf("unexpected statuses a=%s b=%s", a.Status, b.Status)
	}
}
