package models

import (
	"testing"
	"time"
)

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"in_progress is valid", TaskStatusInProgress, true},
		{"completed is valid", TaskStatusCompleted, true},
		{"failed is valid", TaskStatusFailed, true},
		{"paused is valid", TaskStatusPaused, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"unknown status is invalid", TaskStatus("unknown"), false},
		{"done is not a task status", TaskStatus("done"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPending, false},
		{TaskStatusInProgress, false},
		{TaskStatusPaused, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("TaskStatus(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTask_Clone(t *testing.T) {
	task := &Task{
		ID:           "task-1",
		Title:        "Build API",
		Status:       TaskStatusPending,
		Dependencies: []string{"task-0"},
		CreatedAt:    time.Now(),
	}

	c := task.Clone()
	c.Dependencies[0] = "changed"
	c.Status = TaskStatusFailed

	if task.Dependencies[0] != "task-0" {
		t.Errorf("Clone shares dependencies slice: got %q", task.Dependencies[0])
	}
	if task.Status != TaskStatusPending {
		t.Errorf("Clone mutated original status: got %q", task.Status)
	}

	var nilTask *Task
	if nilTask.Clone() != nil {
		t.Error("Clone of nil task should be nil")
	}
}
