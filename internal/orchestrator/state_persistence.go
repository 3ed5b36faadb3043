package orchestrator

import (
	"context"
	"log"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/state"
	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// updateTaskStatus writes a task's status to the store. Failures are logged
// so a store hiccup never aborts the run.
func (o *Orchestrator) updateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, errMsg string) {
	ctx = context.WithoutCancel(ctx)
	if err := o.store.UpdateTaskStatus(ctx, taskID, status, errMsg); err != nil {
		log.Printf("[orchestrator] warning: failed to update task %s to %s: %v", taskID, status, err)
	}
}

// recordEvent appends to the task event log. Step completions recorded here
// are what restores workflow state on the next run.
func (o *Orchestrator) recordEvent(ctx context.Context, taskID string, step models.StepName, typ state.TaskEventType, msg string) {
	ev := &state.TaskEvent{
		ProjectID: o.ProjectID(),
		TaskID:    taskID,
		Step:      step,
		Type:      typ,
		Message:   msg,
	}
	if err := o.store.RecordEvent(context.WithoutCancel(ctx), ev); err != nil {
		log.Printf("[orchestrator] warning: failed to record %s for task %s: %v", typ, taskID, err)
	}
}
