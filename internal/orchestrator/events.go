package orchestrator

import (
	"time"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTaskQueued indicates a task is ready and has been handed to a worker.
	EventTaskQueued EventType = "task_queued"
	// EventTaskStarted indicates a worker began walking the task's workflow.
	EventTaskStarted EventType = "task_started"
	// EventStepStarted indicates an agent was spawned for a step.
	EventStepStarted EventType = "step_started"
	// EventStepCompleted indicates a step finished and the workflow advanced.
	EventStepCompleted EventType = "step_completed"
	// EventStepRetried indicates a failed step will run again.
	EventStepRetried EventType = "step_retried"
	// EventTaskCompleted indicates every workflow step of a task completed.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed and will not be retried.
	EventTaskFailed EventType = "task_failed"
	// EventCritiqueRequested indicates a step is waiting on a critique decision.
	EventCritiqueRequested EventType = "critique_requested"
	// EventCritiqueResolved indicates a critique decision arrived.
	EventCritiqueResolved EventType = "critique_resolved"
	// EventBudgetWarning indicates spend crossed the warning threshold.
	EventBudgetWarning EventType = "budget_warning"
	// EventBudgetExhausted indicates spend reached the allocation and spawning halted.
	EventBudgetExhausted EventType = "budget_exhausted"
	// EventPaused indicates new spawns are suspended.
	EventPaused EventType = "paused"
	// EventResumed indicates spawning resumed after a pause.
	EventResumed EventType = "resumed"
	// EventRunDone indicates the run loop exited.
	EventRunDone EventType = "run_done"
)

// OrchestratorEvent represents an event emitted by the orchestrator.
// These events drive the dashboard and the CLI progress output.
type OrchestratorEvent struct {
	Type      EventType
	TaskID    string
	TaskTitle string
	Step      models.StepName
	AgentType models.AgentType
	// Progress is the task's workflow completion percentage, when known.
	Progress int
	Message  string
	Error    error
	// Cost is the total budget spent at the time of the event.
	Cost      float64
	Timestamp time.Time
}
