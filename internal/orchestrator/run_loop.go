package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/budget"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/state"
	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// taskOutcome is what a worker reports when it stops working a task.
type taskOutcome struct {
	taskID string
	err    error
}

// runLoop schedules ready tasks onto at most MaxConcurrentTasks workers and
// records their outcomes. It returns nil once every task is terminal.
func (o *Orchestrator) runLoop(ctx context.Context) error {
	g := o.dependencyGraph()
	sched := NewScheduler(g, o.cfg.Orchestrator.MaxConcurrentTasks)
	sched.SetDebugLog(o.logger.Func())
	poll := o.cfg.Orchestrator.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	outcomes := make(chan taskOutcome, sched.maxWorkers)
	var wg sync.WaitGroup
	defer func() {
		cancelWorkers()
		wg.Wait()
	}()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	// Set to nil once observed so a closed channel does not spin the loop.
	stopCh, doneCh := o.stopCh, ctx.Done()
	var halt error

	for {
		if halt == nil && !o.pauseCtrl.IsPaused() {
			for _, task := range sched.Schedule() {
				if err := o.checkBudget(); err != nil {
					halt = err
					break
				}

				sched.OnTaskStart(task.ID)
				g.SetStatus(task.ID, models.TaskStatusInProgress, "")
				o.logger.Log("[runLoop] dispatching task %s (%d in flight)", task.ID, sched.RunningCount())
				o.emitter.Emit(OrchestratorEvent{
					Type:      EventTaskQueued,
					TaskID:    task.ID,
					TaskTitle: task.Title,
					Message:   fmt.Sprintf("Task queued: %s", task.Title),
				})

				wg.Add(1)
				go func() {
					defer wg.Done()
					outcomes <- taskOutcome{taskID: task.ID, err: o.runTask(workerCtx, task)}
				}()
			}
		}

		if sched.RunningCount() == 0 {
			if halt != nil {
				return halt
			}
			if !sched.HasPending() {
				if o.failBlockedTasks(ctx) > 0 {
					continue
				}
				o.logger.Log("[runLoop] no ready or in-flight tasks, exiting")
				return nil
			}
		}

		select {
		case out := <-outcomes:
			sched.OnTaskDone(out.taskID)
			if err := o.handleOutcome(ctx, out); err != nil && halt == nil {
				halt = err
			}
		case <-stopCh:
			stopCh = nil
			if halt == nil {
				halt = ErrStopped
			}
			cancelWorkers()
		case <-doneCh:
			doneCh = nil
			if halt == nil {
				halt = ctx.Err()
			}
			cancelWorkers()
		case <-ticker.C:
			o.pollSignals()
		}
	}
}

// handleOutcome records a finished worker. It returns a non-nil error when
// the outcome must stop further scheduling.
func (o *Orchestrator) handleOutcome(ctx context.Context, out taskOutcome) error {
	g := o.dependencyGraph()
	task := g.GetTask(out.taskID)
	ctx = context.WithoutCancel(ctx)

	var halt error
	switch {
	case out.err == nil:
		g.SetStatus(out.taskID, models.TaskStatusCompleted, "")
		o.updateTaskStatus(ctx, out.taskID, models.TaskStatusCompleted, "")
		o.recordEvent(ctx, out.taskID, "", state.EventTaskCompleted, "")
		o.emitter.Emit(OrchestratorEvent{
			Type:      EventTaskCompleted,
			TaskID:    out.taskID,
			TaskTitle: task.Title,
			Progress:  100,
			Message:   fmt.Sprintf("Task completed: %s", task.Title),
			Cost:      o.budget.GetCurrentBudget().Used,
		})

	case isInterruption(out.err):
		g.SetStatus(out.taskID, models.TaskStatusPending, "")
		o.updateTaskStatus(ctx, out.taskID, models.TaskStatusPending, "")
		o.logger.Log("[runLoop] task %s interrupted: %v", out.taskID, out.err)
		if errors.Is(out.err, ErrBudgetExhausted) {
			halt = ErrBudgetExhausted
		}

	default:
		msg := out.err.Error()
		g.SetStatus(out.taskID, models.TaskStatusFailed, msg)
		o.updateTaskStatus(ctx, out.taskID, models.TaskStatusFailed, msg)
		o.recordEvent(ctx, out.taskID, "", state.EventTaskFailed, msg)
		o.emitter.Emit(OrchestratorEvent{
			Type:      EventTaskFailed,
			TaskID:    out.taskID,
			TaskTitle: task.Title,
			Message:   fmt.Sprintf("Task failed: %s", task.Title),
			Error:     out.err,
		})
	}

	o.status.GetProjectProgress(ctx, o.ProjectID())
	if err := o.status.PersistStatus(ctx); err != nil {
		o.logger.Log("[runLoop] persist status: %v", err)
	}
	return halt
}

// failBlockedTasks fails every non-terminal task with a failed dependency and
// returns how many it failed. Chains fail one level per call.
func (o *Orchestrator) failBlockedTasks(ctx context.Context) int {
	g := o.dependencyGraph()
	ctx = context.WithoutCancel(ctx)

	n := 0
	for _, t := range g.Tasks() {
		if t.Status.Terminal() {
			continue
		}
		dep, blocked := g.FailedDependency(t.ID)
		if !blocked {
			continue
		}
		msg := fmt.Sprintf("blocked by failed dependency %s", dep)
		g.SetStatus(t.ID, models.TaskStatusFailed, msg)
		o.updateTaskStatus(ctx, t.ID, models.TaskStatusFailed, msg)
		o.recordEvent(ctx, t.ID, "", state.EventTaskFailed, msg)
		o.emitter.Emit(OrchestratorEvent{Type: EventTaskFailed, TaskID: t.ID, TaskTitle: t.Title, Message: msg})
		n++
	}
	return n
}

// checkBudget returns ErrBudgetExhausted once spend reaches the allocation.
// The first detection emits EventBudgetExhausted.
func (o *Orchestrator) checkBudget() error {
	b := o.budget.GetCurrentBudget()
	switch o.budget.Check() {
	case budget.StatusExhausted:
		if o.budget.MarkExhausted() {
			msg := fmt.Sprintf("budget exhausted: $%.2f of $%.2f used", b.Used, b.Allocated)
			o.logger.Log("[orchestrator] %s", msg)
			o.emitter.Emit(OrchestratorEvent{Type: EventBudgetExhausted, Message: msg, Error: ErrBudgetExhausted, Cost: b.Used})
		}
		return ErrBudgetExhausted
	case budget.StatusWarning:
		if o.budgetWarned.CompareAndSwap(false, true) {
			o.emitter.Emit(OrchestratorEvent{
				Type:    EventBudgetWarning,
				Message: fmt.Sprintf("budget warning: $%.2f of $%.2f used", b.Used, b.Allocated),
				Cost:    b.Used,
			})
		}
	}
	if o.budget.IsExhausted() {
		return ErrBudgetExhausted
	}
	return nil
}

func (o *Orchestrator) pollSignals() {
	o.mu.RLock()
	sw := o.signals
	o.mu.RUnlock()
	if sw != nil {
		sw.Poll()
	}
}

// isInterruption reports errors that end a worker without failing its task.
func isInterruption(err error) bool {
	return errors.Is(err, ErrBudgetExhausted) ||
		errors.Is(err, ErrStopped) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
