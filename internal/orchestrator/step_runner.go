package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/agent"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/state"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/status"
	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// runTask walks a task through its remaining workflow steps.
func (o *Orchestrator) runTask(ctx context.Context, task *models.Task) error {
	wf := o.workflowManager()

	o.updateTaskStatus(ctx, task.ID, models.TaskStatusInProgress, "")
	o.emitter.Emit(OrchestratorEvent{
		Type:      EventTaskStarted,
		TaskID:    task.ID,
		TaskTitle: task.Title,
		Message:   fmt.Sprintf("Task started: %s", task.Title),
	})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		step, err := wf.CurrentStep(task.ID)
		if err != nil {
			return err
		}
		if step == models.StepComplete {
			return nil
		}
		if err := o.runStepWithRetries(ctx, task, step); err != nil {
			return err
		}
	}
}

// runStepWithRetries runs a step until it succeeds, the failure is not
// recoverable, or MaxStepRetries retries have been used.
func (o *Orchestrator) runStepWithRetries(ctx context.Context, task *models.Task, step models.StepName) error {
	wf := o.workflowManager()
	maxRetries := o.cfg.Orchestrator.MaxStepRetries

	for attempt := 1; ; attempt++ {
		err := o.runStep(ctx, task, step, attempt)
		if err == nil {
			o.metrics.IncStepOutcome(step, "completed")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isInterruption(err) {
			return err
		}

		o.recordEvent(ctx, task.ID, step, state.EventStepFailed, err.Error())
		if errors.Is(err, ErrCritiqueRejected) {
			o.metrics.IncStepOutcome(step, "rejected")
			return err
		}

		rec := wf.HandleStepError(task.ID, step, err)
		if !rec.CanRetry || attempt > maxRetries {
			o.metrics.IncStepOutcome(step, "failed")
			return fmt.Errorf("step %s failed after %d attempt(s): %w", step, attempt, err)
		}

		o.metrics.IncStepOutcome(step, "retried")
		o.logger.Log("[step] task %s step %s attempt %d failed, retrying: %v", task.ID, step, attempt, err)
		o.recordEvent(ctx, task.ID, step, state.EventStepRetried, fmt.Sprintf("attempt %d: %v", attempt+1, err))
		o.emitter.Emit(OrchestratorEvent{
			Type:      EventStepRetried,
			TaskID:    task.ID,
			TaskTitle: task.Title,
			Step:      step,
			Message:   fmt.Sprintf("Retrying %s (attempt %d)", step, attempt+1),
			Error:     err,
		})

		if o.cfg.Orchestrator.RemediateFailures {
			o.remediate(ctx, task, step, err)
		}
	}
}

// runStep provisions an agent for one attempt of a step, executes it and
// tears the agent down before advancing the workflow.
func (o *Orchestrator) runStep(ctx context.Context, task *models.Task, step models.StepName, attempt int) error {
	if err := o.pauseCtrl.WaitIfPaused(ctx); err != nil {
		return err
	}
	if err := o.checkBudget(); err != nil {
		return err
	}

	wf := o.workflowManager()
	cfg, _ := wf.StepConfig(step)
	agentType := stepAgentType(cfg, task)

	if wf.ShouldPauseForCritique(task.ID, step) && !o.critiqueApproved(task.ID, step) {
		if err := o.awaitCritique(ctx, task, step, agentType); err != nil {
			return err
		}
	}

	wfState, _ := wf.GetTaskState(task.ID)
	agentCtx := &agent.Context{
		TaskID:    task.ID,
		Step:      step,
		AgentType: agentType,
		Role:      string(agentType),
		Data: map[string]any{
			"title":           task.Title,
			"description":     task.Description,
			"priority":        task.Priority,
			"dependencies":    task.Dependencies,
			"completed_steps": wfState.CompletedSteps,
			"attempt":         attempt,
		},
	}

	o.recordEvent(ctx, task.ID, step, state.EventStepStarted, fmt.Sprintf("attempt %d", attempt))
	o.emitter.Emit(OrchestratorEvent{
		Type:      EventStepStarted,
		TaskID:    task.ID,
		TaskTitle: task.Title,
		Step:      step,
		AgentType: agentType,
		Message:   fmt.Sprintf("%s started by %s", step, agentType),
	})

	spawned := o.spawner.SpawnAgent(ctx, task, agentType, agentCtx)
	if !spawned.Success {
		return fmt.Errorf("spawn %s agent: %s", agentType, spawned.Error)
	}

	result, execErr := o.executor.Execute(ctx, StepRequest{
		Task:      task,
		Step:      step,
		AgentType: agentType,
		Attempt:   attempt,
		Agent:     spawned,
	})
	if err := o.spawner.CleanupAgent(context.WithoutCancel(ctx), task.ID); err != nil {
		o.logger.Log("[step] cleanup agent for task %s: %v", task.ID, err)
	}
	if execErr != nil {
		return execErr
	}

	newly, err := wf.CompleteStep(task.ID, step)
	if err != nil {
		return err
	}
	if newly {
		o.stepCompleted(ctx, task, step, result)
	}
	return nil
}

func (o *Orchestrator) stepCompleted(ctx context.Context, task *models.Task, step models.StepName, result StepResult) {
	progress, _ := o.GetWorkflowProgress(task.ID)
	msg := fmt.Sprintf("completed in %s", result.Duration.Round(time.Millisecond))
	if result.Cost > 0 {
		msg += fmt.Sprintf(", cost $%.2f", result.Cost)
	}

	o.recordEvent(ctx, task.ID, step, state.EventStepCompleted, msg)
	o.status.PublishProgress(status.ProgressUpdate{
		TaskID:   task.ID,
		Step:     string(step),
		Progress: progress,
		Message:  msg,
	})
	o.emitter.Emit(OrchestratorEvent{
		Type:      EventStepCompleted,
		TaskID:    task.ID,
		TaskTitle: task.Title,
		Step:      step,
		Progress:  progress,
		Message:   fmt.Sprintf("%s %s", step, msg),
		Cost:      o.budget.GetCurrentBudget().Used,
	})
}

// awaitCritique holds the task paused until the gate decides.
func (o *Orchestrator) awaitCritique(ctx context.Context, task *models.Task, step models.StepName, agentType models.AgentType) error {
	wf := o.workflowManager()
	wfState, _ := wf.GetTaskState(task.ID)
	g := o.dependencyGraph()

	g.SetStatus(task.ID, models.TaskStatusPaused, "")
	o.updateTaskStatus(ctx, task.ID, models.TaskStatusPaused, "")
	o.emitter.Emit(OrchestratorEvent{
		Type:      EventCritiqueRequested,
		TaskID:    task.ID,
		TaskTitle: task.Title,
		Step:      step,
		Message:   fmt.Sprintf("%s awaits critique", step),
	})

	decision, err := o.critique.Request(ctx, CritiqueRequest{
		TaskID:         task.ID,
		TaskTitle:      task.Title,
		Step:           step,
		AgentType:      agentType,
		CompletedSteps: wfState.CompletedSteps,
	})
	if err != nil {
		return err
	}

	g.SetStatus(task.ID, models.TaskStatusInProgress, "")
	o.updateTaskStatus(ctx, task.ID, models.TaskStatusInProgress, "")
	o.emitter.Emit(OrchestratorEvent{
		Type:      EventCritiqueResolved,
		TaskID:    task.ID,
		TaskTitle: task.Title,
		Step:      step,
		Message:   fmt.Sprintf("%s critique by %s: approved=%t", step, decision.DecidedBy, decision.Approved),
	})

	if !decision.Approved {
		return fmt.Errorf("%w: %s %s: %s", ErrCritiqueRejected, task.ID, step, decision.Reason)
	}
	return nil
}

func (o *Orchestrator) critiqueApproved(taskID string, step models.StepName) bool {
	for _, d := range o.critique.Decisions(taskID) {
		if d.Step == step && d.Approved {
			return true
		}
	}
	return false
}

// remediate runs a debugger agent against the failed step before it is
// retried. The debugger branches from the task branch, and its commits are
// adopted back onto the task branch so the retry starts from the fix.
// Remediation failures are logged and never fail the task.
func (o *Orchestrator) remediate(ctx context.Context, task *models.Task, step models.StepName, stepErr error) {
	if err := o.checkBudget(); err != nil {
		return
	}

	spawned := o.spawner.SpawnSpecializedAgent(ctx, agent.SpecializedConfig{
		TaskID:     task.ID,
		AgentType:  models.AgentDebugger,
		BaseBranch: o.spawner.TaskBranch(task.ID),
		Context: &agent.Context{
			TaskID:    task.ID,
			Step:      step,
			AgentType: models.AgentDebugger,
			Role:      "remediation",
			Data: map[string]any{
				"title":       task.Title,
				"failed_step": step,
				"error":       stepErr.Error(),
			},
		},
	})
	if !spawned.Success {
		o.logger.Log("[step] remediation agent for task %s: %s", task.ID, spawned.Error)
		return
	}
	defer func() {
		if err := o.spawner.CleanupAgent(context.WithoutCancel(ctx), task.ID); err != nil {
			o.logger.Log("[step] cleanup remediation agent for task %s: %v", task.ID, err)
		}
	}()

	if _, err := o.executor.Execute(ctx, StepRequest{
		Task:      task,
		Step:      step,
		AgentType: models.AgentDebugger,
		Agent:     spawned,
	}); err != nil {
		o.logger.Log("[step] remediation of task %s step %s failed: %v", task.ID, step, err)
		return
	}

	if err := o.spawner.AdoptBranch(ctx, task.ID, spawned.Branch); err != nil {
		o.logger.Log("[step] adopt remediation branch for task %s: %v", task.ID, err)
	}
}

// stepAgentType picks the agent for a step: the step's configured role,
// then the task's preferred role, then a coder.
func stepAgentType(cfg models.WorkflowStepConfig, task *models.Task) models.AgentType {
	if cfg.AgentType != "" {
		return cfg.AgentType
	}
	if task.AgentType != "" {
		return task.AgentType
	}
	return models.AgentCoder
}
