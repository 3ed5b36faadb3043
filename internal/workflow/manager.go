// Package workflow owns the step state machine that every task walks through.
//
// Steps are configured once as a DAG of prerequisites. The Manager computes a
// topological order at configuration time; a task's current step is always
// the first step in that order it has not completed. Per-task state lives in
// a sharded map so unrelated tasks never contend on the same lock.
package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// DefaultStepEstimate is the per-step duration used by EstimateRemainingTime.
const DefaultStepEstimate = 15 * time.Minute

// RecoveryResult classifies a step failure.
type RecoveryResult struct {
	// RecoveryAttempted is true when the step allows error recovery.
	RecoveryAttempted bool
	// CanRetry is true when the caller may run the step again.
	CanRetry bool
}

// Manager tracks step configuration and per-task workflow state.
type Manager struct {
	// mu guards configs, registered and order.
	mu sync.RWMutex
	// configs maps step name to its configuration.
	configs map[models.StepName]models.WorkflowStepConfig
	// registered preserves first-registration order, used to break ties.
	registered []models.StepName
	// order is the validated topological order of configured steps.
	order []models.StepName

	stepEstimate time.Duration

	// states maps task ID to *taskEntry.
	states sync.Map

	debugLog func(format string, args ...interface{})
}

// taskEntry is the single-writer cell for one task's state.
type taskEntry struct {
	mu        sync.RWMutex
	state     models.TaskWorkflowState
	completed map[models.StepName]bool
}

// NewManager creates a Manager with no steps configured.
// A non-positive stepEstimate falls back to DefaultStepEstimate.
func NewManager(stepEstimate time.Duration) *Manager {
	if stepEstimate <= 0 {
		stepEstimate = DefaultStepEstimate
	}
	return &Manager{
		configs:      make(map[models.StepName]models.WorkflowStepConfig),
		stepEstimate: stepEstimate,
		debugLog:     func(format string, args ...interface{}) {},
	}
}

// NewDefaultManager creates a Manager configured with DefaultSteps.
func NewDefaultManager(stepEstimate time.Duration) *Manager {
	m := NewManager(stepEstimate)
	for _, cfg := range DefaultSteps() {
		if err := m.ConfigureStep(cfg); err != nil {
			panic(fmt.Sprintf("workflow: invalid default step: %v", err))
		}
	}
	return m
}

// SetDebugLog sets the debug logging function.
func (m *Manager) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		m.debugLog = fn
	}
}

// ConfigureStep registers or overwrites a step configuration. Configurations
// that reference themselves, repeat a prerequisite, or close a cycle with the
// already configured steps are rejected and leave the Manager unchanged.
// Tasks that are already initialized see a newly added step as their next
// step once its prerequisites are complete.
func (m *Manager) ConfigureStep(cfg models.WorkflowStepConfig) error {
	if cfg.Step == "" || cfg.Step == models.StepComplete {
		return &ConfigError{Step: cfg.Step, Reason: "reserved or empty step name"}
	}

	seen := make(map[models.StepName]bool, len(cfg.RequiredPreviousSteps))
	for _, prev := range cfg.RequiredPreviousSteps {
		if prev == cfg.Step {
			return &ConfigError{Step: cfg.Step, Reason: "step requires itself", Err: ErrStepCycle}
		}
		if seen[prev] {
			return &ConfigError{Step: cfg.Step, Reason: fmt.Sprintf("duplicate prerequisite %q", prev)}
		}
		seen[prev] = true
	}

	cfg.RequiredPreviousSteps = append([]models.StepName(nil), cfg.RequiredPreviousSteps...)

	m.mu.Lock()
	defer m.mu.Unlock()

	candidate := make(map[models.StepName]models.WorkflowStepConfig, len(m.configs)+1)
	for k, v := range m.configs {
		candidate[k] = v
	}
	candidate[cfg.Step] = cfg

	registered := m.registered
	if _, exists := m.configs[cfg.Step]; !exists {
		registered = append(append([]models.StepName(nil), m.registered...), cfg.Step)
	}

	order, err := topoOrder(candidate, registered)
	if err != nil {
		return &ConfigError{Step: cfg.Step, Reason: "prerequisites rejected", Err: err}
	}

	m.configs = candidate
	m.registered = registered
	m.order = order
	m.debugLog("[workflow] configured step %s, order now %v", cfg.Step, order)
	return nil
}

// topoOrder returns the configured steps in dependency order. Among steps
// that are ready at the same time, registration order wins. Prerequisites
// naming unconfigured steps do not constrain the order; Validate reports them.
func topoOrder(configs map[models.StepName]models.WorkflowStepConfig, registered []models.StepName) ([]models.StepName, error) {
	placed := make(map[models.StepName]bool, len(registered))
	order := make([]models.StepName, 0, len(registered))

	for len(order) < len(registered) {
		progressed := false
		for _, step := range registered {
			if placed[step] {
				continue
			}
			ready := true
			for _, prev := range configs[step].RequiredPreviousSteps {
				if _, known := configs[prev]; known && !placed[prev] {
					ready = false
					break
				}
			}
			if ready {
				placed[step] = true
				order = append(order, step)
				progressed = true
				break
			}
		}
		if !progressed {
			return nil, ErrStepCycle
		}
	}
	return order, nil
}

// Validate checks that every prerequisite names a configured step and that
// at least one step exists. The orchestrator refuses to start otherwise.
func (m *Manager) Validate() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.order) == 0 {
		return &ConfigError{Reason: "no workflow steps configured"}
	}
	for _, step := range m.order {
		for _, prev := range m.configs[step].RequiredPreviousSteps {
			if _, ok := m.configs[prev]; !ok {
				return &ConfigError{Step: step, Reason: fmt.Sprintf("unknown prerequisite %q", prev)}
			}
		}
	}
	return nil
}

// Steps returns the configured steps in topological order.
func (m *Manager) Steps() []models.StepName {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.StepName(nil), m.order...)
}

// StepConfig returns the configuration for a step.
func (m *Manager) StepConfig(step models.StepName) (models.WorkflowStepConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[step]
	return cfg, ok
}

// InitializeTaskWorkflow creates, or resets, the workflow state for a task.
func (m *Manager) InitializeTaskWorkflow(taskID string) {
	first := models.StepComplete
	if steps := m.Steps(); len(steps) > 0 {
		first = steps[0]
	}

	m.states.Store(taskID, &taskEntry{
		state: models.TaskWorkflowState{
			TaskID:         taskID,
			CurrentStep:    first,
			CompletedSteps: []models.StepName{},
		},
		completed: make(map[models.StepName]bool),
	})
	m.debugLog("[workflow] initialized task %s at step %s", taskID, first)
}

// RestoreTaskWorkflow initializes a task and replays previously completed steps.
// Steps that are no longer configured are skipped.
func (m *Manager) RestoreTaskWorkflow(taskID string, completed []models.StepName) {
	m.InitializeTaskWorkflow(taskID)
	e, _ := m.entry(taskID)

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, step := range completed {
		if _, ok := m.StepConfig(step); !ok || e.completed[step] {
			continue
		}
		e.completed[step] = true
		e.state.CompletedSteps = append(e.state.CompletedSteps, step)
	}
	e.state.CurrentStep = m.nextStep(e.completed)
}

func (m *Manager) entry(taskID string) (*taskEntry, bool) {
	v, ok := m.states.Load(taskID)
	if !ok {
		return nil, false
	}
	return v.(*taskEntry), true
}

// GetTaskState returns a copy of the task's workflow state.
func (m *Manager) GetTaskState(taskID string) (models.TaskWorkflowState, bool) {
	e, ok := m.entry(taskID)
	if !ok {
		return models.TaskWorkflowState{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := e.state
	s.CurrentStep = m.nextStep(e.completed)
	s.CompletedSteps = append([]models.StepName(nil), e.state.CompletedSteps...)
	return s, true
}

// CurrentStep returns the step the task should run next. It is derived from
// the current step configuration, so steps configured later are included.
func (m *Manager) CurrentStep(taskID string) (models.StepName, error) {
	e, ok := m.entry(taskID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return m.nextStep(e.completed), nil
}

// missingPrerequisites lists prerequisites of cfg not in completed.
func missingPrerequisites(cfg models.WorkflowStepConfig, completed map[models.StepName]bool) []models.StepName {
	var missing []models.StepName
	for _, prev := range cfg.RequiredPreviousSteps {
		if !completed[prev] {
			missing = append(missing, prev)
		}
	}
	return missing
}

// CanProceedToStep reports whether every prerequisite of step is complete.
// Unknown tasks and steps report false.
func (m *Manager) CanProceedToStep(taskID string, step models.StepName) bool {
	cfg, ok := m.StepConfig(step)
	if !ok {
		return false
	}
	e, ok := m.entry(taskID)
	if !ok {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(missingPrerequisites(cfg, e.completed)) == 0
}

// CompleteStep records step as completed for the task and advances the
// current step. It returns true only for the call that newly completed the
// step; completing an already completed step is a no-op.
func (m *Manager) CompleteStep(taskID string, step models.StepName) (bool, error) {
	cfg, ok := m.StepConfig(step)
	if !ok {
		return false, &InvalidStepError{Step: step}
	}
	e, ok := m.entry(taskID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.completed[step] {
		return false, nil
	}
	if missing := missingPrerequisites(cfg, e.completed); len(missing) > 0 {
		return false, &PrerequisiteError{TaskID: taskID, Step: step, Missing: missing}
	}

	e.completed[step] = true
	e.state.CompletedSteps = append(e.state.CompletedSteps, step)
	e.state.CurrentStep = m.nextStep(e.completed)

	m.debugLog("[workflow] task %s completed %s, next %s", taskID, step, e.state.CurrentStep)
	return true, nil
}

// nextStep returns the first configured step not in completed.
func (m *Manager) nextStep(completed map[models.StepName]bool) models.StepName {
	for _, s := range m.Steps() {
		if !completed[s] {
			return s
		}
	}
	return models.StepComplete
}

// ShouldPauseForCritique reports whether the step is reachable and gated by critique.
func (m *Manager) ShouldPauseForCritique(taskID string, step models.StepName) bool {
	cfg, ok := m.StepConfig(step)
	if !ok || !cfg.CritiqueRequired {
		return false
	}
	return m.CanProceedToStep(taskID, step)
}

// HandleStepError classifies a step failure. It never executes the retry.
func (m *Manager) HandleStepError(taskID string, step models.StepName, err error) RecoveryResult {
	cfg, ok := m.StepConfig(step)
	if !ok || !cfg.ErrorRecoveryEnabled {
		m.debugLog("[workflow] task %s step %s failed without recovery: %v", taskID, step, err)
		return RecoveryResult{}
	}
	m.debugLog("[workflow] task %s step %s failed, retry allowed: %v", taskID, step, err)
	return RecoveryResult{RecoveryAttempted: true, CanRetry: true}
}

// GetWorkflowProgress returns the completed share of configured steps as a
// percentage, rounded down so progress never overstates partial work.
// Only steps in the current configuration count, so the result stays
// within 0..100 when steps are added mid-run.
func (m *Manager) GetWorkflowProgress(taskID string) (int, error) {
	e, ok := m.entry(taskID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	steps := m.Steps()
	if len(steps) == 0 {
		return 0, nil
	}

	e.mu.RLock()
	done := 0
	for _, step := range steps {
		if e.completed[step] {
			done++
		}
	}
	e.mu.RUnlock()

	return done * 100 / len(steps), nil
}

// EstimateRemainingTime returns remaining steps times the per-step estimate.
// Unknown tasks are estimated as not started. Terminal tasks return zero.
func (m *Manager) EstimateRemainingTime(taskID string) time.Duration {
	total := len(m.Steps())
	done := 0
	if e, ok := m.entry(taskID); ok {
		e.mu.RLock()
		done = len(e.state.CompletedSteps)
		e.mu.RUnlock()
	}

	remaining := total - done
	if remaining <= 0 {
		return 0
	}
	return time.Duration(remaining) * m.stepEstimate
}

// GetParallelExecutionSteps returns the steps that neither depend on step
// nor are depended on by it, transitively. The result is a scheduling hint.
func (m *Manager) GetParallelExecutionSteps(step models.StepName) []models.StepName {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.configs[step]; !ok {
		return nil
	}

	target := m.ancestorsLocked(step)
	var parallel []models.StepName
	for _, other := range m.order {
		if other == step || target[other] {
			continue
		}
		if m.ancestorsLocked(other)[step] {
			continue
		}
		parallel = append(parallel, other)
	}
	return parallel
}

// ancestorsLocked returns the transitive prerequisites of step.
func (m *Manager) ancestorsLocked(step models.StepName) map[models.StepName]bool {
	seen := make(map[models.StepName]bool)
	stack := append([]models.StepName(nil), m.configs[step].RequiredPreviousSteps...)
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[s] {
			continue
		}
		seen[s] = true
		stack = append(stack, m.configs[s].RequiredPreviousSteps...)
	}
	return seen
}
