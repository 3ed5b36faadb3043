package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/budget"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/config"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/graph"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/plan"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/status"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/workflow"
	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

var (
	// ErrBudgetExhausted is returned when spend reaches the allocation. No
	// new agents are spawned once it has been reported.
	ErrBudgetExhausted = errors.New("budget exhausted")
	// ErrNotInitialized is returned by Start before a successful Initialize.
	ErrNotInitialized = errors.New("orchestrator not initialized")
	// ErrAlreadyRunning is returned by a second concurrent Start.
	ErrAlreadyRunning = errors.New("orchestrator already running")
	// ErrCritiqueRejected is returned when a reviewer rejects a gated step.
	ErrCritiqueRejected = errors.New("critique rejected")
)

// healthSampleInterval is how often resource usage is sampled during a run.
const healthSampleInterval = 15 * time.Second

// Orchestrator runs a project's tasks through the step workflow.
type Orchestrator struct {
	store    Store
	spawner  AgentSpawner
	executor StepExecutor

	cfg        *config.Config
	logger     *DebugLogger
	ownsLogger bool
	budget     *budget.Tracker
	critique   *CritiqueGate
	status     *status.Manager
	metrics    *status.Metrics
	emitter    *EventEmitter
	pauseCtrl  *PauseController
	useSignals bool

	mu          sync.RWMutex
	projectRoot string
	projectID   string
	workflow    *workflow.Manager
	graph       *graph.DependencyGraph
	signals     *SignalWatcher
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}

	stopOnce     sync.Once
	stopCh       chan struct{}
	shutdownOnce sync.Once
	budgetWarned atomic.Bool
}

// New creates an Orchestrator. Call Initialize before Start.
func New(req RequiredConfig, opts ...Option) *Orchestrator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.config
	if cfg == nil {
		cfg = config.Default()
	}

	tracker := o.budget
	if tracker == nil {
		tracker = budget.NewTracker(cfg.Budget.Allocated)
		tracker.SetWarningThreshold(cfg.Budget.WarningThreshold)
	}

	gate := o.critique
	if gate == nil {
		gate = NewCritiqueGate(cfg.Orchestrator.AutoApproveCritique, cfg.Orchestrator.CritiqueTimeout)
	}

	orch := &Orchestrator{
		store:      req.Store,
		spawner:    req.Spawner,
		executor:   req.Executor,
		cfg:        cfg,
		logger:     o.logger,
		budget:     tracker,
		critique:   gate,
		metrics:    o.metrics,
		emitter:    NewEventEmitter(o.eventBuffer),
		pauseCtrl:  NewPauseController(),
		useSignals: o.signals,
		stopCh:     make(chan struct{}),
	}

	orch.status = status.NewManager(status.Config{
		Store:    req.Store,
		Sessions: o.sessions,
		Budget:   tracker,
		Workflow: orch,
		Thresholds: status.Thresholds{
			MaxCPUPercent:      cfg.Health.MaxCPUPercent,
			MaxMemoryMB:        cfg.Health.MaxMemoryMB,
			MaxErrorRate:       cfg.Health.MaxErrorRate,
			BudgetAlertPercent: cfg.Health.BudgetAlertPercent,
		},
		ProgressDebounce: cfg.Health.ProgressDebounce,
		CacheTTL:         cfg.Health.ProgressCacheTTL,
		Metrics:          o.metrics,
	})

	return orch
}

// Initialize loads the plan under projectRoot, persists its tasks, restores
// each task's workflow from the event log and moves the status to initialized.
// Plan and step configuration errors are returned before anything runs.
func (o *Orchestrator) Initialize(ctx context.Context, projectRoot string) error {
	if o.logger == nil {
		o.logger = NewDebugLoggerForProject(projectRoot)
		o.ownsLogger = true
	}

	p, err := plan.LoadProject(projectRoot)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}

	wf, err := p.NewWorkflow(o.cfg.Workflow.StepEstimate)
	if err != nil {
		return fmt.Errorf("configure workflow: %w", err)
	}
	wf.SetDebugLog(o.logger.Func())

	projectID := p.Project
	if n, err := o.store.ResetInterruptedTasks(ctx, projectID); err != nil {
		return fmt.Errorf("reset interrupted tasks: %w", err)
	} else if n > 0 {
		log.Printf("[orchestrator] reset %d task(s) interrupted by a previous run", n)
	}

	if err := o.store.SyncTasks(ctx, projectID, p.ModelTasks()); err != nil {
		return fmt.Errorf("persist tasks: %w", err)
	}
	tasks, err := o.loadPlanTasks(ctx, p)
	if err != nil {
		return err
	}

	g := graph.New()
	g.SetDebugLog(o.logger.Func())
	if err := g.Build(tasks); err != nil {
		return fmt.Errorf("build dependency graph: %w", err)
	}

	for _, t := range tasks {
		completed, err := o.store.CompletedSteps(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("load completed steps for %s: %w", t.ID, err)
		}
		if len(completed) > 0 {
			wf.RestoreTaskWorkflow(t.ID, completed)
		} else {
			wf.InitializeTaskWorkflow(t.ID)
		}
	}

	if prev := o.status.RecoverStatus(ctx, projectID); prev != models.StatusIdle {
		log.Printf("[orchestrator] previous run of %s ended %s", projectID, prev)
	}

	o.mu.Lock()
	o.projectRoot = projectRoot
	o.projectID = projectID
	o.workflow = wf
	o.graph = g
	o.mu.Unlock()

	if err := o.status.Initialize(projectID); err != nil {
		return err
	}

	if o.useSignals {
		o.startSignals(projectRoot)
	}

	o.logger.Log("[orchestrator] initialized project %s with %d tasks and steps %v", projectID, len(tasks), wf.Steps())
	return nil
}

// loadPlanTasks returns the plan's tasks in plan order with their stored status.
func (o *Orchestrator) loadPlanTasks(ctx context.Context, p *plan.Plan) ([]*models.Task, error) {
	stored, err := o.store.GetTasksByProject(ctx, p.Project)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	byID := make(map[string]*models.Task, len(stored))
	for _, t := range stored {
		byID[t.ID] = t
	}

	tasks := p.ModelTasks()
	for _, t := range tasks {
		if s, ok := byID[t.ID]; ok {
			t.Status = s.Status
			t.Error = s.Error
			t.CreatedAt = s.CreatedAt
			t.UpdatedAt = s.UpdatedAt
		}
	}
	return tasks, nil
}

func (o *Orchestrator) startSignals(projectRoot string) {
	if err := removeSignal(projectRoot, stopSignal); err != nil {
		log.Printf("[orchestrator] clear stale stop signal: %v", err)
	}
	sw, err := NewSignalWatcher(projectRoot, SignalHandlers{
		OnPause:  o.Pause,
		OnResume: o.Resume,
		OnStop:   o.Stop,
	})
	if err != nil {
		log.Printf("[orchestrator] signals disabled: %v", err)
		return
	}
	sw.Poll()

	o.mu.Lock()
	o.signals = sw
	o.mu.Unlock()
}

// Start runs until every task is terminal, a stop is requested, ctx is
// cancelled or the budget is exhausted. The status ends completed on a clean
// finish and error otherwise.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.graph == nil {
		o.mu.Unlock()
		return ErrNotInitialized
	}
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.running = true
	o.cancel = cancel
	o.done = done
	projectID := o.projectID
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		close(done)
	}()

	if err := o.status.Start(); err != nil {
		return err
	}
	o.logger.Log("[orchestrator] run started for project %s", projectID)

	go o.monitorHealth(runCtx)

	err := o.runLoop(runCtx)
	o.finish(context.WithoutCancel(ctx), err)
	return err
}

func (o *Orchestrator) finish(ctx context.Context, runErr error) {
	var statusErr error
	msg := "all tasks finished"
	if runErr == nil {
		statusErr = o.status.Complete()
	} else {
		msg = runErr.Error()
		statusErr = o.status.SetError(runErr)
	}
	if statusErr != nil {
		log.Printf("[orchestrator] record final status: %v", statusErr)
	}
	if err := o.status.PersistStatus(ctx); err != nil {
		log.Printf("[orchestrator] persist status: %v", err)
	}

	o.logger.Log("[orchestrator] run finished: %s", msg)
	o.emitter.Emit(OrchestratorEvent{Type: EventRunDone, Message: msg, Error: runErr, Cost: o.budget.GetCurrentBudget().Used})
}

// monitorHealth samples resource usage and logs issues until ctx ends.
func (o *Orchestrator) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(healthSampleInterval)
	defer ticker.Stop()

	reported := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		o.status.SampleMetrics(ctx)
		current := make(map[string]bool)
		for _, issue := range append(o.status.DetectHealthIssues(), o.status.GetBudgetAlerts()...) {
			current[issue] = true
			if !reported[issue] {
				log.Printf("[orchestrator] health: %s", issue)
			}
		}
		reported = current

		for _, s := range o.status.GetInactiveSessions(ctx, o.cfg.Health.InactiveSessionThreshold) {
			o.logger.Log("[orchestrator] session %s for task %s inactive since %s", s.ID, s.TaskID, s.CreatedAt.Format(time.RFC3339))
		}
	}
}

// Shutdown stops the run loop, cleans up every active agent, persists the
// final status and releases resources. It is safe to call more than once.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	var err error
	o.shutdownOnce.Do(func() { err = o.shutdown(ctx) })
	return err
}

func (o *Orchestrator) shutdown(ctx context.Context) error {
	o.Stop()

	o.mu.RLock()
	cancel, done, sw, projectID := o.cancel, o.done, o.signals, o.projectID
	o.mu.RUnlock()

	var errs []error
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("wait for run loop: %w", ctx.Err()))
		}
	}

	for taskID, err := range o.spawner.CleanupAll(context.WithoutCancel(ctx)) {
		errs = append(errs, fmt.Errorf("cleanup agent for %s: %w", taskID, err))
	}

	if err := o.status.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if projectID != "" {
		if err := o.status.PersistStatus(context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, err)
		}
	}

	if sw != nil {
		if err := sw.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close signal watcher: %w", err))
		}
	}
	if dropped := o.emitter.DroppedByType(); len(dropped) > 0 {
		log.Printf("[orchestrator] dropped events during run: %v", dropped)
	}
	o.emitter.Close()
	if o.ownsLogger {
		o.logger.Close()
	}
	return errors.Join(errs...)
}

// Stop asks the run loop to stop. In-flight steps are cancelled and their
// tasks return to pending.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		close(o.stopCh)
		o.pauseCtrl.Stop()
		o.logger.Log("[orchestrator] stop requested")
	})
}

// Pause suspends new spawns. Running steps continue.
func (o *Orchestrator) Pause() {
	if o.pauseCtrl.Pause() {
		o.emitter.Emit(OrchestratorEvent{Type: EventPaused, Message: "spawning paused"})
	}
}

// Resume re-enables spawning after Pause.
func (o *Orchestrator) Resume() {
	if o.pauseCtrl.Resume() {
		o.emitter.Emit(OrchestratorEvent{Type: EventResumed, Message: "spawning resumed"})
	}
}

// IsPaused reports whether spawning is paused.
func (o *Orchestrator) IsPaused() bool {
	return o.pauseCtrl.IsPaused()
}

// Events returns the orchestrator event stream. It is closed by Shutdown.
func (o *Orchestrator) Events() <-chan OrchestratorEvent {
	return o.emitter.Events()
}

// Critique returns the gate holding steps that await review.
func (o *Orchestrator) Critique() *CritiqueGate {
	return o.critique
}

// Budget returns the budget tracker.
func (o *Orchestrator) Budget() *budget.Tracker {
	return o.budget
}

// StatusManager returns the status manager backing the status queries.
func (o *Orchestrator) StatusManager() *status.Manager {
	return o.status
}

// ProjectID returns the project loaded by Initialize.
func (o *Orchestrator) ProjectID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.projectID
}

// GetStatus returns the lifecycle status.
func (o *Orchestrator) GetStatus() models.OrchestratorStatus {
	return o.status.Status()
}

// GetProjectProgress tallies the project's tasks.
func (o *Orchestrator) GetProjectProgress(ctx context.Context) models.ProjectProgress {
	return o.status.GetProjectProgress(ctx, o.ProjectID())
}

// GetSystemHealth returns the current health snapshot.
func (o *Orchestrator) GetSystemHealth(ctx context.Context) models.SystemHealth {
	return o.status.GetSystemHealth(ctx)
}

// GenerateStatusReport returns a full status report.
func (o *Orchestrator) GenerateStatusReport(ctx context.Context) status.Report {
	return o.status.GenerateStatusReport(ctx)
}

// Tasks returns copies of the project's tasks in plan order.
func (o *Orchestrator) Tasks() []*models.Task {
	g := o.dependencyGraph()
	if g == nil {
		return nil
	}
	return g.Tasks()
}

// TaskWorkflow returns the workflow state of a task.
func (o *Orchestrator) TaskWorkflow(taskID string) (models.TaskWorkflowState, bool) {
	wf := o.workflowManager()
	if wf == nil {
		return models.TaskWorkflowState{}, false
	}
	return wf.GetTaskState(taskID)
}

// GetWorkflowProgress returns the task's workflow completion percentage.
func (o *Orchestrator) GetWorkflowProgress(taskID string) (int, error) {
	wf := o.workflowManager()
	if wf == nil {
		return 0, ErrNotInitialized
	}
	return wf.GetWorkflowProgress(taskID)
}

func (o *Orchestrator) workflowManager() *workflow.Manager {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.workflow
}

func (o *Orchestrator) dependencyGraph() *graph.DependencyGraph {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.graph
}

var _ status.WorkflowProgress = (*Orchestrator)(nil)
