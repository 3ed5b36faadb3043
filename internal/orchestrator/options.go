package orchestrator

import (
	"context"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/agent"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/budget"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/config"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/state"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/status"
	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// Store is the persistence the orchestrator reads and writes.
type Store interface {
	state.TaskStore
	state.StatusStore
	state.EventStore
	ResetInterruptedTasks(ctx context.Context, projectID string) (int64, error)
}

// AgentSpawner provisions and tears down per-task agents.
type AgentSpawner interface {
	SpawnAgent(ctx context.Context, task *models.Task, agentType models.AgentType, agentCtx *agent.Context) models.AgentSpawnResult
	SpawnSpecializedAgent(ctx context.Context, cfg agent.SpecializedConfig) models.AgentSpawnResult
	TaskBranch(taskID string) string
	AdoptBranch(ctx context.Context, taskID, from string) error
	CleanupAgent(ctx context.Context, taskID string) error
	CleanupAll(ctx context.Context) map[string]error
	ActiveTaskIDs() []string
}

var _ AgentSpawner = (*agent.Spawner)(nil)

// RequiredConfig contains the collaborators an Orchestrator cannot run without.
type RequiredConfig struct {
	Store    Store
	Spawner  AgentSpawner
	Executor StepExecutor
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

type orchestratorOptions struct {
	config      *config.Config
	logger      *DebugLogger
	budget      *budget.Tracker
	critique    *CritiqueGate
	sessions    status.SessionLister
	metrics     *status.Metrics
	signals     bool
	eventBuffer int
}

func defaultOptions() *orchestratorOptions {
	return &orchestratorOptions{
		signals:     true,
		eventBuffer: 256,
	}
}

// WithConfig sets the run settings. Defaults to config.Default().
func WithConfig(c *config.Config) Option {
	return func(o *orchestratorOptions) { o.config = c }
}

// WithLogger sets the debug logger. Defaults to the project debug log.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithBudget sets the budget tracker. Defaults to one built from the config.
func WithBudget(t *budget.Tracker) Option {
	return func(o *orchestratorOptions) { o.budget = t }
}

// WithCritiqueGate sets the critique gate. Defaults to one built from the config.
func WithCritiqueGate(g *CritiqueGate) Option {
	return func(o *orchestratorOptions) { o.critique = g }
}

// WithSessionLister sets the source of live sessions for health and reports.
func WithSessionLister(s status.SessionLister) Option {
	return func(o *orchestratorOptions) { o.sessions = s }
}

// WithMetrics sets the Prometheus collectors updated by the status manager.
func WithMetrics(m *status.Metrics) Option {
	return func(o *orchestratorOptions) { o.metrics = m }
}

// WithSignals enables or disables the signal file watcher. Enabled by default.
func WithSignals(enabled bool) Option {
	return func(o *orchestratorOptions) { o.signals = enabled }
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) Option {
	return func(o *orchestratorOptions) { o.eventBuffer = n }
}
