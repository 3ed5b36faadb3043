// Package status aggregates task, workflow, session and budget state into
// project progress, system health and status reports.
package status

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/state"
	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

var (
	// ErrInvalidTransition is returned for a lifecycle change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNoProject is returned when an operation needs a project before Initialize.
	ErrNoProject = errors.New("status manager has no project")
)

// Store is the persistence the status manager reads and writes.
type Store interface {
	GetTasksByProject(ctx context.Context, projectID string) ([]*models.Task, error)
	PersistProjectStatus(ctx context.Context, projectID string, snap *models.StatusSnapshot) error
	GetProjectStatus(ctx context.Context, projectID string) (*models.StatusSnapshot, error)
}

// EventLister is optionally implemented by a Store to add recent task events to reports.
type EventLister interface {
	ListEvents(ctx context.Context, projectID string, limit int) ([]state.TaskEvent, error)
}

// SessionLister lists live agent sessions.
type SessionLister interface {
	ListActiveSessions(ctx context.Context) ([]models.SessionInfo, error)
}

// BudgetSource reports the current cost budget.
type BudgetSource interface {
	GetCurrentBudget() models.Budget
}

// WorkflowProgress reports per-task workflow completion.
type WorkflowProgress interface {
	GetWorkflowProgress(taskID string) (int, error)
}

// Thresholds configure DetectHealthIssues and GetBudgetAlerts.
type Thresholds struct {
	MaxCPUPercent      float64
	MaxMemoryMB        float64
	MaxErrorRate       float64
	BudgetAlertPercent float64
}

// DefaultThresholds returns the built-in health thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxCPUPercent:      90,
		MaxMemoryMB:        2048,
		MaxErrorRate:       25,
		BudgetAlertPercent: 90,
	}
}

const (
	// DefaultProgressDebounce is the window in which progress updates for one task collapse.
	DefaultProgressDebounce = 250 * time.Millisecond
	// DefaultCacheTTL bounds how long a computed project progress is reused for reports.
	DefaultCacheTTL = time.Minute

	progressCacheSize = 64
)

// Config wires a Manager to its collaborators. Nil collaborators degrade the
// corresponding queries to zero values.
type Config struct {
	Store            Store
	Sessions         SessionLister
	Budget           BudgetSource
	Workflow         WorkflowProgress
	Thresholds       Thresholds
	ProgressDebounce time.Duration
	CacheTTL         time.Duration
	Metrics          *Metrics
}

// StatusChange is delivered to OnStatusChange subscribers.
type StatusChange struct {
	From models.OrchestratorStatus
	To   models.OrchestratorStatus
	Err  string
	At   time.Time
}

// Manager tracks the orchestrator lifecycle and answers progress and health queries.
type Manager struct {
	store    Store
	sessions SessionLister
	budget   BudgetSource
	workflow WorkflowProgress
	metrics  *Metrics

	mu         sync.RWMutex
	status     models.OrchestratorStatus
	projectID  string
	lastError  string
	thresholds Thresholds
	latest     MetricsSnapshot

	statusHub *hub[StatusChange]
	progress  *debouncer
	cache     *expirable.LRU[string, models.ProjectProgress]
}

// NewManager creates a Manager in the idle state.
func NewManager(cfg Config) *Manager {
	if cfg.ProgressDebounce <= 0 {
		cfg.ProgressDebounce = DefaultProgressDebounce
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}

	return &Manager{
		store:      cfg.Store,
		sessions:   cfg.Sessions,
		budget:     cfg.Budget,
		workflow:   cfg.Workflow,
		metrics:    cfg.Metrics,
		status:     models.StatusIdle,
		thresholds: cfg.Thresholds,
		statusHub:  newHub[StatusChange]("status"),
		progress:   newDebouncer(cfg.ProgressDebounce),
		cache:      expirable.NewLRU[string, models.ProjectProgress](progressCacheSize, nil, cfg.CacheTTL),
	}
}

// transitions lists the allowed lifecycle moves. Shutdown is handled separately.
var transitions = map[models.OrchestratorStatus][]models.OrchestratorStatus{
	models.StatusIdle:        {models.StatusInitialized, models.StatusError},
	models.StatusInitialized: {models.StatusRunning, models.StatusError},
	models.StatusRunning:     {models.StatusCompleted, models.StatusError},
}

func canTransition(from, to models.OrchestratorStatus) bool {
	if to == models.StatusShutdown {
		return from != models.StatusShutdown
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// transition moves to a new status and notifies subscribers.
func (m *Manager) transition(to models.OrchestratorStatus, errMsg string, mutate func()) error {
	m.mu.Lock()
	from := m.status
	if !canTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.status = to
	if mutate != nil {
		mutate()
	}
	m.mu.Unlock()

	m.metrics.setStatus(to)
	m.statusHub.publish(StatusChange{From: from, To: to, Err: errMsg, At: time.Now()})
	return nil
}

// Initialize binds the manager to a project and moves idle -> initialized.
func (m *Manager) Initialize(projectID string) error {
	if projectID == "" {
		return ErrNoProject
	}
	return m.transition(models.StatusInitialized, "", func() {
		m.projectID = projectID
		m.lastError = ""
	})
}

// Start moves initialized -> running.
func (m *Manager) Start() error {
	return m.transition(models.StatusRunning, "", nil)
}

// Complete moves running -> completed.
func (m *Manager) Complete() error {
	return m.transition(models.StatusCompleted, "", nil)
}

// SetError records err and moves to the error state from any non-terminal state.
func (m *Manager) SetError(err error) error {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return m.transition(models.StatusError, msg, func() {
		m.lastError = msg
	})
}

// Shutdown moves to the terminal shutdown state, flushes pending progress
// updates and stops delivering notifications.
func (m *Manager) Shutdown() error {
	if err := m.transition(models.StatusShutdown, "", nil); err != nil {
		return err
	}
	m.progress.close()
	m.statusHub.close()
	return nil
}

// Status returns the current lifecycle status.
func (m *Manager) Status() models.OrchestratorStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// LastError returns the message recorded by SetError, if any.
func (m *Manager) LastError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// ProjectID returns the project bound by Initialize.
func (m *Manager) ProjectID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.projectID
}

// SetThresholds replaces the health thresholds.
func (m *Manager) SetThresholds(t Thresholds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = t
}

// OnStatusChange subscribes to lifecycle changes. The returned function unsubscribes.
func (m *Manager) OnStatusChange(handler func(StatusChange)) func() {
	return m.statusHub.subscribe(handler)
}

// OnProgressUpdate subscribes to debounced progress updates. The returned
// function unsubscribes.
func (m *Manager) OnProgressUpdate(handler func(ProgressUpdate)) func() {
	return m.progress.subscribe(handler)
}

// PublishProgress queues a progress update. Updates for the same task within
// the debounce window collapse into one delivery of the latest value.
func (m *Manager) PublishProgress(update ProgressUpdate) {
	if update.At.IsZero() {
		update.At = time.Now()
	}
	m.progress.publish(update)
}

// PersistStatus writes the current status snapshot through the store.
func (m *Manager) PersistStatus(ctx context.Context) error {
	m.mu.RLock()
	projectID, st, lastErr := m.projectID, m.status, m.lastError
	m.mu.RUnlock()

	if projectID == "" {
		return ErrNoProject
	}
	if m.store == nil {
		return errors.New("no status store configured")
	}

	progress, ok := m.CachedProjectProgress(projectID)
	if !ok {
		progress = m.GetProjectProgress(ctx, projectID)
	}

	snap := &models.StatusSnapshot{
		ProjectID: projectID,
		Status:    st,
		LastError: lastErr,
		Progress:  progress,
		Health:    m.GetSystemHealth(ctx),
		UpdatedAt: time.Now(),
	}
	if err := m.store.PersistProjectStatus(ctx, projectID, snap); err != nil {
		return fmt.Errorf("persist status: %w", err)
	}
	return nil
}

// RecoverStatus returns the status persisted by an earlier run. Any failure,
// or no stored snapshot, yields idle. The live lifecycle is not changed.
func (m *Manager) RecoverStatus(ctx context.Context, projectID string) models.OrchestratorStatus {
	if m.store == nil {
		return models.StatusIdle
	}

	snap, err := m.store.GetProjectStatus(ctx, projectID)
	if err != nil {
		log.Printf("[status] recover status for %s: %v", projectID, err)
		return models.StatusIdle
	}
	if snap == nil || !snap.Status.Valid() {
		return models.StatusIdle
	}
	return snap.Status
}
