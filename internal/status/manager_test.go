package status

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/state"
	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

type fakeStore struct {
	mu       sync.Mutex
	tasks    []*models.Task
	err      error
	snapshot *models.StatusSnapshot
	snapErr  error
	events   []state.TaskEvent
}

func (f *fakeStore) GetTasksByProject(_ context.Context, _ string) ([]*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks, f.err
}

func (f *fakeStore) PersistProjectStatus(_ context.Context, _ string, snap *models.StatusSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapErr != nil {
		return f.snapErr
	}
	f.snapshot = snap
	return nil
}

func (f *fakeStore) GetProjectStatus(_ context.Context, _ string) (*models.StatusSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot, f.snapErr
}

func (f *fakeStore) ListEvents(_ context.Context, _ string, _ int) ([]state.TaskEvent, error) {
	return f.events, nil
}

type fakeSessions struct {
	sessions []models.SessionInfo
	err      error
}

func (f *fakeSessions) ListActiveSessions(context.Context) ([]models.SessionInfo, error) {
	return f.sessions, f.err
}

type fakeBudget struct{ b models.Budget }

func (f fakeBudget) GetCurrentBudget() models.Budget { return f.b }

type fakeWorkflow map[string]int

func (f fakeWorkflow) GetWorkflowProgress(taskID string) (int, error) {
	p, ok := f[taskID]
	if !ok {
		return 0, errors.New("no workflow")
	}
	return p, nil
}

func task(id string, status models.TaskStatus) *models.Task {
	return &models.Task{ID: id, Title: "Task " + id, Status: status}
}

func TestLifecycleTransitions(t *testing.T) {
	tests := []struct {
		name    string
		steps   func(m *Manager) error
		want    models.OrchestratorStatus
		wantErr bool
	}{
		{
			name:  "happy path",
			steps: func(m *Manager) error { return errors.Join(m.Initialize("p"), m.Start(), m.Complete()) },
			want:  models.StatusCompleted,
		},
		{
			name:    "start before initialize",
			steps:   func(m *Manager) error { return m.Start() },
			want:    models.StatusIdle,
			wantErr: true,
		},
		{
			name:    "complete from initialized",
			steps:   func(m *Manager) error { return errors.Join(m.Initialize("p"), m.Complete()) },
			want:    models.StatusInitialized,
			wantErr: true,
		},
		{
			name:  "error from idle",
			steps: func(m *Manager) error { return m.SetError(errors.New("boom")) },
			want:  models.StatusError,
		},
		{
			name:  "error while running",
			steps: func(m *Manager) error { return errors.Join(m.Initialize("p"), m.Start(), m.SetError(errors.New("boom"))) },
			want:  models.StatusError,
		},
		{
			name:    "error after completed",
			steps:   func(m *Manager) error { return errors.Join(m.Initialize("p"), m.Start(), m.Complete(), m.SetError(errors.New("x"))) },
			want:    models.StatusCompleted,
			wantErr: true,
		},
		{
			name:  "shutdown from error",
			steps: func(m *Manager) error { return errors.Join(m.SetError(nil), m.Shutdown()) },
			want:  models.StatusShutdown,
		},
		{
			name:    "shutdown is terminal",
			steps:   func(m *Manager) error { return errors.Join(m.Shutdown(), m.Initialize("p")) },
			want:    models.StatusShutdown,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(Config{})
			err := tt.steps(m)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("expected ErrInvalidTransition, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := m.Status(); got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSetErrorRecordsMessage(t *testing.T) {
	m := NewManager(Config{})
	if err := m.SetError(errors.New("disk full")); err != nil {
		t.Fatalf("SetError: %v", err)
	}
	if m.LastError() != "disk full" {
		t.Errorf("LastError = %q", m.LastError())
	}
}

func TestInitializeRequiresProject(t *testing.T) {
	m := NewManager(Config{})
	if err := m.Initialize(""); !errors.Is(err, ErrNoProject) {
		t.Errorf("expected ErrNoProject, got %v", err)
	}
}

func TestOnStatusChange(t *testing.T) {
	m := NewManager(Config{})
	got := make(chan StatusChange, 4)
	unsubscribe := m.OnStatusChange(func(c StatusChange) { got <- c })

	if err := m.Initialize("p"); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		if c.From != models.StatusIdle || c.To != models.StatusInitialized {
			t.Errorf("unexpected change %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("no status change delivered")
	}

	unsubscribe()
	unsubscribe()
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		t.Errorf("delivered after unsubscribe: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPanickingSubscriberDoesNotAffectOthers(t *testing.T) {
	m := NewManager(Config{})
	got := make(chan StatusChange, 1)
	m.OnStatusChange(func(StatusChange) { panic("bad handler") })
	m.OnStatusChange(func(c StatusChange) { got <- c })

	if err := m.Initialize("p"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber not notified")
	}
}

func TestGetProjectProgress(t *testing.T) {
	store := &fakeStore{tasks: []*models.Task{
		task("a", models.TaskStatusCompleted),
		task("b", models.TaskStatusInProgress),
		task("c", models.TaskStatusPending),
		task("d", models.TaskStatusFailed),
	}}
	m := NewManager(Config{Store: store})

	p := m.GetProjectProgress(context.Background(), "p")
	want := models.ProjectProgress{
		TotalTasks:         4,
		CompletedTasks:     1,
		RunningTasks:       1,
		PendingTasks:       1,
		ErrorTasks:         1,
		ProgressPercentage: 25,
	}
	if p != want {
		t.Errorf("progress = %+v, want %+v", p, want)
	}

	cached, ok := m.CachedProjectProgress("p")
	if !ok || cached != want {
		t.Errorf("cached = %+v, %v", cached, ok)
	}
}

func TestGetProjectProgressFloorsPercentage(t *testing.T) {
	store := &fakeStore{tasks: []*models.Task{
		task("a", models.TaskStatusCompleted),
		task("b", models.TaskStatusCompleted),
		task("c", models.TaskStatusPending),
	}}
	m := NewManager(Config{Store: store})
	if got := m.GetProjectProgress(context.Background(), "p").ProgressPercentage; got != 66 {
		t.Errorf("percentage = %d, want 66", got)
	}
}

func TestGetProjectProgressStoreFailure(t *testing.T) {
	m := NewManager(Config{Store: &fakeStore{err: errors.New("db locked")}})
	if p := m.GetProjectProgress(context.Background(), "p"); p != (models.ProjectProgress{}) {
		t.Errorf("expected zero progress, got %+v", p)
	}
	if _, ok := m.CachedProjectProgress("p"); ok {
		t.Error("failed lookup should not populate the cache")
	}
}

func TestGetMultipleWorkflowProgresses(t *testing.T) {
	m := NewManager(Config{Workflow: fakeWorkflow{"a": 50, "b": 100}})
	got := m.GetMultipleWorkflowProgresses([]string{"a", "b", "missing"})

	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %v", got)
	}
	if got["a"] == nil || *got["a"] != 50 {
		t.Errorf("a = %v", got["a"])
	}
	if got["b"] == nil || *got["b"] != 100 {
		t.Errorf("b = %v", got["b"])
	}
	if got["missing"] != nil {
		t.Errorf("missing = %v, want nil", *got["missing"])
	}
}

func TestGetInactiveSessions(t *testing.T) {
	now := time.Now()
	sessions := &fakeSessions{sessions: []models.SessionInfo{
		{ID: "fresh", TaskID: "a", CreatedAt: now.Add(-time.Minute)},
		{ID: "stale", TaskID: "b", CreatedAt: now.Add(-2 * time.Hour)},
	}}
	m := NewManager(Config{Sessions: sessions})

	inactive := m.GetInactiveSessions(context.Background(), time.Hour)
	if len(inactive) != 1 || inactive[0].ID != "stale" {
		t.Errorf("inactive = %+v", inactive)
	}
}

func TestSessionProviderFailureYieldsEmpty(t *testing.T) {
	m := NewManager(Config{Sessions: &fakeSessions{err: errors.New("tmux gone")}})
	if got := m.GetActiveSessionStatuses(context.Background()); len(got) != 0 {
		t.Errorf("expected no sessions, got %v", got)
	}
}

func TestGetSystemHealth(t *testing.T) {
	store := &fakeStore{tasks: []*models.Task{
		task("a", models.TaskStatusFailed),
		task("b", models.TaskStatusInProgress),
		task("c", models.TaskStatusPending),
		task("d", models.TaskStatusPending),
	}}
	m := NewManager(Config{
		Store:    store,
		Sessions: &fakeSessions{sessions: []models.SessionInfo{{ID: "s1"}}},
		Budget:   fakeBudget{models.Budget{Allocated: 10, Used: 9.5, Remaining: 0.5}},
		Metrics:  MustNewMetrics(prometheus.NewRegistry()),
	})
	if err := m.Initialize("p"); err != nil {
		t.Fatal(err)
	}

	h := m.GetSystemHealth(context.Background())
	if h.OrchestratorStatus != models.StatusInitialized {
		t.Errorf("status = %s", h.OrchestratorStatus)
	}
	if h.ActiveSessionsCount != 1 || h.TotalTasksInProgress != 1 {
		t.Errorf("unexpected counts %+v", h)
	}
	if h.ErrorRate != 25 {
		t.Errorf("error rate = %v, want 25", h.ErrorRate)
	}
	if h.BudgetUtilization != 95 {
		t.Errorf("utilization = %v, want 95", h.BudgetUtilization)
	}

	alerts := m.GetBudgetAlerts()
	if len(alerts) != 1 {
		t.Errorf("expected a budget alert, got %v", alerts)
	}
}

func TestDetectHealthIssues(t *testing.T) {
	tests := []struct {
		name     string
		snapshot MetricsSnapshot
		want     int
	}{
		{name: "healthy", snapshot: MetricsSnapshot{CPUPercent: 10, MemoryMB: 100, ErrorRate: 0}, want: 0},
		{name: "cpu", snapshot: MetricsSnapshot{CPUPercent: 95}, want: 1},
		{name: "memory", snapshot: MetricsSnapshot{MemoryMB: 4096}, want: 1},
		{name: "everything", snapshot: MetricsSnapshot{CPUPercent: 99, MemoryMB: 4096, ErrorRate: 50}, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(Config{})
			m.RecordMetrics(tt.snapshot)
			if got := m.DetectHealthIssues(); len(got) != tt.want {
				t.Errorf("issues = %v, want %d", got, tt.want)
			}
		})
	}
}

func TestGetBudgetAlertsThreshold(t *testing.T) {
	tests := []struct {
		utilization float64
		want        bool
	}{
		{utilization: 50},
		{utilization: 89.9},
		{utilization: 90, want: true},
		{utilization: 120, want: true},
	}
	for _, tt := range tests {
		m := NewManager(Config{})
		m.RecordMetrics(MetricsSnapshot{BudgetUtilization: tt.utilization})
		if got := len(m.GetBudgetAlerts()) > 0; got != tt.want {
			t.Errorf("utilization %v: alert = %v, want %v", tt.utilization, got, tt.want)
		}
	}
}

func TestSampleMetricsRecordsSnapshot(t *testing.T) {
	m := NewManager(Config{})
	s := m.SampleMetrics(context.Background())
	if s.MemoryMB <= 0 {
		t.Errorf("expected positive memory, got %v", s.MemoryMB)
	}
	if m.LatestMetrics().At != s.At {
		t.Error("sample was not recorded")
	}
}

func TestPersistAndRecoverStatus(t *testing.T) {
	store := &fakeStore{tasks: []*models.Task{task("a", models.TaskStatusCompleted)}}
	m := NewManager(Config{Store: store})
	if err := errors.Join(m.Initialize("p"), m.Start()); err != nil {
		t.Fatal(err)
	}

	if err := m.PersistStatus(context.Background()); err != nil {
		t.Fatalf("PersistStatus: %v", err)
	}
	if store.snapshot == nil || store.snapshot.Status != models.StatusRunning {
		t.Fatalf("unexpected snapshot %+v", store.snapshot)
	}
	if store.snapshot.Progress.ProgressPercentage != 100 {
		t.Errorf("snapshot progress = %+v", store.snapshot.Progress)
	}

	fresh := NewManager(Config{Store: store})
	if got := fresh.RecoverStatus(context.Background(), "p"); got != models.StatusRunning {
		t.Errorf("recovered %s, want running", got)
	}
	if fresh.Status() != models.StatusIdle {
		t.Error("recovery must not change the live status")
	}
}

func TestRecoverStatusFailureYieldsIdle(t *testing.T) {
	tests := []struct {
		name  string
		store *fakeStore
	}{
		{name: "store error", store: &fakeStore{snapErr: errors.New("corrupt")}},
		{name: "no snapshot", store: &fakeStore{}},
		{name: "unknown status", store: &fakeStore{snapshot: &models.StatusSnapshot{Status: "bogus"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(Config{Store: tt.store})
			if got := m.RecoverStatus(context.Background(), "p"); got != models.StatusIdle {
				t.Errorf("got %s, want idle", got)
			}
		})
	}
}

func TestPersistStatusWithoutProject(t *testing.T) {
	m := NewManager(Config{Store: &fakeStore{}})
	if err := m.PersistStatus(context.Background()); !errors.Is(err, ErrNoProject) {
		t.Errorf("expected ErrNoProject, got %v", err)
	}
}

func TestGenerateStatusReport(t *testing.T) {
	store := &fakeStore{
		tasks: []*models.Task{
			task("a", models.TaskStatusCompleted),
			{ID: "b", Title: "Broken", Status: models.TaskStatusFailed, Error: "tests failed"},
		},
		events: []state.TaskEvent{{TaskID: "b", Type: state.EventTaskFailed, Message: "tests failed", CreatedAt: time.Now()}},
	}
	m := NewManager(Config{
		Store:  store,
		Budget: fakeBudget{models.Budget{Allocated: 10, Used: 9}},
	})
	if err := m.Initialize("proj"); err != nil {
		t.Fatal(err)
	}

	r := m.GenerateStatusReport(context.Background())
	if r.Progress.ProgressPercentage != 50 {
		t.Errorf("progress = %+v", r.Progress)
	}
	if len(r.FailedTasks) != 1 || r.FailedTasks[0].Error != "tests failed" {
		t.Errorf("failed tasks = %+v", r.FailedTasks)
	}
	if len(r.BudgetAlerts) != 1 {
		t.Errorf("budget alerts = %v", r.BudgetAlerts)
	}

	text := r.String()
	for _, want := range []string{"Project: proj", "50%", "Broken: tests failed", "Budget utilization", "task_failed"} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}
}
