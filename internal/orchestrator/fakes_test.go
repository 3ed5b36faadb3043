package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/agent"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/config"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/plan"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/state"
	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// memStore is an in-memory Store.
type memStore struct {
	mu        sync.Mutex
	tasks     map[string]*models.Task
	order     []string
	events    []state.TaskEvent
	snapshots map[string]*models.StatusSnapshot
}

func newMemStore() *memStore {
	return &memStore{
		tasks:     make(map[string]*models.Task),
		snapshots: make(map[string]*models.StatusSnapshot),
	}
}

func (s *memStore) SyncTasks(ctx context.Context, projectID string, tasks []*models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		c := t.Clone()
		c.ProjectID = projectID
		if existing, ok := s.tasks[t.ID]; ok {
			c.Status = existing.Status
			c.Error = existing.Error
		} else {
			s.order = append(s.order, t.ID)
		}
		s.tasks[t.ID] = c
	}
	return nil
}

func (s *memStore) UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return state.ErrNotFound
	}
	t.Status = status
	t.Error = errMsg
	t.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, state.ErrNotFound
	}
	return t.Clone(), nil
}

func (s *memStore) GetTasksByProject(ctx context.Context, projectID string) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for _, id := range s.order {
		if t := s.tasks[id]; t.ProjectID == projectID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *memStore) PersistProjectStatus(ctx context.Context, projectID string, snap *models.StatusSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *snap
	s.snapshots[projectID] = &c
	return nil
}

func (s *memStore) GetProjectStatus(ctx context.Context, projectID string) (*models.StatusSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[projectID]
	if !ok {
		return nil, nil
	}
	c := *snap
	return &c, nil
}

func (s *memStore) RecordEvent(ctx context.Context, ev *state.TaskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := *ev
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.events = append(s.events, e)
	return nil
}

func (s *memStore) ListEvents(ctx context.Context, projectID string, limit int) ([]state.TaskEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []state.TaskEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].ProjectID != projectID {
			continue
		}
		out = append(out, s.events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) CompletedSteps(ctx context.Context, taskID string) ([]models.StepName, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[models.StepName]bool)
	var steps []models.StepName
	for _, ev := range s.events {
		if ev.TaskID == taskID && ev.Type == state.EventStepCompleted && !seen[ev.Step] {
			seen[ev.Step] = true
			steps = append(steps, ev.Step)
		}
	}
	return steps, nil
}

func (s *memStore) ResetInterruptedTasks(ctx context.Context, projectID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tasks {
		if t.ProjectID == projectID && t.Status == models.TaskStatusInProgress {
			t.Status = models.TaskStatusPending
			n++
		}
	}
	return n, nil
}

func (s *memStore) task(id string) *models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id].Clone()
}

func (s *memStore) countEvents(taskID string, typ state.TaskEventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.TaskID == taskID && ev.Type == typ {
			n++
		}
	}
	return n
}

var _ Store = (*memStore)(nil)

// fakeSpawner hands out fake workspaces and tracks which are live.
type fakeSpawner struct {
	mu          sync.Mutex
	active      map[string]bool
	spawned     []models.AgentType
	specialized []agent.SpecializedConfig
	adopted     []string
	cleanups    int
	cleanupAll  int
	failSpawn   bool
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{active: make(map[string]bool)}
}

func (f *fakeSpawner) SpawnAgent(ctx context.Context, task *models.Task, agentType models.AgentType, agentCtx *agent.Context) models.AgentSpawnResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSpawn {
		return models.AgentSpawnResult{AgentType: agentType, TaskID: task.ID, Error: "no capacity"}
	}
	f.active[task.ID] = true
	f.spawned = append(f.spawned, agentType)
	return models.AgentSpawnResult{
		Success:      true,
		AgentType:    agentType,
		TaskID:       task.ID,
		SessionID:    "cw-" + task.ID,
		WorktreePath: "/work/" + task.ID,
	}
}

func (f *fakeSpawner) SpawnSpecializedAgent(ctx context.Context, cfg agent.SpecializedConfig) models.AgentSpawnResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[cfg.TaskID] = true
	f.specialized = append(f.specialized, cfg)
	return models.AgentSpawnResult{
		Success:      true,
		AgentType:    cfg.AgentType,
		TaskID:       cfg.TaskID,
		Branch:       "debug/" + cfg.TaskID,
		WorktreePath: "/work/" + cfg.TaskID,
	}
}

func (f *fakeSpawner) TaskBranch(taskID string) string {
	return "feature/" + taskID
}

func (f *fakeSpawner) AdoptBranch(ctx context.Context, taskID, from string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adopted = append(f.adopted, f.TaskBranch(taskID)+"<-"+from)
	return nil
}

func (f *fakeSpawner) CleanupAgent(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, taskID)
	f.cleanups++
	return nil
}

func (f *fakeSpawner) CleanupAll(ctx context.Context) map[string]error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = make(map[string]bool)
	f.cleanupAll++
	return nil
}

func (f *fakeSpawner) ActiveTaskIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.active))
	for id := range f.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// stepCall identifies one executed step.
type stepCall struct {
	TaskID    string
	Step      models.StepName
	AgentType models.AgentType
	Attempt   int
}

func (c stepCall) String() string {
	return fmt.Sprintf("%s/%s#%d", c.TaskID, c.Step, c.Attempt)
}

// fakeExecutor records executed steps and delegates to fn when set.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []stepCall
	fn    func(ctx context.Context, req StepRequest) (StepResult, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, req StepRequest) (StepResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, stepCall{TaskID: req.Task.ID, Step: req.Step, AgentType: req.AgentType, Attempt: req.Attempt})
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return StepResult{Duration: time.Millisecond}, nil
}

func (f *fakeExecutor) recorded() []stepCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stepCall(nil), f.calls...)
}

// testConfig returns settings that keep runs fast.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Orchestrator.PollInterval = 10 * time.Millisecond
	cfg.Orchestrator.MaxConcurrentTasks = 2
	cfg.Orchestrator.MaxStepRetries = 2
	cfg.Budget.Allocated = 0
	cfg.Health.ProgressDebounce = time.Millisecond
	return cfg
}

// writePlan writes a plan file into a fresh project root.
func writePlan(t *testing.T, yaml string) string {
	t.Helper()
	root := t.TempDir()
	path := plan.Path(root)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	return root
}

type harness struct {
	orch    *Orchestrator
	root    string
	store   *memStore
	spawner *fakeSpawner
	exec    *fakeExecutor
}

// newHarness builds an initialized orchestrator over fakes.
func newHarness(t *testing.T, planYAML string, cfg *config.Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		root:    writePlan(t, planYAML),
		store:   newMemStore(),
		spawner: newFakeSpawner(),
		exec:    &fakeExecutor{},
	}
	return h.init(t, cfg, opts...)
}

func (h *harness) init(t *testing.T, cfg *config.Config, opts ...Option) *harness {
	t.Helper()
	opts = append([]Option{WithConfig(cfg), WithLogger(NopLogger()), WithSignals(false)}, opts...)
	h.orch = New(RequiredConfig{Store: h.store, Spawner: h.spawner, Executor: h.exec}, opts...)
	if err := h.orch.Initialize(context.Background(), h.root); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { h.orch.Shutdown(context.Background()) })
	return h
}

// start runs the orchestrator with a deadline so a hung loop fails the test.
func (h *harness) start(t *testing.T) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := h.orch.Start(ctx)
	if ctx.Err() != nil {
		t.Fatalf("run did not finish: %v", err)
	}
	return err
}

// drainEvents shuts the orchestrator down and returns every emitted event type.
func (h *harness) drainEvents(t *testing.T) []EventType {
	t.Helper()
	if err := h.orch.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	var types []EventType
	for ev := range h.orch.Events() {
		types = append(types, ev.Type)
	}
	return types
}

func countType(types []EventType, want EventType) int {
	n := 0
	for _, typ := range types {
		if typ == want {
			n++
		}
	}
	return n
}
