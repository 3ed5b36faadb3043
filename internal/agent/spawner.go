package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

const (
	// DefaultBranchPrefix is used for agents working through the step sequence.
	DefaultBranchPrefix = "feature/"
	// DefaultBaseBranch is the branch new workspaces start from.
	DefaultBaseBranch = "main"
)

// Handle records the resources held by a spawned agent.
type Handle struct {
	TaskID       string
	AgentType    models.AgentType
	SessionID    string
	WorktreePath string
	Branch       string
	StartedAt    time.Time
}

// SpecializedConfig describes an out-of-sequence remediation agent.
type SpecializedConfig struct {
	TaskID    string
	AgentType models.AgentType
	Context   *Context
	// BranchPrefix overrides the role default when set.
	BranchPrefix string
	// BaseBranch is where a new remediation branch starts. It defaults to
	// the task's own branch so the agent sees the failing work.
	BaseBranch string
}

// SpawnerConfig configures a Spawner.
type SpawnerConfig struct {
	BaseBranch   string
	BranchPrefix string
}

// Spawner provisions one workspace and session per task and tears them down.
type Spawner struct {
	workspaces   WorkspaceProvider
	sessions     SessionProvider
	deliverer    ContextDeliverer
	baseBranch   string
	branchPrefix string

	mu     sync.Mutex
	active map[string]*Handle
	group  singleflight.Group

	debugLog func(format string, args ...interface{})
}

// NewSpawner creates a Spawner. If sessions implements ContextDeliverer,
// agent contexts are delivered to each new session.
func NewSpawner(workspaces WorkspaceProvider, sessions SessionProvider, cfg SpawnerConfig) *Spawner {
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = DefaultBaseBranch
	}
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = DefaultBranchPrefix
	}
	deliverer, _ := sessions.(ContextDeliverer)
	return &Spawner{
		workspaces:   workspaces,
		sessions:     sessions,
		deliverer:    deliverer,
		baseBranch:   cfg.BaseBranch,
		branchPrefix: cfg.BranchPrefix,
		active:       make(map[string]*Handle),
		debugLog:     func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (s *Spawner) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		s.debugLog = fn
	}
}

// SpawnAgent provisions a workspace on <prefix><taskID> and a session bound to it.
func (s *Spawner) SpawnAgent(ctx context.Context, task *models.Task, agentType models.AgentType, agentCtx *Context) models.AgentSpawnResult {
	if task == nil || task.ID == "" {
		return models.AgentSpawnResult{AgentType: agentType, Error: "task is required"}
	}
	return s.spawn(ctx, task.ID, agentType, s.TaskBranch(task.ID), s.baseBranch, agentCtx)
}

// SpawnSpecializedAgent provisions a remediation agent on a role-specific branch.
func (s *Spawner) SpawnSpecializedAgent(ctx context.Context, cfg SpecializedConfig) models.AgentSpawnResult {
	if cfg.TaskID == "" {
		return models.AgentSpawnResult{AgentType: cfg.AgentType, Error: "task is required"}
	}
	prefix := cfg.BranchPrefix
	if prefix == "" {
		prefix = SpecializedBranchPrefix(cfg.AgentType)
	}
	base := cfg.BaseBranch
	if base == "" {
		base = s.TaskBranch(cfg.TaskID)
	}
	return s.spawn(ctx, cfg.TaskID, cfg.AgentType, BranchName(prefix, cfg.TaskID), base, cfg.Context)
}

// TaskBranch returns the branch the task's step agents work on.
func (s *Spawner) TaskBranch(taskID string) string {
	return BranchName(s.branchPrefix, taskID)
}

// spawn lets one of several concurrent spawns for a task provision. The
// others get ErrAgentActive, so only one caller ever owns the handle.
func (s *Spawner) spawn(ctx context.Context, taskID string, agentType models.AgentType, branch, base string, agentCtx *Context) models.AgentSpawnResult {
	leader := false
	v, _, _ := s.group.Do(taskID, func() (interface{}, error) {
		leader = true
		return s.provision(ctx, taskID, agentType, branch, base, agentCtx), nil
	})
	if !leader {
		return fail(models.AgentSpawnResult{AgentType: agentType, TaskID: taskID, Branch: branch}, ErrAgentActive)
	}
	return v.(models.AgentSpawnResult)
}

func (s *Spawner) provision(ctx context.Context, taskID string, agentType models.AgentType, branch, base string, agentCtx *Context) (result models.AgentSpawnResult) {
	result = models.AgentSpawnResult{AgentType: agentType, TaskID: taskID, Branch: branch}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[spawner] task %s: recovered from panic during spawn: %v", taskID, r)
			result = fail(result, fmt.Errorf("spawn panicked: %v", r))
		}
	}()

	s.mu.Lock()
	_, busy := s.active[taskID]
	s.mu.Unlock()
	if busy {
		return fail(result, ErrAgentActive)
	}

	if err := ctx.Err(); err != nil {
		return fail(result, err)
	}

	s.debugLog("[spawner] task %s: creating workspace on %s from %s", taskID, branch, base)
	path, err := s.workspaces.CreateWorkspace(ctx, taskID, branch, base)
	if err != nil {
		return fail(result, fmt.Errorf("create workspace: %w", err))
	}
	result.WorktreePath = path

	// Rollback must run even when ctx was cancelled mid-spawn.
	rollbackCtx := context.WithoutCancel(ctx)

	sessionID, err := s.sessions.CreateSession(ctx, taskID, path)
	if err != nil {
		s.rollbackWorkspace(rollbackCtx, taskID)
		result.WorktreePath = ""
		return fail(result, fmt.Errorf("create session: %w", err))
	}

	if s.deliverer != nil && agentCtx != nil {
		if err := s.deliverer.DeliverContext(ctx, sessionID, agentCtx); err != nil {
			if closeErr := s.sessions.CloseSession(rollbackCtx, sessionID); closeErr != nil && !errors.Is(closeErr, ErrSessionNotFound) {
				log.Printf("[spawner] task %s: rollback close session %s: %v", taskID, sessionID, closeErr)
			}
			s.rollbackWorkspace(rollbackCtx, taskID)
			result.WorktreePath = ""
			return fail(result, fmt.Errorf("deliver context: %w", err))
		}
	}

	s.mu.Lock()
	s.active[taskID] = &Handle{
		TaskID:       taskID,
		AgentType:    agentType,
		SessionID:    sessionID,
		WorktreePath: path,
		Branch:       branch,
		StartedAt:    time.Now(),
	}
	s.mu.Unlock()

	s.debugLog("[spawner] task %s: agent %s ready in session %s", taskID, agentType, sessionID)
	result.Success = true
	result.SessionID = sessionID
	return result
}

func (s *Spawner) rollbackWorkspace(ctx context.Context, taskID string) {
	if _, err := s.workspaces.RemoveWorkspace(ctx, taskID); err != nil {
		log.Printf("[spawner] task %s: rollback remove workspace: %v", taskID, err)
	}
}

func fail(result models.AgentSpawnResult, err error) models.AgentSpawnResult {
	result.Success = false
	result.Error = err.Error()
	return result
}

// AdoptBranch moves the task's branch forward to from, typically a
// remediation branch started from it. Only fast-forwards are allowed.
func (s *Spawner) AdoptBranch(ctx context.Context, taskID, from string) error {
	updater, ok := s.workspaces.(BranchUpdater)
	if !ok {
		return fmt.Errorf("adopt %s for task %s: workspace provider cannot update branches", from, taskID)
	}
	to := s.TaskBranch(taskID)
	if err := updater.FastForwardBranch(ctx, to, from); err != nil {
		return fmt.Errorf("adopt %s for task %s: %w", from, taskID, err)
	}
	s.debugLog("[spawner] task %s: %s fast-forwarded to %s", taskID, to, from)
	return nil
}

// CleanupAgent closes the task's session and removes its workspace.
// Missing resources are ignored; only unexpected failures are returned.
func (s *Spawner) CleanupAgent(ctx context.Context, taskID string) error {
	s.mu.Lock()
	handle := s.active[taskID]
	delete(s.active, taskID)
	s.mu.Unlock()

	var errs []error

	for _, sessionID := range s.sessionsFor(ctx, taskID, handle) {
		err := s.sessions.CloseSession(ctx, sessionID)
		switch {
		case err == nil:
		case errors.Is(err, ErrSessionNotFound):
			s.debugLog("[spawner] task %s: session %s already closed", taskID, sessionID)
		default:
			errs = append(errs, fmt.Errorf("close session %s: %w", sessionID, err))
		}
	}

	removed, err := s.workspaces.RemoveWorkspace(ctx, taskID)
	if err != nil {
		errs = append(errs, fmt.Errorf("remove workspace: %w", err))
	} else if !removed {
		s.debugLog("[spawner] task %s: no workspace to remove", taskID)
	}

	if len(errs) > 0 {
		log.Printf("[spawner] task %s: cleanup incomplete: %v", taskID, errs)
	}
	return errors.Join(errs...)
}

// sessionsFor returns the sessions to close for a task. Without a handle the
// provider is asked, which covers sessions left by an earlier process.
func (s *Spawner) sessionsFor(ctx context.Context, taskID string, handle *Handle) []string {
	if handle != nil {
		if handle.SessionID == "" {
			return nil
		}
		return []string{handle.SessionID}
	}

	sessions, err := s.sessions.ListActiveSessions(ctx)
	if err != nil {
		log.Printf("[spawner] task %s: list sessions: %v", taskID, err)
		return nil
	}
	var ids []string
	for _, info := range sessions {
		if info.TaskID == taskID {
			ids = append(ids, info.ID)
		}
	}
	return ids
}

// BatchCleanup cleans up each task concurrently. Every task ID gets an
// entry; nil means the cleanup succeeded.
func (s *Spawner) BatchCleanup(ctx context.Context, taskIDs []string) map[string]error {
	results := make(map[string]error, len(taskIDs))
	var mu sync.Mutex

	var g errgroup.Group
	for _, id := range taskIDs {
		g.Go(func() error {
			err := s.CleanupAgent(ctx, id)
			mu.Lock()
			results[id] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// CleanupAll cleans up every task with a live handle.
func (s *Spawner) CleanupAll(ctx context.Context) map[string]error {
	return s.BatchCleanup(ctx, s.ActiveTaskIDs())
}

// ActiveTaskIDs returns the tasks with live handles, sorted.
func (s *Spawner) ActiveTaskIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Handle returns a copy of the task's handle, or nil if it has none.
func (s *Spawner) Handle(taskID string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.active[taskID]
	if !ok {
		return nil
	}
	cp := *h
	return &cp
}
