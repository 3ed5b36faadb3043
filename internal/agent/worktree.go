package agent

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/git"
	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// managedBranchPrefixes identify branches created by the spawner.
var managedBranchPrefixes = []string{DefaultBranchPrefix, "debug/", "codesavant/", "specialized/"}

// Verify WorktreeManager implements the workspace interfaces at compile time.
var (
	_ WorkspaceProvider = (*WorktreeManager)(nil)
	_ BranchUpdater     = (*WorktreeManager)(nil)
)

// WorktreeManager provides task workspaces backed by git worktrees.
type WorktreeManager struct {
	baseDir  string // Directory holding the worktrees
	repoPath string // Path to the main git repository
	git      git.Runner

	mu     sync.Mutex
	byTask map[string]models.WorktreeInfo
}

// NewWorktreeManager creates a WorktreeManager for the repository at repoPath.
// baseDir defaults to ~/.cache/cortexweaver/worktrees.
func NewWorktreeManager(baseDir, repoPath string) (*WorktreeManager, error) {
	return NewWorktreeManagerWithRunner(baseDir, repoPath, git.NewRunner(repoPath))
}

// NewWorktreeManagerWithRunner creates a WorktreeManager with a custom git runner (for testing).
func NewWorktreeManagerWithRunner(baseDir, repoPath string, runner git.Runner) (*WorktreeManager, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".cache", "cortexweaver", "worktrees")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}

	return &WorktreeManager{
		baseDir:  baseDir,
		repoPath: repoPath,
		git:      runner,
		byTask:   make(map[string]models.WorktreeInfo),
	}, nil
}

// CreateWorkspace adds a worktree for branch. An existing branch is checked
// out as-is so work from earlier steps of the same task carries over.
func (m *WorktreeManager) CreateWorkspace(ctx context.Context, taskID, branch, baseBranch string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if wt, ok := m.byTask[taskID]; ok {
		return "", fmt.Errorf("workspace for task %s already exists at %s", taskID, wt.Path)
	}

	path := filepath.Join(m.baseDir, worktreeDirName(branch))

	exists, err := m.git.BranchExists(ctx, branch)
	if err != nil {
		return "", fmt.Errorf("check branch %s: %w", branch, err)
	}
	if exists {
		err = m.git.WorktreeAdd(ctx, path, branch)
	} else {
		err = m.git.WorktreeAddFromBase(ctx, path, branch, baseBranch)
	}
	if err != nil {
		return "", fmt.Errorf("create worktree: %w", err)
	}

	m.byTask[taskID] = models.WorktreeInfo{
		ID:        worktreeDirName(branch),
		TaskID:    taskID,
		Path:      path,
		Branch:    branch,
		Status:    models.ResourceActive,
		CreatedAt: time.Now(),
	}
	return path, nil
}

// FastForwardBranch points branch at to when branch is an ancestor of to.
// A branch checked out in one of the manager's workspaces is left alone.
func (m *WorktreeManager) FastForwardBranch(ctx context.Context, branch, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, wt := range m.byTask {
		if wt.Branch == branch {
			return fmt.Errorf("branch %s is checked out at %s", branch, wt.Path)
		}
	}

	ok, err := m.git.IsAncestor(ctx, branch, to)
	if err != nil {
		return fmt.Errorf("compare %s and %s: %w", branch, to, err)
	}
	if !ok {
		return fmt.Errorf("%s is not a fast-forward of %s", to, branch)
	}
	return m.git.ResetBranch(ctx, branch, to)
}

// RemoveWorkspace force-removes the task's worktree. The branch is kept.
func (m *WorktreeManager) RemoveWorkspace(ctx context.Context, taskID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wt, ok := m.byTask[taskID]
	if !ok {
		return false, nil
	}
	if err := m.removeLocked(ctx, wt.Path); err != nil {
		return false, err
	}
	delete(m.byTask, taskID)
	return true, nil
}

// removeLocked removes a worktree, falling back to deleting the directory.
func (m *WorktreeManager) removeLocked(ctx context.Context, path string) error {
	_ = m.git.WorktreeUnlock(ctx, path) // May not be locked

	if err := m.git.WorktreeRemove(ctx, path); err != nil {
		log.Printf("[worktree] git remove %s failed, deleting directory: %v", path, err)
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("remove worktree %s: %w", path, rmErr)
		}
		_ = m.git.WorktreePruneExpireNow(ctx)
	}
	return nil
}

// ListWorkspaces returns the worktrees on spawner-managed branches.
func (m *WorktreeManager) ListWorkspaces(ctx context.Context) ([]models.WorktreeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	output, err := m.git.WorktreeListPorcelain(ctx)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}

	parsed, err := parseWorktreeList(output)
	if err != nil {
		return nil, err
	}

	var infos []models.WorktreeInfo
	for _, wt := range parsed {
		taskID, ok := taskIDFromBranch(wt.Branch)
		if !ok || wt.Path == m.repoPath {
			continue
		}
		if known, tracked := m.byTask[taskID]; tracked && known.Path == wt.Path {
			infos = append(infos, known)
			continue
		}
		wt.ID = filepath.Base(wt.Path)
		wt.TaskID = taskID
		wt.Status = models.ResourceUnknown
		infos = append(infos, wt)
	}
	return infos, nil
}

// ListOrphans returns managed worktrees whose task is not in activeTaskIDs.
func (m *WorktreeManager) ListOrphans(ctx context.Context, activeTaskIDs []string) ([]models.WorktreeInfo, error) {
	all, err := m.ListWorkspaces(ctx)
	if err != nil {
		return nil, err
	}

	active := make(map[string]bool, len(activeTaskIDs))
	for _, id := range activeTaskIDs {
		active[id] = true
	}

	var orphans []models.WorktreeInfo
	for _, wt := range all {
		if !active[wt.TaskID] {
			orphans = append(orphans, wt)
		}
	}
	return orphans, nil
}

// CleanupOrphans removes orphaned worktrees and returns how many were removed.
// If verbose is provided, it is called for each removed worktree.
func (m *WorktreeManager) CleanupOrphans(ctx context.Context, activeTaskIDs []string, verbose func(path string)) (int, error) {
	orphans, err := m.ListOrphans(ctx, activeTaskIDs)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, wt := range orphans {
		if err := m.removeLocked(ctx, wt.Path); err != nil {
			log.Printf("[worktree] skipping orphan %s: %v", wt.Path, err)
			continue
		}
		delete(m.byTask, wt.TaskID)
		if verbose != nil {
			verbose(wt.Path)
		}
		removed++
	}

	_ = m.git.WorktreePruneExpireNow(ctx) // Worktrees already removed
	return removed, nil
}

// BaseDir returns the base directory where worktrees are created.
func (m *WorktreeManager) BaseDir() string {
	return m.baseDir
}

// parseWorktreeList parses the output of 'git worktree list --porcelain'.
func parseWorktreeList(output string) ([]models.WorktreeInfo, error) {
	var worktrees []models.WorktreeInfo
	var current *models.WorktreeInfo

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current != nil {
				worktrees = append(worktrees, *current)
				current = nil
			}
			continue
		}

		if strings.HasPrefix(line, "worktree ") {
			current = &models.WorktreeInfo{Path: strings.TrimPrefix(line, "worktree ")}
		} else if strings.HasPrefix(line, "branch ") && current != nil {
			// Format: branch refs/heads/<name>
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}

	// Output may not end with a blank line
	if current != nil {
		worktrees = append(worktrees, *current)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}
	return worktrees, nil
}
