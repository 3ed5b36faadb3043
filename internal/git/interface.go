// Package git wraps the git commands that back per-task worktrees.
package git

import "context"

// Runner is the subset of git used to give each task an isolated worktree.
type Runner interface {
	// BranchExists reports whether refs/heads/name exists.
	BranchExists(ctx context.Context, name string) (bool, error)
	// WorktreeAddFromBase creates a worktree at path on a new branch started
	// from base (git worktree add -b branch path base).
	WorktreeAddFromBase(ctx context.Context, path, branch, base string) error
	// WorktreeAdd creates a worktree at path for an existing branch.
	WorktreeAdd(ctx context.Context, path, branch string) error
	// WorktreeRemove force-removes the worktree at the given path.
	WorktreeRemove(ctx context.Context, path string) error
	// WorktreeUnlock unlocks a locked worktree.
	WorktreeUnlock(ctx context.Context, path string) error
	// WorktreeListPorcelain returns git worktree list --porcelain output.
	WorktreeListPorcelain(ctx context.Context) (string, error)
	// WorktreePruneExpireNow prunes stale worktree metadata immediately.
	WorktreePruneExpireNow(ctx context.Context) error
	// IsAncestor reports whether ancestor is reachable from descendant.
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)
	// ResetBranch points branch at target (git branch -f). git refuses when
	// branch is checked out in a worktree.
	ResetBranch(ctx context.Context, branch, target string) error
}
