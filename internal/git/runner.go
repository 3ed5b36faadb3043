package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	iexec "github.com/mlbrilliance/CortexWeaver-sub005/internal/exec"
)

// ExecRunner runs git in a repository through a CommandRunner.
type ExecRunner struct {
	repoPath string
	cmd      iexec.CommandRunner
}

// NewRunner creates a git runner for the repository at repoPath.
func NewRunner(repoPath string) *ExecRunner {
	return NewRunnerWith(repoPath, iexec.NewRunner())
}

// NewRunnerWith creates a git runner that executes through cmd.
func NewRunnerWith(repoPath string, cmd iexec.CommandRunner) *ExecRunner {
	return &ExecRunner{repoPath: repoPath, cmd: cmd}
}

// git runs a git subcommand and returns its trimmed output.
func (r *ExecRunner) git(ctx context.Context, args ...string) (string, error) {
	out, err := r.cmd.Run(ctx, r.repoPath, "git", args...)
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		return trimmed, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, trimmed)
	}
	return trimmed, nil
}

// BranchExists returns true if the branch exists. git show-ref exits 1 for
// a missing ref; any other failure is returned.
func (r *ExecRunner) BranchExists(ctx context.Context, name string) (bool, error) {
	_, err := r.git(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err == nil {
		return true, nil
	}
	var cmdErr *iexec.CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
		return false, nil
	}
	return false, err
}

// WorktreeAddFromBase creates a new worktree on a new branch from base.
func (r *ExecRunner) WorktreeAddFromBase(ctx context.Context, path, branch, base string) error {
	args := []string{"worktree", "add", "-b", branch, path}
	if base != "" {
		args = append(args, base)
	}
	_, err := r.git(ctx, args...)
	return err
}

// WorktreeAdd creates a new worktree at the given path for the branch.
func (r *ExecRunner) WorktreeAdd(ctx context.Context, path, branch string) error {
	_, err := r.git(ctx, "worktree", "add", path, branch)
	return err
}

// WorktreeRemove removes the worktree at the given path.
func (r *ExecRunner) WorktreeRemove(ctx context.Context, path string) error {
	_, err := r.git(ctx, "worktree", "remove", "--force", path)
	return err
}

// WorktreeUnlock unlocks a locked worktree.
func (r *ExecRunner) WorktreeUnlock(ctx context.Context, path string) error {
	_, err := r.git(ctx, "worktree", "unlock", path)
	return err
}

// WorktreeListPorcelain returns the raw porcelain output for detailed parsing.
func (r *ExecRunner) WorktreeListPorcelain(ctx context.Context) (string, error) {
	return r.git(ctx, "worktree", "list", "--porcelain")
}

// WorktreePruneExpireNow prunes worktrees with --expire now.
func (r *ExecRunner) WorktreePruneExpireNow(ctx context.Context) error {
	_, err := r.git(ctx, "worktree", "prune", "--expire", "now")
	return err
}

// IsAncestor runs git merge-base --is-ancestor, which exits 1 when
// ancestor is not reachable from descendant.
func (r *ExecRunner) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	_, err := r.git(ctx, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	var cmdErr *iexec.CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
		return false, nil
	}
	return false, err
}

// ResetBranch points branch at target.
func (r *ExecRunner) ResetBranch(ctx context.Context, branch, target string) error {
	_, err := r.git(ctx, "branch", "-f", branch, target)
	return err
}

var _ Runner = (*ExecRunner)(nil)
