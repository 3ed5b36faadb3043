package agent

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/git"
)

// fakeGit records worktree operations without touching a repository.
type fakeGit struct {
	mu        sync.Mutex
	branches  map[string]bool
	added     map[string]string // path -> branch
	removed   []string
	removeErr error
	addErr    error
	porcelain string
	ancestors map[string]bool // "branch..to" pairs that fast-forward
	resets    map[string]string
	bases     map[string]string // branch -> base it was created from
}

var _ git.Runner = (*fakeGit)(nil)

func newFakeGit() *fakeGit {
	return &fakeGit{
		branches:  map[string]bool{"main": true},
		added:     make(map[string]string),
		ancestors: make(map[string]bool),
		resets:    make(map[string]string),
		bases:     make(map[string]string),
	}
}

func (f *fakeGit) BranchExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.branches[name], nil
}

func (f *fakeGit) WorktreeAddFromBase(ctx context.Context, path, branch, base string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.branches[branch] = true
	f.bases[branch] = base
	f.added[path] = branch
	return nil
}

func (f *fakeGit) WorktreeAdd(ctx context.Context, path, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added[path] = branch
	return nil
}

func (f *fakeGit) WorktreeRemove(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, path)
	delete(f.added, path)
	return nil
}

func (f *fakeGit) WorktreeUnlock(ctx context.Context, path string) error { return nil }

func (f *fakeGit) WorktreeListPorcelain(ctx context.Context) (string, error) {
	return f.porcelain, nil
}

func (f *fakeGit) WorktreePruneExpireNow(ctx context.Context) error { return nil }

func (f *fakeGit) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ancestors[ancestor+".."+descendant], nil
}

func (f *fakeGit) ResetBranch(ctx context.Context, branch, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[branch] = target
	return nil
}

func TestWorktreeManagerCreateAndRemove(t *testing.T) {
	ctx := context.Background()
	runner := newFakeGit()
	base := t.TempDir()

	m, err := NewWorktreeManagerWithRunner(base, "/repo", runner)
	if err != nil {
		t.Fatalf("NewWorktreeManagerWithRunner: %v", err)
	}

	path, err := m.CreateWorkspace(ctx, "task-1", "feature/task-1", "main")
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if want := filepath.Join(base, "feature%2Ftask-1"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if runner.added[path] != "feature/task-1" {
		t.Errorf("expected worktree on feature/task-1, got %q", runner.added[path])
	}

	if _, err := m.CreateWorkspace(ctx, "task-1", "feature/task-1", "main"); err == nil {
		t.Error("expected error creating a second workspace for the same task")
	}

	removed, err := m.RemoveWorkspace(ctx, "task-1")
	if err != nil || !removed {
		t.Fatalf("RemoveWorkspace = %v, %v; want true, nil", removed, err)
	}

	removed, err = m.RemoveWorkspace(ctx, "task-1")
	if err != nil || removed {
		t.Errorf("second RemoveWorkspace = %v, %v; want false, nil", removed, err)
	}
}

func TestWorktreeManagerReusesExistingBranch(t *testing.T) {
	ctx := context.Background()
	runner := newFakeGit()
	runner.branches["feature/task-2"] = true

	m, err := NewWorktreeManagerWithRunner(t.TempDir(), "/repo", runner)
	if err != nil {
		t.Fatalf("NewWorktreeManagerWithRunner: %v", err)
	}

	path, err := m.CreateWorkspace(ctx, "task-2", "feature/task-2", "main")
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if runner.added[path] != "feature/task-2" {
		t.Errorf("expected existing branch checked out, got %q", runner.added[path])
	}
}

func TestWorktreeManagerSeparatesLookalikeTasks(t *testing.T) {
	ctx := context.Background()
	m, err := NewWorktreeManagerWithRunner(t.TempDir(), "/repo", newFakeGit())
	if err != nil {
		t.Fatalf("NewWorktreeManagerWithRunner: %v", err)
	}

	ids := []string{"a/b", "a-b", "a b", "a%2Fb", "a..b", "a.b"}
	paths := make(map[string]string)
	branches := make(map[string]string)
	for _, id := range ids {
		branch := BranchName(DefaultBranchPrefix, id)
		if other, dup := branches[branch]; dup {
			t.Fatalf("tasks %q and %q share branch %q", other, id, branch)
		}
		branches[branch] = id

		path, err := m.CreateWorkspace(ctx, id, branch, "main")
		if err != nil {
			t.Fatalf("CreateWorkspace(%q): %v", id, err)
		}
		if other, dup := paths[path]; dup {
			t.Fatalf("tasks %q and %q share workspace %q", other, id, path)
		}
		paths[path] = id

		if got, ok := taskIDFromBranch(branch); !ok || got != id {
			t.Errorf("taskIDFromBranch(%q) = %q, %v; want %q", branch, got, ok, id)
		}
	}

	// Raw branches that only differ by '/' versus '-' stay apart too.
	if worktreeDirName("feature/a/b") == worktreeDirName("feature/a-b") {
		t.Error("worktreeDirName collapses '/' and '-'")
	}
}

func TestWorktreeManagerFastForwardBranch(t *testing.T) {
	ctx := context.Background()
	runner := newFakeGit()
	runner.ancestors["feature/t..debug/t"] = true

	m, err := NewWorktreeManagerWithRunner(t.TempDir(), "/repo", runner)
	if err != nil {
		t.Fatalf("NewWorktreeManagerWithRunner: %v", err)
	}

	if err := m.FastForwardBranch(ctx, "feature/t", "debug/t"); err != nil {
		t.Fatalf("FastForwardBranch: %v", err)
	}
	if runner.resets["feature/t"] != "debug/t" {
		t.Errorf("resets = %v, want feature/t -> debug/t", runner.resets)
	}

	if err := m.FastForwardBranch(ctx, "feature/u", "debug/u"); err == nil {
		t.Error("expected error for a diverged branch")
	}

	if _, err := m.CreateWorkspace(ctx, "t", "feature/t", "main"); err != nil {
		t.Fatal(err)
	}
	runner.resets = make(map[string]string)
	if err := m.FastForwardBranch(ctx, "feature/t", "debug/t"); err == nil {
		t.Error("expected error while feature/t is checked out")
	}
	if len(runner.resets) != 0 {
		t.Errorf("branch moved while checked out: %v", runner.resets)
	}
}

func TestWorktreeManagerCreateFailure(t *testing.T) {
	runner := newFakeGit()
	runner.addErr = errors.New("fatal: invalid reference")

	m, err := NewWorktreeManagerWithRunner(t.TempDir(), "/repo", runner)
	if err != nil {
		t.Fatalf("NewWorktreeManagerWithRunner: %v", err)
	}

	if _, err := m.CreateWorkspace(context.Background(), "t", "feature/t", "missing"); err == nil {
		t.Fatal("expected error")
	}
	if removed, _ := m.RemoveWorkspace(context.Background(), "t"); removed {
		t.Error("failed create should not be tracked")
	}
}

func TestParseWorktreeList(t *testing.T) {
	output := `worktree /home/user/project
branch refs/heads/main

worktree /home/user/.cache/cortexweaver/worktrees/feature-abc
branch refs/heads/feature/abc

worktree /home/user/.cache/cortexweaver/worktrees/debug-def
branch refs/heads/debug/def`

	worktrees, err := parseWorktreeList(output)
	if err != nil {
		t.Fatalf("parseWorktreeList() error = %v", err)
	}
	if len(worktrees) != 3 {
		t.Fatalf("expected 3 worktrees, got %d", len(worktrees))
	}
	if worktrees[0].Branch != "main" {
		t.Errorf("worktrees[0].Branch = %q, want main", worktrees[0].Branch)
	}
	if worktrees[2].Path != "/home/user/.cache/cortexweaver/worktrees/debug-def" {
		t.Errorf("last worktree path = %q", worktrees[2].Path)
	}
}

func TestTaskIDFromBranch(t *testing.T) {
	tests := []struct {
		branch string
		want   string
		ok     bool
	}{
		{"feature/task-1", "task-1", true},
		{"debug/task-2", "task-2", true},
		{"codesavant/x", "x", true},
		{"specialized/y", "y", true},
		{"feature/task%201", "task 1", true},
		{"feature/a%2Fb", "a/b", true},
		{"feature/a.%2Eb", "a..b", true},
		{"feature/bad%zz", "", false},
		{"main", "", false},
		{"feature/", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.branch, func(t *testing.T) {
			got, ok := taskIDFromBranch(tt.branch)
			if got != tt.want || ok != tt.ok {
				t.Errorf("taskIDFromBranch(%q) = %q, %v; want %q, %v", tt.branch, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestCleanupOrphans(t *testing.T) {
	ctx := context.Background()
	runner := newFakeGit()
	runner.porcelain = `worktree /repo
branch refs/heads/main

worktree /wt/feature-live
branch refs/heads/feature/live

worktree /wt/feature-dead
branch refs/heads/feature/dead
`

	m, err := NewWorktreeManagerWithRunner(t.TempDir(), "/repo", runner)
	if err != nil {
		t.Fatalf("NewWorktreeManagerWithRunner: %v", err)
	}

	orphans, err := m.ListOrphans(ctx, []string{"live"})
	if err != nil {
		t.Fatalf("ListOrphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0].TaskID != "dead" {
		t.Fatalf("expected orphan for task dead, got %+v", orphans)
	}

	var seen []string
	n, err := m.CleanupOrphans(ctx, []string{"live"}, func(path string) { seen = append(seen, path) })
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	if n != 1 || len(seen) != 1 || seen[0] != "/wt/feature-dead" {
		t.Errorf("CleanupOrphans removed %d %v, want 1 [/wt/feature-dead]", n, seen)
	}
}
