package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/agent"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/config"
	iexec "github.com/mlbrilliance/CortexWeaver-sub005/internal/exec"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/plan"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/state"
	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

var (
	cleanupForce    bool
	cleanupVerbose  bool
	cleanupDryRun   bool
	cleanupEventAge time.Duration
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned worktrees and agent sessions",
	Long: `Clean up git worktrees and tmux sessions left behind by a crashed or
interrupted run.

A worktree or session is orphaned when its task is not being worked by a
running orchestrator. While a run is in progress its in-progress tasks are
left alone.

Examples:
  cortexweaver cleanup                       # Cleanup with confirmation
  cortexweaver cleanup --force               # Skip confirmation prompt
  cortexweaver cleanup --dry-run             # Show what would be removed
  cortexweaver cleanup --events-older 720h   # Also purge old task events`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVarP(&cleanupVerbose, "verbose", "v", false, "Show each resource as it's removed")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
	cleanupCmd.Flags().DurationVar(&cleanupEventAge, "events-older", 0, "Purge task events older than this age")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	repoPath, err := findGitRoot(root)
	if err != nil {
		return fmt.Errorf("find git repository: %w", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	db, err := state.OpenProject(root)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	active, err := activeTaskIDs(ctx, db, root)
	if err != nil {
		if cleanupVerbose {
			fmt.Printf("Warning: could not determine active tasks: %v\n", err)
			fmt.Println("Proceeding as if no run is active")
		}
		active = nil
	}

	worktrees, err := agent.NewWorktreeManager(cfg.Agent.WorktreeDir, repoPath)
	if err != nil {
		return fmt.Errorf("create worktree manager: %w", err)
	}
	sessions := agent.NewTmuxSessions(cfg.Agent.TmuxSocket, iexec.NewRunner())

	orphanTrees, err := worktrees.ListOrphans(ctx, active)
	if err != nil {
		return fmt.Errorf("list orphaned worktrees: %w", err)
	}
	orphanSessions, err := orphanedSessions(ctx, sessions, active)
	if err != nil {
		return fmt.Errorf("list orphaned sessions: %w", err)
	}

	if len(orphanTrees) == 0 && len(orphanSessions) == 0 {
		fmt.Println("No orphaned worktrees or sessions found.")
	} else {
		fmt.Printf("Found %d orphaned worktree(s) and %d orphaned session(s):\n", len(orphanTrees), len(orphanSessions))
		for _, wt := range orphanTrees {
			fmt.Printf("  - %s (branch: %s)\n", wt.Path, wt.Branch)
		}
		for _, s := range orphanSessions {
			fmt.Printf("  - tmux session %s (task: %s)\n", s.ID, s.TaskID)
		}
		fmt.Println()

		switch {
		case cleanupDryRun:
			fmt.Println("Dry run mode - nothing was removed.")
		case !cleanupForce && !confirm("Remove these resources? [y/N] "):
			fmt.Println("Cleanup cancelled.")
		default:
			removeOrphans(ctx, worktrees, sessions, active, orphanSessions)
		}
	}

	if cleanupEventAge > 0 {
		return purgeEvents(ctx, db)
	}
	return nil
}

// activeTaskIDs returns the in-progress tasks of a run that is still going.
// A project whose last recorded status is not running has no active tasks.
func activeTaskIDs(ctx context.Context, db *state.DB, root string) ([]string, error) {
	p, err := plan.LoadProject(root)
	if err != nil {
		return nil, err
	}
	snap, err := db.GetProjectStatus(ctx, p.Project)
	if err != nil {
		return nil, err
	}
	if snap == nil || snap.Status != models.StatusRunning {
		return nil, nil
	}

	tasks, err := db.GetTasksByProject(ctx, p.Project)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, t := range tasks {
		if t.Status == models.TaskStatusInProgress {
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

func orphanedSessions(ctx context.Context, sessions agent.SessionProvider, active []string) ([]models.SessionInfo, error) {
	all, err := sessions.ListActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	keep := make(map[string]bool, len(active))
	for _, id := range active {
		keep[id] = true
	}
	var orphans []models.SessionInfo
	for _, s := range all {
		if !keep[s.TaskID] {
			orphans = append(orphans, s)
		}
	}
	return orphans, nil
}

func removeOrphans(ctx context.Context, worktrees *agent.WorktreeManager, sessions agent.SessionProvider, active []string, orphanSessions []models.SessionInfo) {
	var verbose func(path string)
	if cleanupVerbose {
		verbose = func(path string) {
			fmt.Printf("Removed: %s\n", path)
		}
	}

	closed := 0
	for _, s := range orphanSessions {
		if err := sessions.CloseSession(ctx, s.ID); err != nil {
			printStatus("!", fmt.Sprintf("close session %s: %v", s.ID, err), color.FgYellow)
			continue
		}
		if verbose != nil {
			verbose("tmux session " + s.ID)
		}
		closed++
	}

	removed, err := worktrees.CleanupOrphans(ctx, active, verbose)
	if err != nil {
		printStatus("✗", fmt.Sprintf("cleanup orphaned worktrees: %v", err), color.FgRed)
		return
	}
	printStatus("✓", fmt.Sprintf("Removed %d worktree(s) and %d session(s).", removed, closed), color.FgGreen)
}

func purgeEvents(ctx context.Context, db *state.DB) error {
	if cleanupDryRun {
		fmt.Printf("Dry run: would purge task events older than %s.\n", cleanupEventAge)
		return nil
	}
	purged, err := db.PurgeEvents(ctx, cleanupEventAge)
	if err != nil {
		return err
	}
	fmt.Printf("Purged %d task event(s) older than %s.\n", purged, cleanupEventAge)
	return nil
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	response, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
