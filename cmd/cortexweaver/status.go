package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/plan"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/state"
	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

var statusEvents int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the project's last recorded status",
	Long: `Show the status recorded by the most recent run: lifecycle status,
progress, health, every task with its status, and the latest task events.

This reads .cortexweaver/state.db and does not start anything.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusEvents, "events", "n", 10, "Number of recent task events to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}

	p, err := plan.LoadProject(root)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}

	dbPath := state.ProjectDBPath(root)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Printf("Project: %s\n", p.Project)
		fmt.Println("No runs recorded yet. Start one with 'cortexweaver start'.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	snap, err := db.GetProjectStatus(ctx, p.Project)
	if err != nil {
		return err
	}
	tasks, err := db.GetTasksByProject(ctx, p.Project)
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	bold.Printf("Project: %s\n", p.Project)
	if snap == nil {
		fmt.Println("Status: idle (no run recorded)")
	} else {
		symbol, attr := lifecycleStyle(snap.Status)
		printStatus(symbol, fmt.Sprintf("Status: %s (updated %s ago)", snap.Status, time.Since(snap.UpdatedAt).Truncate(time.Second)), attr)
		if snap.LastError != "" {
			printStatus(" ", "Last error: "+snap.LastError, color.FgRed)
		}
		pr := snap.Progress
		fmt.Printf("Progress: %d%% (%d/%d tasks completed, %d failed)\n",
			pr.ProgressPercentage, pr.CompletedTasks, pr.TotalTasks, pr.ErrorTasks)
		h := snap.Health
		fmt.Printf("Health: %d active session(s)  budget %.1f%%  error rate %.1f%%\n",
			h.ActiveSessionsCount, h.BudgetUtilization, h.ErrorRate)
	}

	fmt.Println()
	bold.Printf("Tasks (%d)\n", len(tasks))
	for _, t := range tasks {
		symbol, attr := taskStyle(t.Status)
		line := fmt.Sprintf("%-20s %-12s %s", t.ID, t.Status, t.Title)
		if t.Error != "" {
			line += " - " + t.Error
		}
		printStatus(symbol, line, attr)
	}

	if statusEvents > 0 {
		events, err := db.ListEvents(ctx, p.Project, statusEvents)
		if err != nil {
			return err
		}
		if len(events) > 0 {
			fmt.Println()
			bold.Println("Recent events")
			for _, ev := range events {
				fmt.Printf("  %s  %-14s %-16s %s %s\n",
					ev.CreatedAt.Format("15:04:05"), ev.TaskID, ev.Type, ev.Step, ev.Message)
			}
		}
	}
	return nil
}

func lifecycleStyle(s models.OrchestratorStatus) (string, color.Attribute) {
	switch s {
	case models.StatusCompleted:
		return "✓", color.FgGreen
	case models.StatusError:
		return "✗", color.FgRed
	case models.StatusRunning:
		return "●", color.FgBlue
	default:
		return "○", color.FgWhite
	}
}

func taskStyle(s models.TaskStatus) (string, color.Attribute) {
	switch s {
	case models.TaskStatusCompleted:
		return "✓", color.FgGreen
	case models.TaskStatusFailed:
		return "✗", color.FgRed
	case models.TaskStatusInProgress:
		return "●", color.FgBlue
	case models.TaskStatusPaused:
		return "‖", color.FgYellow
	default:
		return "○", color.FgWhite
	}
}
