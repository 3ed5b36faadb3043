package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/agent"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/budget"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/config"
	iexec "github.com/mlbrilliance/CortexWeaver-sub005/internal/exec"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/orchestrator"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/state"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/status"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/tui"
)

var (
	startDashboard   bool
	startMetricsAddr string
	startBudget      float64
	startMaxParallel int
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the project's tasks",
	Long: `Run every task in .cortexweaver/plan.yaml through the step workflow.

Each ready task gets a git worktree and a tmux session. The configured agent
command runs once per step inside the worktree. Tasks whose dependencies are
complete run in parallel up to orchestrator.max_concurrent_tasks.

The run ends when every task is completed or failed, when the budget is
exhausted, or when it is stopped. Ctrl+C stops the run gracefully; a second
Ctrl+C cancels in-flight steps immediately.

Examples:
  cortexweaver start                          # Headless, events on stdout
  cortexweaver start --dashboard              # Live dashboard
  cortexweaver start --budget 20              # Override the cost ceiling
  cortexweaver start --metrics-addr :9464     # Serve Prometheus metrics`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&startDashboard, "dashboard", "d", false, "Show the live dashboard")
	startCmd.Flags().StringVar(&startMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	startCmd.Flags().Float64Var(&startBudget, "budget", 0, "Cost ceiling in dollars (0 means unlimited)")
	startCmd.Flags().IntVar(&startMaxParallel, "max-parallel", 0, "Maximum concurrently running tasks")
}

func runStart(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("budget") {
		cfg.Budget.Allocated = startBudget
	}
	if startMaxParallel > 0 {
		cfg.Orchestrator.MaxConcurrentTasks = startMaxParallel
	}
	if startMetricsAddr != "" {
		cfg.Metrics.Addr = startMetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	repoPath, err := findGitRoot(root)
	if err != nil {
		return fmt.Errorf("find git repository: %w", err)
	}

	db, err := state.OpenProject(root)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	logger := orchestrator.NewDebugLoggerForProject(root)
	defer logger.Close()

	worktrees, err := agent.NewWorktreeManager(cfg.Agent.WorktreeDir, repoPath)
	if err != nil {
		return fmt.Errorf("create worktree manager: %w", err)
	}
	runner := iexec.NewRunner()
	sessions := agent.NewTmuxSessions(cfg.Agent.TmuxSocket, runner)
	spawner := agent.NewSpawner(worktrees, sessions, agent.SpawnerConfig{
		BaseBranch:   cfg.Agent.BaseBranch,
		BranchPrefix: cfg.Agent.BranchPrefix,
	})
	spawner.SetDebugLog(logger.Func())

	tracker := budget.NewTracker(cfg.Budget.Allocated)
	tracker.SetWarningThreshold(cfg.Budget.WarningThreshold)

	executor := orchestrator.NewCommandExecutor(runner, cfg.Agent.Command, tracker)
	executor.SetTimeout(cfg.Agent.StepTimeout)
	executor.SetSessionRunner(sessions)

	opts := []orchestrator.Option{
		orchestrator.WithConfig(cfg),
		orchestrator.WithLogger(logger),
		orchestrator.WithBudget(tracker),
		orchestrator.WithSessionLister(sessions),
	}
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, orchestrator.WithMetrics(status.MustNewMetrics(reg)))
		srv := serveMetrics(cfg.Metrics.Addr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	orch := orchestrator.New(orchestrator.RequiredConfig{
		Store:    db,
		Spawner:  spawner,
		Executor: executor,
	}, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal stops gracefully, the second cancels in-flight steps.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, stopping after in-flight steps...")
		orch.Stop()
		<-sigCh
		fmt.Println("\nReceived second interrupt, cancelling...")
		cancel()
	}()

	if config.WatchProject(root, func(updated *config.Config, err error) {
		if err != nil {
			log.Printf("[config] reload failed, keeping current settings: %v", err)
			return
		}
		tracker.SetAllocated(updated.Budget.Allocated)
		tracker.SetWarningThreshold(updated.Budget.WarningThreshold)
		logger.Log("[config] budget now $%.2f", updated.Budget.Allocated)
	}) {
		logger.Log("[config] watching %s", config.ProjectConfigPath(root))
	}

	if err := orch.Initialize(ctx, root); err != nil {
		_ = orch.Shutdown(context.Background())
		return err
	}

	var runErr error
	if startDashboard {
		runErr = runWithDashboard(ctx, orch, cfg.TUI.RefreshRate)
	} else {
		runErr = runHeadless(ctx, orch)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Printf("[start] shutdown: %v", err)
	}

	fmt.Println()
	fmt.Print(orch.GenerateStatusReport(context.Background()).String())

	switch {
	case runErr == nil:
		printStatus("✓", "All tasks finished", color.FgGreen)
	case errors.Is(runErr, orchestrator.ErrStopped):
		printStatus("‖", "Run stopped; start again to resume", color.FgYellow)
		return nil
	case errors.Is(runErr, orchestrator.ErrBudgetExhausted):
		printStatus("$", "Budget exhausted; raise budget.allocated to continue", color.FgRed)
	default:
		printStatus("✗", runErr.Error(), color.FgRed)
	}
	return runErr
}

// runHeadless runs the orchestrator and prints its events until the run ends.
func runHeadless(ctx context.Context, orch *orchestrator.Orchestrator) error {
	events := orch.Events()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			printEvent(ev)
			if ev.Type == orchestrator.EventRunDone {
				return
			}
		}
	}()

	err := orch.Start(ctx)
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	return err
}

// runWithDashboard runs the orchestrator behind the dashboard. Closing the
// dashboard leaves the run going until it finishes or is interrupted.
func runWithDashboard(ctx context.Context, orch *orchestrator.Orchestrator, refresh time.Duration) error {
	runDone := make(chan error, 1)
	go func() {
		runDone <- orch.Start(ctx)
	}()

	program := tui.NewProgram(orch, orch.Events(), refresh)
	if _, err := program.Run(); err != nil {
		orch.Stop()
		<-runDone
		return fmt.Errorf("dashboard: %w", err)
	}

	select {
	case err := <-runDone:
		return err
	default:
	}
	fmt.Println("Dashboard closed; the run continues. Press Ctrl+C to stop.")
	return <-runDone
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[metrics] serve %s: %v", addr, err)
		}
	}()
	return srv
}

// printEvent writes one orchestrator event as a status line.
func printEvent(ev orchestrator.OrchestratorEvent) {
	symbol, attr := eventStyle(ev.Type)
	msg := ev.Message
	if ev.TaskID != "" {
		msg = fmt.Sprintf("[%s] %s", ev.TaskID, msg)
	}
	if ev.Error != nil && ev.Type != orchestrator.EventRunDone {
		msg += ": " + ev.Error.Error()
	}
	printStatus(symbol, msg, attr)
}

func eventStyle(t orchestrator.EventType) (string, color.Attribute) {
	switch t {
	case orchestrator.EventTaskCompleted, orchestrator.EventStepCompleted:
		return "✓", color.FgGreen
	case orchestrator.EventTaskFailed, orchestrator.EventBudgetExhausted:
		return "✗", color.FgRed
	case orchestrator.EventStepRetried, orchestrator.EventBudgetWarning:
		return "!", color.FgYellow
	case orchestrator.EventCritiqueRequested, orchestrator.EventCritiqueResolved:
		return "?", color.FgMagenta
	case orchestrator.EventPaused, orchestrator.EventResumed:
		return "‖", color.FgYellow
	case orchestrator.EventRunDone:
		return "■", color.FgCyan
	default:
		return "→", color.FgBlue
	}
}
