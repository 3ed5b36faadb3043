// Package config handles configuration loading and management for CortexWeaver.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CORTEXWEAVER_BUDGET_ALLOCATED.
const EnvPrefix = "CORTEXWEAVER"

// Config holds all configuration for CortexWeaver.
type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Workflow     WorkflowConfig     `mapstructure:"workflow"`
	Agent        AgentConfig        `mapstructure:"agent"`
	Budget       BudgetConfig       `mapstructure:"budget"`
	Health       HealthConfig       `mapstructure:"health"`
	TUI          TUIConfig          `mapstructure:"tui"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// OrchestratorConfig holds run loop settings.
type OrchestratorConfig struct {
	MaxConcurrentTasks  int           `mapstructure:"max_concurrent_tasks"`
	MaxStepRetries      int           `mapstructure:"max_step_retries"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	AutoApproveCritique bool          `mapstructure:"auto_approve_critique"`
	CritiqueTimeout     time.Duration `mapstructure:"critique_timeout"`
	// RemediateFailures runs a debugger agent on the failed step before each retry.
	RemediateFailures bool `mapstructure:"remediate_failures"`
}

// WorkflowConfig holds step pipeline settings.
type WorkflowConfig struct {
	StepEstimate time.Duration `mapstructure:"step_estimate"`
}

// AgentConfig holds workspace, session and agent command settings.
type AgentConfig struct {
	// Command is run in the workspace for every step. Empty means the
	// session is provisioned and the step completes without running anything.
	Command      string        `mapstructure:"command"`
	StepTimeout  time.Duration `mapstructure:"step_timeout"`
	BaseBranch   string        `mapstructure:"base_branch"`
	BranchPrefix string        `mapstructure:"branch_prefix"`
	WorktreeDir  string        `mapstructure:"worktree_dir"`
	TmuxSocket   string        `mapstructure:"tmux_socket"`
}

// BudgetConfig holds the cost ceiling in dollars.
type BudgetConfig struct {
	Allocated        float64 `mapstructure:"allocated"`
	WarningThreshold float64 `mapstructure:"warning_threshold"`
}

// HealthConfig holds thresholds for health checks and status reporting.
type HealthConfig struct {
	MaxCPUPercent            float64       `mapstructure:"max_cpu_percent"`
	MaxMemoryMB              float64       `mapstructure:"max_memory_mb"`
	MaxErrorRate             float64       `mapstructure:"max_error_rate"`
	BudgetAlertPercent       float64       `mapstructure:"budget_alert_percent"`
	InactiveSessionThreshold time.Duration `mapstructure:"inactive_session_threshold"`
	ProgressDebounce         time.Duration `mapstructure:"progress_debounce"`
	ProgressCacheTTL         time.Duration `mapstructure:"progress_cache_ttl"`
}

// TUIConfig holds dashboard display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (CORTEXWEAVER_<SECTION>_<KEY>)
// 2. Project config (<projectRoot>/.cortexweaver/config.yaml)
// 3. User config (~/.config/cortexweaver/config.yaml)
// 4. Built-in defaults
func Load(projectRoot string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectRoot != "" {
		projectConfig := ProjectConfigPath(projectRoot)
		if _, err := os.Stat(projectConfig); err == nil {
			projectViper := viper.New()
			projectViper.SetConfigFile(projectConfig)
			if err := projectViper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading project config: %w", err)
			}
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

// WatchProject reloads the configuration whenever the project config file
// changes and passes the result to onChange. It returns false when there is
// no project config to watch.
func WatchProject(projectRoot string, onChange func(*Config, error)) bool {
	path := ProjectConfigPath(projectRoot)
	if _, err := os.Stat(path); err != nil {
		return false
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		log.Printf("[config] not watching %s: %v", path, err)
		return false
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("[config] %s changed (%s), reloading", e.Name, e.Op)
		onChange(Load(projectRoot))
	})
	v.WatchConfig()
	return true
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Agent.Command = os.ExpandEnv(cfg.Agent.Command)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxConcurrentTasks < 1 {
		return fmt.Errorf("orchestrator.max_concurrent_tasks must be at least 1, got %d", c.Orchestrator.MaxConcurrentTasks)
	}
	if c.Orchestrator.MaxStepRetries < 0 {
		return fmt.Errorf("orchestrator.max_step_retries must not be negative, got %d", c.Orchestrator.MaxStepRetries)
	}
	if c.Budget.Allocated < 0 {
		return fmt.Errorf("budget.allocated must not be negative, got %v", c.Budget.Allocated)
	}
	if c.Budget.WarningThreshold <= 0 || c.Budget.WarningThreshold > 1 {
		return fmt.Errorf("budget.warning_threshold must be in (0, 1], got %v", c.Budget.WarningThreshold)
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// ProjectConfigPath returns the project config location under projectRoot.
func ProjectConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".cortexweaver", "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("orchestrator.max_concurrent_tasks", d.Orchestrator.MaxConcurrentTasks)
	v.SetDefault("orchestrator.max_step_retries", d.Orchestrator.MaxStepRetries)
	v.SetDefault("orchestrator.poll_interval", d.Orchestrator.PollInterval.String())
	v.SetDefault("orchestrator.auto_approve_critique", d.Orchestrator.AutoApproveCritique)
	v.SetDefault("orchestrator.critique_timeout", d.Orchestrator.CritiqueTimeout.String())
	v.SetDefault("orchestrator.remediate_failures", d.Orchestrator.RemediateFailures)

	v.SetDefault("workflow.step_estimate", d.Workflow.StepEstimate.String())

	v.SetDefault("agent.command", d.Agent.Command)
	v.SetDefault("agent.step_timeout", d.Agent.StepTimeout.String())
	v.SetDefault("agent.base_branch", d.Agent.BaseBranch)
	v.SetDefault("agent.branch_prefix", d.Agent.BranchPrefix)
	v.SetDefault("agent.worktree_dir", d.Agent.WorktreeDir)
	v.SetDefault("agent.tmux_socket", d.Agent.TmuxSocket)

	v.SetDefault("budget.allocated", d.Budget.Allocated)
	v.SetDefault("budget.warning_threshold", d.Budget.WarningThreshold)

	v.SetDefault("health.max_cpu_percent", d.Health.MaxCPUPercent)
	v.SetDefault("health.max_memory_mb", d.Health.MaxMemoryMB)
	v.SetDefault("health.max_error_rate", d.Health.MaxErrorRate)
	v.SetDefault("health.budget_alert_percent", d.Health.BudgetAlertPercent)
	v.SetDefault("health.inactive_session_threshold", d.Health.InactiveSessionThreshold.String())
	v.SetDefault("health.progress_debounce", d.Health.ProgressDebounce.String())
	v.SetDefault("health.progress_cache_ttl", d.Health.ProgressCacheTTL.String())

	v.SetDefault("tui.refresh_rate", d.TUI.RefreshRate.String())

	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// getUserConfigDir returns the XDG config directory for CortexWeaver.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "cortexweaver")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "cortexweaver")
	}
	return filepath.Join(home, ".config", "cortexweaver")
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxConcurrentTasks:  3,
			MaxStepRetries:      2,
			PollInterval:        2 * time.Second,
			AutoApproveCritique: true,
			CritiqueTimeout:     30 * time.Minute,
		},
		Workflow: WorkflowConfig{
			StepEstimate: 15 * time.Minute,
		},
		Agent: AgentConfig{
			StepTimeout:  30 * time.Minute,
			BaseBranch:   "main",
			BranchPrefix: "feature/",
			TmuxSocket:   "cortexweaver",
		},
		Budget: BudgetConfig{
			Allocated:        50,
			WarningThreshold: 0.8,
		},
		Health: HealthConfig{
			MaxCPUPercent:            90,
			MaxMemoryMB:              2048,
			MaxErrorRate:             25,
			BudgetAlertPercent:       90,
			InactiveSessionThreshold: time.Hour,
			ProgressDebounce:         250 * time.Millisecond,
			ProgressCacheTTL:         time.Minute,
		},
		TUI: TUIConfig{
			RefreshRate: 500 * time.Millisecond,
		},
	}
}
