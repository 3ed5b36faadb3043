package status

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

const metricsNamespace = "cortexweaver"

// Metrics exposes Prometheus collectors for orchestrator progress and health.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	status            *prometheus.GaugeVec
	tasks             *prometheus.GaugeVec
	progressPercent   prometheus.Gauge
	activeSessions    prometheus.Gauge
	budgetUtilization prometheus.Gauge
	errorRate         prometheus.Gauge
	cpuPercent        prometheus.Gauge
	memoryMB          prometheus.Gauge
	stepOutcomes      *prometheus.CounterVec
}

// MustNewMetrics creates the collectors and registers them with reg. Collectors
// already registered under the same name are reused. Other registration errors panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	gauge := func(name, help string) prometheus.Gauge {
		return mustRegister(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}))
	}

	return &Metrics{
		status: mustRegister(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "orchestrator_status",
			Help:      "1 for the current orchestrator lifecycle status, 0 otherwise.",
		}, []string{"status"})),
		tasks: mustRegister(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "tasks",
			Help:      "Number of project tasks by status.",
		}, []string{"status"})),
		progressPercent:   gauge("project_progress_percent", "Percentage of project tasks completed."),
		activeSessions:    gauge("active_sessions", "Number of live agent sessions."),
		budgetUtilization: gauge("budget_utilization_percent", "Budget used as a percentage of the allocation."),
		errorRate:         gauge("task_error_rate_percent", "Failed tasks as a percentage of all tasks."),
		cpuPercent:        gauge("process_cpu_percent", "Orchestrator process CPU usage."),
		memoryMB:          gauge("process_memory_mb", "Memory obtained from the OS by the orchestrator process."),
		stepOutcomes: mustRegister(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "workflow_step_outcomes_total",
			Help:      "Workflow step executions by step and outcome.",
		}, []string{"step", "outcome"})),
	}
}

func mustRegister[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

var allStatuses = []models.OrchestratorStatus{
	models.StatusIdle,
	models.StatusInitialized,
	models.StatusRunning,
	models.StatusCompleted,
	models.StatusError,
	models.StatusShutdown,
}

func (m *Metrics) setStatus(current models.OrchestratorStatus) {
	if m == nil {
		return
	}
	for _, s := range allStatuses {
		v := 0.0
		if s == current {
			v = 1
		}
		m.status.WithLabelValues(string(s)).Set(v)
	}
}

func (m *Metrics) observeProgress(p models.ProjectProgress) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(string(models.TaskStatusCompleted)).Set(float64(p.CompletedTasks))
	m.tasks.WithLabelValues(string(models.TaskStatusInProgress)).Set(float64(p.RunningTasks))
	m.tasks.WithLabelValues(string(models.TaskStatusPending)).Set(float64(p.PendingTasks))
	m.tasks.WithLabelValues(string(models.TaskStatusPaused)).Set(float64(p.PausedTasks))
	m.tasks.WithLabelValues(string(models.TaskStatusFailed)).Set(float64(p.ErrorTasks))
	m.progressPercent.Set(float64(p.ProgressPercentage))
}

func (m *Metrics) observeHealth(h models.SystemHealth) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(h.ActiveSessionsCount))
	m.budgetUtilization.Set(h.BudgetUtilization)
	m.errorRate.Set(h.ErrorRate)
}

func (m *Metrics) observeSnapshot(s MetricsSnapshot) {
	if m == nil {
		return
	}
	m.cpuPercent.Set(s.CPUPercent)
	m.memoryMB.Set(s.MemoryMB)
}

// IncStepOutcome counts a finished step execution, e.g. outcome "completed", "retried" or "failed".
func (m *Metrics) IncStepOutcome(step models.StepName, outcome string) {
	if m == nil {
		return
	}
	m.stepOutcomes.WithLabelValues(string(step), outcome).Inc()
}
