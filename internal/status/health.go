package status

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// MetricsSnapshot is one sample of orchestrator resource usage.
type MetricsSnapshot struct {
	CPUPercent        float64
	MemoryMB          float64
	ErrorRate         float64
	BudgetUtilization float64
	ActiveSessions    int
	At                time.Time
}

// RecordMetrics stores s as the latest snapshot used by DetectHealthIssues
// and GetBudgetAlerts.
func (m *Manager) RecordMetrics(s MetricsSnapshot) {
	if s.At.IsZero() {
		s.At = time.Now()
	}
	m.mu.Lock()
	m.latest = s
	m.mu.Unlock()
	m.metrics.observeSnapshot(s)
}

// LatestMetrics returns the last recorded snapshot.
func (m *Manager) LatestMetrics() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// SampleMetrics measures process CPU and memory, folds in the most recent
// error rate and budget utilization, and records the result.
func (m *Manager) SampleMetrics(ctx context.Context) MetricsSnapshot {
	health := m.GetSystemHealth(ctx)

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := MetricsSnapshot{
		CPUPercent:        defaultCPUSampler.percent(),
		MemoryMB:          float64(ms.Sys) / (1 << 20),
		ErrorRate:         health.ErrorRate,
		BudgetUtilization: health.BudgetUtilization,
		ActiveSessions:    health.ActiveSessionsCount,
		At:                time.Now(),
	}
	m.RecordMetrics(s)
	return s
}

// DetectHealthIssues compares the latest snapshot against the thresholds.
func (m *Manager) DetectHealthIssues() []string {
	m.mu.RLock()
	s, t := m.latest, m.thresholds
	m.mu.RUnlock()

	var issues []string
	if t.MaxCPUPercent > 0 && s.CPUPercent > t.MaxCPUPercent {
		issues = append(issues, fmt.Sprintf("High CPU usage: %.1f%% (threshold %.0f%%)", s.CPUPercent, t.MaxCPUPercent))
	}
	if t.MaxMemoryMB > 0 && s.MemoryMB > t.MaxMemoryMB {
		issues = append(issues, fmt.Sprintf("High memory usage: %.0fMB (threshold %.0fMB)", s.MemoryMB, t.MaxMemoryMB))
	}
	if t.MaxErrorRate > 0 && s.ErrorRate > t.MaxErrorRate {
		issues = append(issues, fmt.Sprintf("High error rate: %.1f%% (threshold %.0f%%)", s.ErrorRate, t.MaxErrorRate))
	}
	return issues
}

// GetBudgetAlerts reports when budget utilization in the latest snapshot
// reaches the alert threshold.
func (m *Manager) GetBudgetAlerts() []string {
	m.mu.RLock()
	s, t := m.latest, m.thresholds
	m.mu.RUnlock()

	if t.BudgetAlertPercent <= 0 || s.BudgetUtilization < t.BudgetAlertPercent {
		return nil
	}
	return []string{fmt.Sprintf("Budget utilization at %.1f%% (alert at %.0f%%)", s.BudgetUtilization, t.BudgetAlertPercent)}
}

// GetSystemHealth assembles a health snapshot from the lifecycle status,
// live sessions, task store and budget. Missing collaborators contribute zeros.
func (m *Manager) GetSystemHealth(ctx context.Context) models.SystemHealth {
	m.mu.RLock()
	st, projectID := m.status, m.projectID
	m.mu.RUnlock()

	h := models.SystemHealth{
		OrchestratorStatus:  st,
		ActiveSessionsCount: len(m.GetActiveSessionStatuses(ctx)),
		LastHealthCheck:     time.Now(),
	}

	if projectID != "" {
		p := m.GetProjectProgress(ctx, projectID)
		h.TotalTasksInProgress = p.RunningTasks
		if p.TotalTasks > 0 {
			h.ErrorRate = float64(p.ErrorTasks) / float64(p.TotalTasks) * 100
		}
	}
	if m.budget != nil {
		h.BudgetUtilization = m.budget.GetCurrentBudget().Utilization()
	}

	m.mu.Lock()
	m.latest.ErrorRate = h.ErrorRate
	m.latest.BudgetUtilization = h.BudgetUtilization
	m.latest.ActiveSessions = h.ActiveSessionsCount
	m.mu.Unlock()

	m.metrics.observeHealth(h)
	return h
}

// cpuSampler derives process CPU percentage from consecutive CPU time readings.
type cpuSampler struct {
	mu       sync.Mutex
	lastCPU  time.Duration
	lastWall time.Time
}

var defaultCPUSampler = &cpuSampler{}

func (c *cpuSampler) percent() float64 {
	cpu, ok := processCPUTime()
	if !ok {
		return 0
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	prevCPU, prevWall := c.lastCPU, c.lastWall
	c.lastCPU, c.lastWall = cpu, now
	if prevWall.IsZero() {
		return 0
	}
	wall := now.Sub(prevWall)
	if wall <= 0 {
		return 0
	}
	return float64(cpu-prevCPU) / float64(wall) * 100 / float64(runtime.NumCPU())
}
