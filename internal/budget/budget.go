// Package budget tracks agent spend against the project's cost ceiling.
package budget

import (
	"sync"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// Status represents the current state of budget consumption.
type Status int

const (
	// StatusOK indicates usage is below the warning threshold.
	StatusOK Status = iota
	// StatusWarning indicates usage is between the warning threshold and exhaustion.
	StatusWarning
	// StatusExhausted indicates the budget is fully consumed (>=100%).
	StatusExhausted
)

// String returns a human-readable representation of the budget status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "Warning"
	case StatusExhausted:
		return "Exhausted"
	default:
		return "Unknown"
	}
}

// DefaultWarningThreshold is the default fraction at which warnings begin.
const DefaultWarningThreshold = 0.80

// Tracker records dollar spend per task against an allocation. An allocation
// of zero or less means no limit.
type Tracker struct {
	mu               sync.RWMutex
	allocated        float64
	used             float64
	byTask           map[string]float64
	warningThreshold float64
	exhausted        bool
}

// NewTracker creates a Tracker with the given allocation in dollars.
func NewTracker(allocated float64) *Tracker {
	return &Tracker{
		allocated:        allocated,
		byTask:           make(map[string]float64),
		warningThreshold: DefaultWarningThreshold,
	}
}

// Record adds cost reported for a task. Negative costs are ignored.
func (t *Tracker) Record(taskID string, cost float64) {
	if cost <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.used += cost
	t.byTask[taskID] += cost
}

// GetCurrentBudget returns allocation, spend and remaining dollars.
// Remaining never goes below zero.
func (t *Tracker) GetCurrentBudget() models.Budget {
	t.mu.RLock()
	defer t.mu.RUnlock()

	remaining := t.allocated - t.used
	if remaining < 0 {
		remaining = 0
	}
	return models.Budget{Allocated: t.allocated, Used: t.used, Remaining: remaining}
}

// Check returns the budget status based on the usage fraction.
func (t *Tracker) Check() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.allocated <= 0 {
		return StatusOK
	}

	fraction := t.used / t.allocated
	if fraction >= 1.0 {
		return StatusExhausted
	}
	if fraction >= t.warningThreshold {
		return StatusWarning
	}
	return StatusOK
}

// CanStartNew returns false once the budget is exhausted.
func (t *Tracker) CanStartNew() bool {
	return t.Check() != StatusExhausted
}

// MarkExhausted records that exhaustion has been handled. It returns true
// only for the first call so callers alert once.
func (t *Tracker) MarkExhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.exhausted {
		return false
	}
	t.exhausted = true
	return true
}

// IsExhausted returns true if MarkExhausted has been called.
func (t *Tracker) IsExhausted() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.exhausted
}

// TaskCost returns the spend recorded for one task.
func (t *Tracker) TaskCost(taskID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byTask[taskID]
}

// SetAllocated updates the budget limit.
func (t *Tracker) SetAllocated(allocated float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allocated = allocated
}

// SetWarningThreshold sets the warning threshold fraction (0.0-1.0).
// Invalid values are clamped.
func (t *Tracker) SetWarningThreshold(threshold float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	t.warningThreshold = threshold
}

// Reset clears spend and the exhausted flag.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.used = 0
	t.byTask = make(map[string]float64)
	t.exhausted = false
}
