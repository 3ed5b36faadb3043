package orchestrator

import (
	"sync"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/graph"
	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// Scheduler hands ready tasks to free worker slots. A task is schedulable
// when the graph reports its dependencies complete and no worker holds it.
type Scheduler struct {
	// graph is the dependency graph of tasks.
	graph *graph.DependencyGraph
	// running is the set of task IDs held by a worker.
	running map[string]bool
	// maxWorkers is the maximum number of tasks worked concurrently.
	maxWorkers int
	// mu protects running.
	mu sync.RWMutex

	debugLog func(format string, args ...interface{})
}

// NewScheduler creates a Scheduler. A maxWorkers below one is raised to one.
func NewScheduler(g *graph.DependencyGraph, maxWorkers int) *Scheduler {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Scheduler{
		graph:      g,
		running:    make(map[string]bool),
		maxWorkers: maxWorkers,
		debugLog:   func(string, ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (s *Scheduler) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		s.debugLog = fn
	}
}

// Schedule returns up to the number of free slots of ready tasks, highest
// priority first. It does not claim them; call OnTaskStart for each.
func (s *Scheduler) Schedule() []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	available := s.maxWorkers - len(s.running)
	if available <= 0 {
		s.debugLog("[scheduler] no available slots: max=%d, running=%d", s.maxWorkers, len(s.running))
		return nil
	}

	var tasks []*models.Task
	for _, id := range s.graph.GetReady() {
		if len(tasks) == available {
			break
		}
		if s.running[id] {
			continue
		}
		if t := s.graph.GetTask(id); t != nil {
			tasks = append(tasks, t)
		}
	}
	s.debugLog("[scheduler] %d slot(s) free, scheduling %d task(s)", available, len(tasks))
	return tasks
}

// HasPending reports whether any non-terminal task is not held by a worker.
func (s *Scheduler) HasPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.graph.GetReady() {
		if !s.running[id] {
			return true
		}
	}
	return false
}

// OnTaskStart claims a slot for the task.
func (s *Scheduler) OnTaskStart(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[taskID] = true
}

// OnTaskDone releases the task's slot.
func (s *Scheduler) OnTaskDone(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, taskID)
}

// RunningCount returns the number of tasks held by workers.
func (s *Scheduler) RunningCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.running)
}
