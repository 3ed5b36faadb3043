// Package graph provides the task dependency graph used for scheduling.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

var (
	// ErrCycleDetected indicates a circular dependency was found in the task graph.
	ErrCycleDetected = errors.New("circular dependency detected")
	// ErrUnknownDependency indicates a task depends on an ID not in the graph.
	ErrUnknownDependency = errors.New("unknown dependency")
)

// DependencyGraph holds a project's tasks and their "blocked by" edges. It
// owns the task copies it was built from; callers get clones.
type DependencyGraph struct {
	mu sync.RWMutex
	// order is plan order, used wherever iteration must be deterministic.
	order []string
	nodes map[string]*models.Task
	// deps maps a task to the tasks it waits on; dependents is the reverse.
	deps       map[string][]string
	dependents map[string][]string
	// topo is a dependency-first ordering computed at Build.
	topo []string

	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	g := &DependencyGraph{debugLog: func(format string, args ...interface{}) {}}
	g.reset()
	return g
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

func (g *DependencyGraph) reset() {
	g.order = nil
	g.nodes = make(map[string]*models.Task)
	g.deps = make(map[string][]string)
	g.dependents = make(map[string][]string)
	g.topo = nil
}

// Build replaces the graph with tasks. It fails on empty or duplicate IDs,
// unknown dependencies (ErrUnknownDependency) and cycles (ErrCycleDetected),
// leaving the graph empty.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.reset()
	if err := g.build(tasks); err != nil {
		g.reset()
		return err
	}
	g.debugLog("[graph] built %d tasks, order %v", len(g.nodes), g.topo)
	return nil
}

func (g *DependencyGraph) build(tasks []*models.Task) error {
	for _, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("task %q has an empty id", t.Title)
		}
		if _, dup := g.nodes[t.ID]; dup {
			return fmt.Errorf("duplicate task id %s", t.ID)
		}
		g.nodes[t.ID] = t.Clone()
		g.order = append(g.order, t.ID)
	}

	for _, id := range g.order {
		for _, dep := range g.nodes[id].Dependencies {
			if dep == id {
				return fmt.Errorf("task %s depends on itself: %w", id, ErrCycleDetected)
			}
			if _, ok := g.nodes[dep]; !ok {
				return fmt.Errorf("task %s depends on %s: %w", id, dep, ErrUnknownDependency)
			}
			g.deps[id] = append(g.deps[id], dep)
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}

	topo, stuck := g.kahn()
	if len(stuck) > 0 {
		return fmt.Errorf("tasks %s: %w", strings.Join(stuck, ", "), ErrCycleDetected)
	}
	g.topo = topo
	return nil
}

// kahn orders tasks so dependencies come first, releasing tasks in plan
// order. Tasks left over sit on or behind a cycle.
func (g *DependencyGraph) kahn() (sorted, stuck []string) {
	waiting := make(map[string]int, len(g.nodes))
	var queue []string
	for _, id := range g.order {
		waiting[id] = len(g.deps[id])
		if waiting[id] == 0 {
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)
		for _, next := range g.dependents[id] {
			waiting[next]--
			if waiting[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	for _, id := range g.order {
		if waiting[id] > 0 {
			stuck = append(stuck, id)
		}
	}
	return sorted, stuck
}

// TopologicalSort returns task IDs with every dependency before its dependents.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.topo) != len(g.nodes) {
		return nil, ErrCycleDetected
	}
	return append([]string(nil), g.topo...), nil
}

// GetReady returns IDs of non-terminal tasks whose dependencies are all
// completed. Higher priority tasks come first; ties keep plan order.
func (g *DependencyGraph) GetReady() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for _, id := range g.order {
		if g.nodes[id].Status.Terminal() {
			continue
		}
		if blocker, ok := g.firstUnfinished(id); ok {
			g.debugLog("[graph] %s waits on %s", id, blocker)
			continue
		}
		ready = append(ready, id)
	}

	sort.SliceStable(ready, func(i, j int) bool {
		return g.nodes[ready[i]].Priority > g.nodes[ready[j]].Priority
	})
	return ready
}

func (g *DependencyGraph) firstUnfinished(id string) (string, bool) {
	for _, dep := range g.deps[id] {
		if g.nodes[dep].Status != models.TaskStatusCompleted {
			return dep, true
		}
	}
	return "", false
}

// FailedDependency returns the first failed dependency of a task.
func (g *DependencyGraph) FailedDependency(taskID string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, dep := range g.deps[taskID] {
		if g.nodes[dep].Status == models.TaskStatusFailed {
			return dep, true
		}
	}
	return "", false
}

// SetStatus records a task's new status and error. Unknown IDs are ignored.
func (g *DependencyGraph) SetStatus(taskID string, status models.TaskStatus, errMsg string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.nodes[taskID]
	if !ok {
		return
	}
	g.debugLog("[graph] %s: %s -> %s", taskID, task.Status, status)
	task.Status = status
	task.Error = errMsg
}

// GetTask returns a copy of the task for a given ID, or nil if not found.
func (g *DependencyGraph) GetTask(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID].Clone()
}

// Tasks returns copies of all tasks in plan order.
func (g *DependencyGraph) Tasks() []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tasks := make([]*models.Task, 0, len(g.order))
	for _, id := range g.order {
		tasks = append(tasks, g.nodes[id].Clone())
	}
	return tasks
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GetDependencies returns the IDs of tasks that the given task depends on.
func (g *DependencyGraph) GetDependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.deps[taskID]...)
}

// GetDependents returns the IDs of tasks that depend on the given task.
func (g *DependencyGraph) GetDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.dependents[taskID]...)
}

// Validate checks that tasks form a DAG over known IDs without keeping them.
func Validate(tasks []*models.Task) error {
	return New().Build(tasks)
}
