package orchestrator

import (
	"log"
	"sync"
	"time"
)

// Grace periods a full channel gets before an event is dropped. Events that
// end a task or the run get longer so a slow dashboard still sees them.
const (
	emitTimeout         = 100 * time.Millisecond
	terminalEmitTimeout = time.Second
)

// EventEmitter delivers orchestrator events on a buffered channel and keeps
// drop counts per event type. Emit after Close is a no-op.
type EventEmitter struct {
	mu      sync.RWMutex
	events  chan OrchestratorEvent
	closed  bool
	dropMu  sync.Mutex
	dropped map[EventType]uint64
}

// NewEventEmitter returns an emitter whose channel holds bufferSize events.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events:  make(chan OrchestratorEvent, max(bufferSize, 1)),
		dropped: make(map[EventType]uint64),
	}
}

func graceFor(t EventType) time.Duration {
	switch t {
	case EventRunDone, EventTaskCompleted, EventTaskFailed, EventBudgetExhausted:
		return terminalEmitTimeout
	}
	return emitTimeout
}

// Emit stamps and sends an event.
func (e *EventEmitter) Emit(event OrchestratorEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.events <- event:
		return
	default:
	}

	wait := time.NewTimer(graceFor(event.Type))
	defer wait.Stop()
	select {
	case e.events <- event:
	case <-wait.C:
		e.recordDrop(event)
	}
}

func (e *EventEmitter) recordDrop(event OrchestratorEvent) {
	e.dropMu.Lock()
	e.dropped[event.Type]++
	n := e.dropped[event.Type]
	e.dropMu.Unlock()

	// First drop of a type, then every tenth.
	if n%10 == 1 {
		log.Printf("[orchestrator] event channel full, dropped %s for task %q (%d of this type so far)", event.Type, event.TaskID, n)
	}
}

// DroppedCount returns how many events have been dropped in total.
func (e *EventEmitter) DroppedCount() uint64 {
	e.dropMu.Lock()
	defer e.dropMu.Unlock()
	var total uint64
	for _, n := range e.dropped {
		total += n
	}
	return total
}

// DroppedByType returns a copy of the per-type drop counts.
func (e *EventEmitter) DroppedByType() map[EventType]uint64 {
	e.dropMu.Lock()
	defer e.dropMu.Unlock()
	out := make(map[EventType]uint64, len(e.dropped))
	for t, n := range e.dropped {
		out[t] = n
	}
	return out
}

// Events returns the receive side of the channel; Close closes it.
func (e *EventEmitter) Events() <-chan OrchestratorEvent {
	return e.events
}

// Close closes the channel once. Later calls do nothing.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.events)
}
