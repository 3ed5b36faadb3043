package status

import (
	"log"
	"sync"
	"time"
)

const subscriberBuffer = 64

// subscriber owns a buffered channel drained by its own goroutine, so a slow
// handler never blocks the publisher or other subscribers.
type subscriber[T any] struct {
	ch   chan T
	done chan struct{}
}

// hub fans values out to subscribers. Values that do not fit in a full
// subscriber buffer are dropped for that subscriber.
type hub[T any] struct {
	name   string
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber[T]
	closed bool
}

func newHub[T any](name string) *hub[T] {
	return &hub[T]{name: name, subs: make(map[int]*subscriber[T])}
}

func (h *hub[T]) subscribe(handler func(T)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || handler == nil {
		return func() {}
	}

	sub := &subscriber[T]{ch: make(chan T, subscriberBuffer), done: make(chan struct{})}
	id := h.nextID
	h.nextID++
	h.subs[id] = sub

	go func() {
		defer close(sub.done)
		for v := range sub.ch {
			deliver(h.name, handler, v)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if s, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(s.ch)
			}
			h.mu.Unlock()
		})
	}
}

func deliver[T any](name string, handler func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[status] %s subscriber panicked: %v", name, r)
		}
	}()
	handler(v)
}

func (h *hub[T]) publish(v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		select {
		case sub.ch <- v:
		default:
			log.Printf("[status] %s subscriber buffer full, dropping update", h.name)
		}
	}
}

// close stops all subscribers after they drain what was already queued.
func (h *hub[T]) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[int]*subscriber[T])
	for _, sub := range subs {
		close(sub.ch)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		<-sub.done
	}
}

// ProgressUpdate reports workflow progress for a single task.
type ProgressUpdate struct {
	TaskID   string
	Step     string
	Progress int
	Message  string
	At       time.Time
}

// debouncer coalesces progress updates per task. The first update for a task
// arms a timer; later updates inside the window replace the pending value.
type debouncer struct {
	window time.Duration
	hub    *hub[ProgressUpdate]

	mu      sync.Mutex
	pending map[string]ProgressUpdate
	timers  map[string]*time.Timer
	closed  bool
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window:  window,
		hub:     newHub[ProgressUpdate]("progress"),
		pending: make(map[string]ProgressUpdate),
		timers:  make(map[string]*time.Timer),
	}
}

func (d *debouncer) subscribe(handler func(ProgressUpdate)) func() {
	return d.hub.subscribe(handler)
}

func (d *debouncer) publish(u ProgressUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	d.pending[u.TaskID] = u
	if _, armed := d.timers[u.TaskID]; armed {
		return
	}
	taskID := u.TaskID
	d.timers[taskID] = time.AfterFunc(d.window, func() { d.fire(taskID) })
}

func (d *debouncer) fire(taskID string) {
	d.mu.Lock()
	u, ok := d.pending[taskID]
	delete(d.pending, taskID)
	delete(d.timers, taskID)
	d.mu.Unlock()

	if ok {
		d.hub.publish(u)
	}
}

// close flushes pending updates immediately and shuts the hub down.
func (d *debouncer) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	var flush []ProgressUpdate
	for id, t := range d.timers {
		if t.Stop() {
			flush = append(flush, d.pending[id])
		}
	}
	d.pending = make(map[string]ProgressUpdate)
	d.timers = make(map[string]*time.Timer)
	d.mu.Unlock()

	for _, u := range flush {
		d.hub.publish(u)
	}
	d.hub.close()
}
