package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrStopped is returned once a stop has been requested.
var ErrStopped = errors.New("orchestrator stopped")

// PauseController gates new agent spawns. While paused, WaitIfPaused blocks
// until Resume, Stop or context cancellation.
type PauseController struct {
	mu      sync.Mutex
	paused  bool
	stopped bool
	// wake is closed and replaced whenever waiters should re-check state.
	wake chan struct{}
}

// NewPauseController creates a new PauseController.
func NewPauseController() *PauseController {
	return &PauseController{wake: make(chan struct{})}
}

// Pause suspends new spawns. It reports whether the state changed.
func (p *PauseController) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused || p.stopped {
		return false
	}
	p.paused = true
	log.Printf("[orchestrator] paused - no new agents will be spawned")
	return true
}

// Resume re-enables spawning. It reports whether the state changed.
func (p *PauseController) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return false
	}
	p.paused = false
	log.Printf("[orchestrator] resumed - agent spawning enabled")
	p.broadcastLocked()
	return true
}

// Stop releases every waiter with ErrStopped. It reports whether the state changed.
func (p *PauseController) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	p.stopped = true
	p.broadcastLocked()
	return true
}

func (p *PauseController) broadcastLocked() {
	close(p.wake)
	p.wake = make(chan struct{})
}

// IsPaused returns whether execution is currently paused.
func (p *PauseController) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// IsStopped returns whether the controller has been stopped.
func (p *PauseController) IsStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// WaitIfPaused blocks while paused. It returns ErrStopped after Stop and the
// context error on cancellation.
func (p *PauseController) WaitIfPaused(ctx context.Context) error {
	for {
		p.mu.Lock()
		stopped, paused, wake := p.stopped, p.paused, p.wake
		p.mu.Unlock()

		if stopped {
			return ErrStopped
		}
		if !paused {
			return nil
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
