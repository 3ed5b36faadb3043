package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// CritiqueRequest asks for review before a gated step runs.
type CritiqueRequest struct {
	TaskID    string
	TaskTitle string
	Step      models.StepName
	AgentType models.AgentType
	// CompletedSteps is what the task has delivered so far.
	CompletedSteps []models.StepName
	RequestedAt    time.Time
}

// CritiqueDecision is the reviewer's answer to a CritiqueRequest.
type CritiqueDecision struct {
	TaskID   string
	Step     models.StepName
	Approved bool
	Reason   string
	// DecidedBy is "auto", "timeout" or the reviewer's name.
	DecidedBy string
	DecidedAt time.Time
}

// CritiqueGate holds gated steps until a reviewer decides. With auto-approve
// enabled every request is approved immediately.
type CritiqueGate struct {
	autoApprove bool
	timeout     time.Duration

	mu        sync.Mutex
	pending   map[string]pendingCritique
	decisions map[string][]CritiqueDecision
	requestCh chan CritiqueRequest
}

type pendingCritique struct {
	req      CritiqueRequest
	response chan CritiqueDecision
}

// NewCritiqueGate creates a gate. A non-positive timeout waits indefinitely;
// an expired wait counts as a rejection.
func NewCritiqueGate(autoApprove bool, timeout time.Duration) *CritiqueGate {
	return &CritiqueGate{
		autoApprove: autoApprove,
		timeout:     timeout,
		pending:     make(map[string]pendingCritique),
		decisions:   make(map[string][]CritiqueDecision),
		requestCh:   make(chan CritiqueRequest, 16),
	}
}

func critiqueKey(taskID string, step models.StepName) string {
	return taskID + "/" + string(step)
}

// Requests returns the channel on which new pending requests are announced.
// Announcements are best effort; Pending is authoritative.
func (g *CritiqueGate) Requests() <-chan CritiqueRequest {
	return g.requestCh
}

// Request blocks until the step is approved or rejected, the gate times out,
// or ctx is cancelled.
func (g *CritiqueGate) Request(ctx context.Context, req CritiqueRequest) (CritiqueDecision, error) {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}
	if g.autoApprove {
		d := CritiqueDecision{TaskID: req.TaskID, Step: req.Step, Approved: true, DecidedBy: "auto", DecidedAt: time.Now()}
		g.record(d)
		return d, nil
	}

	key := critiqueKey(req.TaskID, req.Step)
	response := make(chan CritiqueDecision, 1)

	g.mu.Lock()
	if _, dup := g.pending[key]; dup {
		g.mu.Unlock()
		return CritiqueDecision{}, fmt.Errorf("critique already pending for %s", key)
	}
	g.pending[key] = pendingCritique{req: req, response: response}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, key)
		g.mu.Unlock()
	}()

	select {
	case g.requestCh <- req:
	default:
	}

	var expired <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case d := <-response:
		g.record(d)
		return d, nil
	case <-expired:
		d := CritiqueDecision{
			TaskID:    req.TaskID,
			Step:      req.Step,
			Reason:    fmt.Sprintf("no critique decision within %s", g.timeout),
			DecidedBy: "timeout",
			DecidedAt: time.Now(),
		}
		g.record(d)
		return d, nil
	case <-ctx.Done():
		return CritiqueDecision{}, ctx.Err()
	}
}

// Submit delivers a decision for a pending request. It reports whether a
// request was waiting for it.
func (g *CritiqueGate) Submit(d CritiqueDecision) bool {
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now()
	}
	if d.DecidedBy == "" {
		d.DecidedBy = "user"
	}

	g.mu.Lock()
	p, ok := g.pending[critiqueKey(d.TaskID, d.Step)]
	g.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case p.response <- d:
		return true
	default:
		return false
	}
}

// Pending returns the requests still waiting, oldest first.
func (g *CritiqueGate) Pending() []CritiqueRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	reqs := make([]CritiqueRequest, 0, len(g.pending))
	for _, p := range g.pending {
		reqs = append(reqs, p.req)
	}
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].RequestedAt.Before(reqs[j].RequestedAt)
	})
	return reqs
}

// HasPending reports whether the task has a step waiting on critique.
func (g *CritiqueGate) HasPending(taskID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.pending {
		if p.req.TaskID == taskID {
			return true
		}
	}
	return false
}

// Decisions returns the task's decision history in order.
func (g *CritiqueGate) Decisions(taskID string) []CritiqueDecision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]CritiqueDecision(nil), g.decisions[taskID]...)
}

func (g *CritiqueGate) record(d CritiqueDecision) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.decisions[d.TaskID] = append(g.decisions[d.TaskID], d)
}
