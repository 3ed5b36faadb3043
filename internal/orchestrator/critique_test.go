package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

func TestCritiqueGateAutoApprove(t *testing.T) {
	g := NewCritiqueGate(true, 0)

	d, err := g.Request(context.Background(), CritiqueRequest{TaskID: "t1", Step: models.StepDesignArchitecture})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !d.Approved || d.DecidedBy != "auto" {
		t.Errorf("expected auto approval, got %+v", d)
	}
	if len(g.Pending()) != 0 {
		t.Error("auto-approved request must not stay pending")
	}
	if got := g.Decisions("t1"); len(got) != 1 {
		t.Errorf("expected 1 recorded decision, got %d", len(got))
	}
}

func TestCritiqueGateSubmit(t *testing.T) {
	tests := []struct {
		name     string
		approved bool
	}{
		{name: "approve", approved: true},
		{name: "reject", approved: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewCritiqueGate(false, 0)

			go func() {
				req := <-g.Requests()
				if !g.HasPending(req.TaskID) {
					t.Error("expected request to be pending")
				}
				g.Submit(CritiqueDecision{TaskID: req.TaskID, Step: req.Step, Approved: tt.approved, Reason: "reviewed"})
			}()

			d, err := g.Request(context.Background(), CritiqueRequest{TaskID: "t1", Step: models.StepImplementCode})
			if err != nil {
				t.Fatalf("Request: %v", err)
			}
			if d.Approved != tt.approved {
				t.Errorf("Approved = %v, want %v", d.Approved, tt.approved)
			}
			if d.DecidedBy != "user" {
				t.Errorf("DecidedBy = %q, want user", d.DecidedBy)
			}
			if g.HasPending("t1") {
				t.Error("request still pending after decision")
			}
		})
	}
}

func TestCritiqueGateTimeoutRejects(t *testing.T) {
	g := NewCritiqueGate(false, 20*time.Millisecond)

	d, err := g.Request(context.Background(), CritiqueRequest{TaskID: "t1", Step: models.StepImplementCode})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if d.Approved || d.DecidedBy != "timeout" {
		t.Errorf("expected timeout rejection, got %+v", d)
	}
}

func TestCritiqueGateContextCancel(t *testing.T) {
	g := NewCritiqueGate(false, 0)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		<-g.Requests()
		cancel()
	}()

	_, err := g.Request(ctx, CritiqueRequest{TaskID: "t1", Step: models.StepImplementCode})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(g.Decisions("t1")) != 0 {
		t.Error("cancelled request must not record a decision")
	}
}

func TestCritiqueGateSubmitWithoutPending(t *testing.T) {
	g := NewCritiqueGate(false, 0)
	if g.Submit(CritiqueDecision{TaskID: "nope", Step: models.StepImplementCode, Approved: true}) {
		t.Error("Submit should report false with nothing pending")
	}
}

func TestCritiqueGateRejectsDuplicateRequest(t *testing.T) {
	g := NewCritiqueGate(false, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := CritiqueRequest{TaskID: "t1", Step: models.StepImplementCode}
	go g.Request(ctx, req)
	<-g.Requests()

	if _, err := g.Request(ctx, req); err == nil {
		t.Error("expected error for duplicate pending request")
	}
	if got := g.Pending(); len(got) != 1 || got[0].TaskID != "t1" {
		t.Errorf("unexpected pending %+v", got)
	}
}
