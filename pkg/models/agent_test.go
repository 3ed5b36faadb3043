package models

import "testing"

func TestBudget_Utilization(t *testing.T) {
	tests := []struct {
		name   string
		budget Budget
		want   float64
	}{
		{"no allocation", Budget{Allocated: 0, Used: 10}, 0},
		{"half used", Budget{Allocated: 100, Used: 50}, 50},
		{"over budget", Budget{Allocated: 100, Used: 120}, 120},
		{"ninety percent", Budget{Allocated: 200, Used: 180}, 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.budget.Utilization(); got != tt.want {
				t.Errorf("Utilization() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrchestratorStatus_Valid(t *testing.T) {
	for _, s := range []OrchestratorStatus{
		StatusIdle, StatusInitialized, StatusRunning, StatusCompleted, StatusError, StatusShutdown,
	} {
		if !s.Valid() {
			t.Errorf("OrchestratorStatus(%q).Valid() = false, want true", s)
		}
	}
	if OrchestratorStatus("paused").Valid() {
		t.Error("OrchestratorStatus(\"paused\").Valid() = true, want false")
	}
}

func TestTaskWorkflowState_IsComplete(t *testing.T) {
	s := TaskWorkflowState{TaskID: "t1", CurrentStep: StepImplementCode}
	if s.IsComplete() {
		t.Error("expected incomplete workflow")
	}
	s.CurrentStep = StepComplete
	if !s.IsComplete() {
		t.Error("expected complete workflow")
	}
}
