package models

// StepName identifies a stage in the delivery workflow.
type StepName string

const (
	StepDefineRequirements StepName = "DEFINE_REQUIREMENTS"
	StepFormalizeContracts StepName = "FORMALIZE_CONTRACTS"
	StepPrototypeLogic     StepName = "PROTOTYPE_LOGIC"
	StepDesignArchitecture StepName = "DESIGN_ARCHITECTURE"
	StepImplementCode      StepName = "IMPLEMENT_CODE"
	StepExecuteTests       StepName = "EXECUTE_TESTS"

	// StepComplete marks a workflow with every configured step completed.
	StepComplete StepName = "COMPLETE"
)

// WorkflowStepConfig is the static configuration of a single step.
type WorkflowStepConfig struct {
	Step                  StepName   `json:"step" yaml:"step"`
	AgentType             AgentType  `json:"agent_type" yaml:"agent_type"`
	RequiredPreviousSteps []StepName `json:"required_previous_steps,omitempty" yaml:"required_previous_steps,omitempty"`
	CritiqueRequired      bool       `json:"critique_required" yaml:"critique_required"`
	ErrorRecoveryEnabled  bool       `json:"error_recovery_enabled" yaml:"error_recovery_enabled"`
}

// TaskWorkflowState tracks a task's progress through the workflow.
type TaskWorkflowState struct {
	TaskID         string     `json:"task_id"`
	CurrentStep    StepName   `json:"current_step"`
	CompletedSteps []StepName `json:"completed_steps"`
}

// IsComplete reports whether every configured step has been completed.
func (s TaskWorkflowState) IsComplete() bool {
	return s.CurrentStep == StepComplete
}
