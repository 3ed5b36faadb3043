package workflow

import "github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"

// DefaultSteps returns the standard delivery pipeline: each step requires
// the one before it.
func DefaultSteps() []models.WorkflowStepConfig {
	return []models.WorkflowStepConfig{
		{
			Step:      models.StepDefineRequirements,
			AgentType: models.AgentSpecWriter,
		},
		{
			Step:                  models.StepFormalizeContracts,
			AgentType:             models.AgentFormalizer,
			RequiredPreviousSteps: []models.StepName{models.StepDefineRequirements},
			CritiqueRequired:      true,
			ErrorRecoveryEnabled:  true,
		},
		{
			Step:                  models.StepPrototypeLogic,
			AgentType:             models.AgentPrototyper,
			RequiredPreviousSteps: []models.StepName{models.StepFormalizeContracts},
			ErrorRecoveryEnabled:  true,
		},
		{
			Step:                  models.StepDesignArchitecture,
			AgentType:             models.AgentArchitect,
			RequiredPreviousSteps: []models.StepName{models.StepPrototypeLogic},
			CritiqueRequired:      true,
			ErrorRecoveryEnabled:  true,
		},
		{
			Step:                  models.StepImplementCode,
			AgentType:             models.AgentCoder,
			RequiredPreviousSteps: []models.StepName{models.StepDesignArchitecture},
			CritiqueRequired:      true,
			ErrorRecoveryEnabled:  true,
		},
		{
			Step:                  models.StepExecuteTests,
			AgentType:             models.AgentTester,
			RequiredPreviousSteps: []models.StepName{models.StepImplementCode},
			ErrorRecoveryEnabled:  true,
		},
	}
}
