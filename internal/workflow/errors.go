package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

var (
	// ErrUnknownTask is returned for operations on a task that was never initialized.
	ErrUnknownTask = errors.New("workflow not initialized for task")
	// ErrInvalidConfig is the sentinel wrapped by every ConfigError.
	ErrInvalidConfig = errors.New("invalid workflow configuration")
	// ErrStepCycle indicates the step prerequisites contain a cycle.
	ErrStepCycle = errors.New("step prerequisites form a cycle")
)

// InvalidStepError is returned when a step name is not configured.
type InvalidStepError struct {
	Step models.StepName
}

func (e *InvalidStepError) Error() string {
	return fmt.Sprintf("invalid workflow step %q", e.Step)
}

// PrerequisiteError is returned when a step is completed before its prerequisites.
type PrerequisiteError struct {
	TaskID  string
	Step    models.StepName
	Missing []models.StepName
}

func (e *PrerequisiteError) Error() string {
	missing := make([]string, len(e.Missing))
	for i, s := range e.Missing {
		missing[i] = string(s)
	}
	return fmt.Sprintf("task %s cannot complete %s: missing prerequisites %s",
		e.TaskID, e.Step, strings.Join(missing, ", "))
}

// ConfigError describes a rejected step configuration.
type ConfigError struct {
	Step   models.StepName
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("step %q: %s", e.Step, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is lets errors.Is(err, ErrInvalidConfig) match any ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
