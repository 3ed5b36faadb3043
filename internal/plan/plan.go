// Package plan loads the project plan: the tasks to deliver and, optionally,
// the workflow steps each task moves through.
package plan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/graph"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/workflow"
	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// ErrInvalidPlan wraps every plan validation failure.
var ErrInvalidPlan = errors.New("invalid plan")

// Plan is the parsed contents of .cortexweaver/plan.yaml.
type Plan struct {
	Project     string     `yaml:"project"`
	Description string     `yaml:"description,omitempty"`
	Steps       []StepSpec `yaml:"steps,omitempty"`
	Tasks       []TaskSpec `yaml:"tasks"`
}

// StepSpec overrides the default step configuration.
type StepSpec struct {
	Step      models.StepName   `yaml:"step"`
	AgentType models.AgentType  `yaml:"agent_type"`
	Requires  []models.StepName `yaml:"requires,omitempty"`
	Critique  bool              `yaml:"critique,omitempty"`
	Recovery  bool              `yaml:"recovery,omitempty"`
}

// TaskSpec is one task entry in the plan.
type TaskSpec struct {
	ID          string           `yaml:"id"`
	Title       string           `yaml:"title"`
	Description string           `yaml:"description,omitempty"`
	Priority    int              `yaml:"priority,omitempty"`
	AgentType   models.AgentType `yaml:"agent_type,omitempty"`
	DependsOn   []string         `yaml:"depends_on,omitempty"`
}

// Path returns the plan file location for a project root.
func Path(projectRoot string) string {
	return filepath.Join(projectRoot, ".cortexweaver", "plan.yaml")
}

// LoadProject loads and validates the plan under projectRoot.
func LoadProject(projectRoot string) (*Plan, error) {
	return Load(Path(projectRoot))
}

// Load reads, parses and validates a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates plan YAML. Unknown fields are rejected.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrInvalidPlan, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the project name, the task dependency graph and the step
// configuration. graph.ErrCycleDetected and workflow.ErrInvalidConfig remain
// matchable with errors.Is.
func (p *Plan) Validate() error {
	if strings.TrimSpace(p.Project) == "" {
		return fmt.Errorf("%w: project is required", ErrInvalidPlan)
	}
	if len(p.Tasks) == 0 {
		return fmt.Errorf("%w: no tasks", ErrInvalidPlan)
	}
	for i, t := range p.Tasks {
		if strings.TrimSpace(t.Title) == "" {
			return fmt.Errorf("%w: task %d (%s) has no title", ErrInvalidPlan, i, t.ID)
		}
	}

	if err := graph.Validate(p.ModelTasks()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}

	if _, err := p.NewWorkflow(0); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	return nil
}

// ModelTasks converts the plan's task entries into pending tasks.
func (p *Plan) ModelTasks() []*models.Task {
	tasks := make([]*models.Task, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		tasks = append(tasks, &models.Task{
			ID:           t.ID,
			Title:        t.Title,
			Description:  t.Description,
			Status:       models.TaskStatusPending,
			Priority:     t.Priority,
			AgentType:    t.AgentType,
			ProjectID:    p.Project,
			Dependencies: append([]string(nil), t.DependsOn...),
		})
	}
	return tasks
}

// StepConfigs returns the plan's step configuration, or the default six-step
// pipeline when the plan defines none.
func (p *Plan) StepConfigs() []models.WorkflowStepConfig {
	if len(p.Steps) == 0 {
		return workflow.DefaultSteps()
	}
	cfgs := make([]models.WorkflowStepConfig, 0, len(p.Steps))
	for _, s := range p.Steps {
		cfgs = append(cfgs, models.WorkflowStepConfig{
			Step:                  s.Step,
			AgentType:             s.AgentType,
			RequiredPreviousSteps: append([]models.StepName(nil), s.Requires...),
			CritiqueRequired:      s.Critique,
			ErrorRecoveryEnabled:  s.Recovery,
		})
	}
	return cfgs
}

// NewWorkflow builds a workflow manager configured with the plan's steps and
// checks that no prerequisite is left dangling.
func (p *Plan) NewWorkflow(stepEstimate time.Duration) (*workflow.Manager, error) {
	m := workflow.NewManager(stepEstimate)
	for _, cfg := range p.StepConfigs() {
		if err := m.ConfigureStep(cfg); err != nil {
			return nil, err
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
