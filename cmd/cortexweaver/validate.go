package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/graph"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/plan"
)

var validateCmd = &cobra.Command{
	Use:   "validate [plan-file]",
	Short: "Check a plan file without running it",
	Long: `Parse and validate a plan file: the project name, task titles, the task
dependency graph (unknown dependencies and cycles) and the step pipeline
(unknown prerequisites and cycles).

Defaults to .cortexweaver/plan.yaml under the project root. On success the
step order and a task execution order are printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		path = plan.Path(root)
	}

	p, err := plan.Load(path)
	if err != nil {
		printStatus("✗", err.Error(), color.FgRed)
		return err
	}

	wf, err := p.NewWorkflow(0)
	if err != nil {
		return err
	}
	g := graph.New()
	if err := g.Build(p.ModelTasks()); err != nil {
		return err
	}
	order, err := g.TopologicalSort()
	if err != nil {
		return err
	}

	printStatus("✓", fmt.Sprintf("%s is valid", path), color.FgGreen)
	fmt.Printf("  project: %s\n", p.Project)
	steps := make([]string, 0, len(wf.Steps()))
	for _, s := range wf.Steps() {
		steps = append(steps, string(s))
	}
	fmt.Printf("  steps:   %s\n", strings.Join(steps, " → "))
	fmt.Printf("  tasks:   %d (%s)\n", len(order), strings.Join(order, ", "))
	return nil
}
