// Package orchestrator drives a project's tasks through the step workflow.
//
// The Orchestrator is the composition root. It loads the project plan,
// restores task and workflow state from the store, and runs a bounded pool of
// workers. Each worker walks one task through its configured steps:
//   - Check the budget before any spawn
//   - Wait on the critique gate for steps that require review
//   - Spawn an agent (workspace plus session) and execute the step in it
//   - Clean the agent up, then complete the step or classify the failure
//
// Example usage:
//
//	o := orchestrator.New(orchestrator.RequiredConfig{
//		Store:    db,
//		Spawner:  spawner,
//		Executor: orchestrator.NewCommandExecutor(runner, cfg.Agent.Command, tracker),
//	}, orchestrator.WithConfig(cfg), orchestrator.WithBudget(tracker))
//	if err := o.Initialize(ctx, projectRoot); err != nil {
//		return err
//	}
//	err := o.Start(ctx)
package orchestrator
