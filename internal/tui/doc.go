// Package tui provides the terminal dashboard for a running orchestrator.
//
// The dashboard shows every task with its current workflow step and step
// progress, the run status, budget spend and a scrolling event log. It also
// lets the operator steer the run:
//   - p pauses or resumes spawning
//   - a approves the selected task's pending critique
//   - r rejects it after prompting for a reason
//   - s stops the run
//
// Usage:
//
//	program := tui.NewProgram(orch, orch.Events(), cfg.TUI.RefreshRate)
//	go func() {
//	    orch.Start(ctx)
//	}()
//	if _, err := program.Run(); err != nil {
//	    return err
//	}
//
// The dashboard consumes the event channel until it is closed. Quitting the
// dashboard does not stop the run; the caller decides what happens next.
package tui
