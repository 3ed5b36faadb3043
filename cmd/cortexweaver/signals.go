package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/orchestrator"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause a running orchestrator",
	Long: `Ask the orchestrator running in this project to stop spawning agents.
Steps already running finish; nothing new starts until 'cortexweaver resume'.`,
	RunE: signalCommand(orchestrator.SendPause, "Pause requested"),
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused orchestrator",
	RunE:  signalCommand(orchestrator.SendResume, "Resume requested"),
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running orchestrator",
	Long: `Ask the orchestrator running in this project to stop. In-flight steps are
cancelled and their tasks return to pending, so the next start resumes them.`,
	RunE: signalCommand(orchestrator.SendStop, "Stop requested"),
}

// signalCommand returns a RunE that drops a signal file for the running
// orchestrator to pick up.
func signalCommand(send func(projectRoot string) error, done string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		if err := send(root); err != nil {
			return err
		}
		printStatus("✓", done, color.FgGreen)
		return nil
	}
}
