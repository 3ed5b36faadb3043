package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/orchestrator"
)

// EventMsg carries one orchestrator event into the dashboard.
type EventMsg struct {
	Event orchestrator.OrchestratorEvent
}

// eventsClosedMsg is sent once the event channel has been closed.
type eventsClosedMsg struct{}

// RefreshMsg asks the dashboard to re-read task state.
type RefreshMsg time.Time

// ReasonSubmittedMsg is sent when the operator confirms a rejection reason.
type ReasonSubmittedMsg struct {
	TaskID string
	Reason string
}

// waitForEvent reads the next event from ch.
func waitForEvent(ch <-chan orchestrator.OrchestratorEvent) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

func refreshEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return RefreshMsg(t)
	})
}
