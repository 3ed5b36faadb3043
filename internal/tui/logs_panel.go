package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/orchestrator"
)

// maxLogEntries bounds the log history kept in memory.
const maxLogEntries = 500

// LogLevel represents the severity of a log line.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogEntry is one line in the logs panel.
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	TaskID    string
	Message   string
}

// LogsPanel is a scrolling event log. It follows new entries unless the
// operator has scrolled up.
type LogsPanel struct {
	entries []LogEntry
	view    viewport.Model
	width   int
	height  int

	titleStyle  lipgloss.Style
	borderStyle lipgloss.Style
	timeStyle   lipgloss.Style
	taskStyle   lipgloss.Style
	infoStyle   lipgloss.Style
	warnStyle   lipgloss.Style
	errorStyle  lipgloss.Style
}

// NewLogsPanel creates a new LogsPanel instance.
func NewLogsPanel() *LogsPanel {
	return &LogsPanel{
		view:   viewport.New(78, 8),
		width:  80,
		height: 10,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1),

		borderStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")),

		timeStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		taskStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		infoStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		warnStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		errorStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// SetSize sets the panel dimensions, borders included.
func (p *LogsPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
	p.view.Width = max(width-2, 1)
	p.view.Height = max(height-3, 1)
	p.refresh()
}

// AddEvent appends a log line for an orchestrator event.
func (p *LogsPanel) AddEvent(ev orchestrator.OrchestratorEvent) {
	level := LogLevelInfo
	switch ev.Type {
	case orchestrator.EventTaskFailed, orchestrator.EventBudgetExhausted:
		level = LogLevelError
	case orchestrator.EventStepRetried, orchestrator.EventBudgetWarning, orchestrator.EventCritiqueRequested, orchestrator.EventPaused:
		level = LogLevelWarn
	}

	msg := ev.Message
	if msg == "" {
		msg = string(ev.Type)
	}
	if ev.Error != nil && !strings.Contains(msg, ev.Error.Error()) {
		msg += ": " + ev.Error.Error()
	}
	p.Add(LogEntry{Timestamp: ev.Timestamp, Level: level, TaskID: ev.TaskID, Message: msg})
}

// Add appends an entry, dropping the oldest beyond maxLogEntries.
func (p *LogsPanel) Add(e LogEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	p.entries = append(p.entries, e)
	if len(p.entries) > maxLogEntries {
		p.entries = p.entries[len(p.entries)-maxLogEntries:]
	}
	p.refresh()
}

// Entries returns the retained log entries, oldest first.
func (p *LogsPanel) Entries() []LogEntry {
	return p.entries
}

func (p *LogsPanel) refresh() {
	follow := p.view.AtBottom()
	lines := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		lines = append(lines, p.renderEntry(e))
	}
	p.view.SetContent(strings.Join(lines, "\n"))
	if follow {
		p.view.GotoBottom()
	}
}

func (p *LogsPanel) renderEntry(e LogEntry) string {
	style := p.infoStyle
	switch e.Level {
	case LogLevelWarn:
		style = p.warnStyle
	case LogLevelError:
		style = p.errorStyle
	}

	var b strings.Builder
	b.WriteString(p.timeStyle.Render(e.Timestamp.Format("15:04:05")))
	b.WriteString(" ")
	if e.TaskID != "" {
		b.WriteString(p.taskStyle.Render(fmt.Sprintf("[%s]", e.TaskID)))
		b.WriteString(" ")
	}
	b.WriteString(style.Render(e.Message))
	return b.String()
}

// Update scrolls the log.
func (p *LogsPanel) Update(msg tea.Msg) (*LogsPanel, tea.Cmd) {
	var cmd tea.Cmd
	p.view, cmd = p.view.Update(msg)
	return p, cmd
}

// View renders the panel.
func (p *LogsPanel) View() string {
	title := p.titleStyle.Render(fmt.Sprintf("Events (%d)", len(p.entries)))
	body := p.view.View()
	if len(p.entries) == 0 {
		body = p.timeStyle.Italic(true).Render("  No events yet")
	}
	return p.borderStyle.Width(max(p.width-2, 1)).Render(title + "\n" + body)
}
