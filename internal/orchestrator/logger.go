package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogger appends timestamped lines to a log file. A logger without a
// file discards everything, as does a nil *DebugLogger.
type DebugLogger struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewDebugLogger opens (or creates) the log file at logPath. An empty path
// yields a no-op logger.
func NewDebugLogger(logPath string) (*DebugLogger, error) {
	if logPath == "" {
		return &DebugLogger{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &DebugLogger{w: f}
	l.Log("=== orchestrator debug log started at %s ===", time.Now().Format(time.RFC3339))
	return l, nil
}

// DebugLogPath returns the debug log location for a project root.
func DebugLogPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".cortexweaver", "logs", "orchestrator-debug.log")
}

// NewDebugLoggerForProject opens the project's debug log, falling back to a
// no-op logger if it cannot be created.
func NewDebugLoggerForProject(projectRoot string) *DebugLogger {
	l, err := NewDebugLogger(DebugLogPath(projectRoot))
	if err != nil {
		return &DebugLogger{}
	}
	return l
}

// NopLogger returns a logger that discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log writes one timestamped line.
func (l *DebugLogger) Log(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return
	}
	fmt.Fprintf(l.w, "[%s] %s\n", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
}

// Func adapts the logger to the SetDebugLog hooks of the components it drives.
func (l *DebugLogger) Func() func(format string, args ...interface{}) {
	return l.Log
}

// Close closes the log file.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	err := l.w.Close()
	l.w = nil
	return err
}
