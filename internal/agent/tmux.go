package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/exec"
	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

const (
	// DefaultTmuxSocket isolates CortexWeaver sessions from the user's tmux server.
	DefaultTmuxSocket = "cortexweaver"

	sessionNamePrefix = "cw-"

	// ContextFileName is written into the workspace when a context payload is delivered.
	ContextFileName = ".cortexweaver-context.json"

	// ContextEnvVar carries the context file path into the session environment.
	ContextEnvVar = "CORTEXWEAVER_CONTEXT"
)

// Verify TmuxSessions implements the session interfaces at compile time.
var (
	_ SessionProvider  = (*TmuxSessions)(nil)
	_ ContextDeliverer = (*TmuxSessions)(nil)
	_ SessionRunner    = (*TmuxSessions)(nil)
)

// TmuxSessions provides execution sessions as detached tmux sessions on a
// dedicated socket.
type TmuxSessions struct {
	socket string
	runner exec.CommandRunner

	mu       sync.Mutex
	sessions map[string]models.SessionInfo
}

// NewTmuxSessions creates a tmux session provider. An empty socket uses DefaultTmuxSocket.
func NewTmuxSessions(socket string, runner exec.CommandRunner) *TmuxSessions {
	if socket == "" {
		socket = DefaultTmuxSocket
	}
	if runner == nil {
		runner = exec.NewRunner()
	}
	return &TmuxSessions{
		socket:   socket,
		runner:   runner,
		sessions: make(map[string]models.SessionInfo),
	}
}

// tmux runs a tmux command against the provider's socket.
func (t *TmuxSessions) tmux(ctx context.Context, workDir string, args ...string) (string, error) {
	full := append([]string{"-L", t.socket}, args...)
	out, err := t.runner.Run(ctx, workDir, "tmux", full...)
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// CreateSession starts a detached session rooted at workspacePath.
func (t *TmuxSessions) CreateSession(ctx context.Context, taskID, workspacePath string) (string, error) {
	name := sessionName(taskID)

	if _, err := t.tmux(ctx, workspacePath, "new-session", "-d", "-s", name, "-c", workspacePath); err != nil {
		return "", fmt.Errorf("create session for task %s: %w", taskID, err)
	}

	if _, err := t.tmux(ctx, "", "set-option", "-t", name, "history-limit", "10000"); err != nil {
		log.Printf("[tmux] WARNING: failed to set history-limit for %s: %v", name, err)
	}

	t.mu.Lock()
	t.sessions[name] = models.SessionInfo{
		ID:            name,
		TaskID:        taskID,
		WorkspacePath: workspacePath,
		Status:        models.ResourceActive,
		CreatedAt:     time.Now(),
	}
	t.mu.Unlock()

	return name, nil
}

// CloseSession kills the session.
func (t *TmuxSessions) CloseSession(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	delete(t.sessions, sessionID)
	t.mu.Unlock()

	if _, err := t.tmux(ctx, "", "kill-session", "-t", sessionID); err != nil {
		if isSessionNotFoundError(err) {
			return fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
		}
		return err
	}
	return nil
}

// ListActiveSessions returns the sessions running on the socket.
func (t *TmuxSessions) ListActiveSessions(ctx context.Context) ([]models.SessionInfo, error) {
	out, err := t.tmux(ctx, "", "list-sessions", "-F", "#{session_name}\t#{session_created}\t#{session_path}")
	if err != nil {
		if isSessionNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return parseSessionList(out, t.sessions), nil
}

// DeliverContext writes payload as JSON into the session's workspace and
// exports its path to the session environment.
func (t *TmuxSessions) DeliverContext(ctx context.Context, sessionID string, payload *Context) error {
	t.mu.Lock()
	info, ok := t.sessions[sessionID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	path := filepath.Join(info.WorkspacePath, ContextFileName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write context file: %w", err)
	}

	if _, err := t.tmux(ctx, "", "set-environment", "-t", sessionID, ContextEnvVar, path); err != nil {
		return fmt.Errorf("export context to session: %w", err)
	}
	return nil
}

// RunInSession runs command in a new window of the session, so the work is
// visible to anyone attached to it, and returns its combined output once it
// exits. A non-zero exit gives an *exec.CommandError. Cancelling ctx kills
// the window.
func (t *TmuxSessions) RunInSession(ctx context.Context, sessionID string, env []string, command string) ([]byte, error) {
	t.mu.Lock()
	info, ok := t.sessions[sessionID]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
	}

	dir, err := os.MkdirTemp("", "cortexweaver-run-")
	if err != nil {
		return nil, fmt.Errorf("run in session %s: %w", sessionID, err)
	}
	defer os.RemoveAll(dir)

	outPath := filepath.Join(dir, "output")
	statusPath := filepath.Join(dir, "status")
	channel := "cw-done-" + uuid.New().String()
	script := windowScript(t.socket, channel, env, command, outPath, statusPath)

	window, err := t.tmux(ctx, info.WorkspacePath, "new-window", "-d", "-P", "-F", "#{window_id}",
		"-t", sessionID+":", "-c", info.WorkspacePath, "sh", "-c", script)
	if err != nil {
		return nil, fmt.Errorf("run in session %s: %w", sessionID, err)
	}

	if _, err := t.tmux(ctx, "", "wait-for", channel); err != nil {
		if _, killErr := t.tmux(context.WithoutCancel(ctx), "", "kill-window", "-t", window); killErr != nil {
			log.Printf("[tmux] WARNING: failed to kill window %s in %s: %v", window, sessionID, killErr)
		}
		out, _ := os.ReadFile(outPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, fmt.Errorf("sh: %w", ctxErr)
		}
		return out, fmt.Errorf("run in session %s: %w", sessionID, err)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("run in session %s: read output: %w", sessionID, err)
	}
	raw, err := os.ReadFile(statusPath)
	if err != nil {
		return out, fmt.Errorf("run in session %s: command ended without an exit status", sessionID)
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return out, fmt.Errorf("run in session %s: bad exit status %q", sessionID, raw)
	}
	if code != 0 {
		return out, &exec.CommandError{Name: "sh", ExitCode: code}
	}
	return out, nil
}

// windowScript wraps command so its output and exit status land in files
// and the waiting client is signalled however the window ends. The command
// runs in a subshell so its own exit cannot skip the status write.
func windowScript(socket, channel string, env []string, command, outPath, statusPath string) string {
	var b strings.Builder
	b.WriteString("trap 'exit 129' HUP TERM\n")
	fmt.Fprintf(&b, "trap %s EXIT\n", shellQuote("tmux -L "+shellQuote(socket)+" wait-for -S "+shellQuote(channel)))
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !isEnvName(k) {
			continue
		}
		fmt.Fprintf(&b, "export %s=%s\n", k, shellQuote(v))
	}
	fmt.Fprintf(&b, "(\n%s\n) >%s 2>&1\n", command, shellQuote(outPath))
	fmt.Fprintf(&b, "echo $? >%s\n", shellQuote(statusPath))
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isEnvName(s string) bool {
	if s == "" || '0' <= s[0] && s[0] <= '9' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isNameByte(s[i]) || s[i] == '-' {
			return false
		}
	}
	return true
}

// parseSessionList parses list-sessions output, preferring tracked records.
func parseSessionList(output string, tracked map[string]models.SessionInfo) []models.SessionInfo {
	var sessions []models.SessionInfo
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) == 0 || !strings.HasPrefix(fields[0], sessionNamePrefix) {
			continue
		}
		name := fields[0]

		if info, ok := tracked[name]; ok {
			sessions = append(sessions, info)
			continue
		}

		info := models.SessionInfo{
			ID:     name,
			TaskID: taskIDFromSessionName(name),
			Status: models.ResourceUnknown,
		}
		if len(fields) > 1 {
			if secs, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
				info.CreatedAt = time.Unix(secs, 0)
			}
		}
		if len(fields) > 2 {
			info.WorkspacePath = fields[2]
		}
		sessions = append(sessions, info)
	}
	return sessions
}

// isSessionNotFoundError checks whether tmux reported a missing session or server.
func isSessionNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "session not found") ||
		strings.Contains(errStr, "no server running") ||
		strings.Contains(errStr, "can't find session")
}
