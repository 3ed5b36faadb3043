// Package agent provisions isolated workspaces and execution sessions for
// the agents that work on CortexWeaver tasks.
package agent

import (
	"context"
	"errors"

	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

var (
	// ErrAgentActive is returned when a task already owns a live workspace and session.
	ErrAgentActive = errors.New("agent already active for task")
	// ErrSessionNotFound indicates the session was already closed or never existed.
	ErrSessionNotFound = errors.New("session not found")
)

// WorkspaceProvider creates and destroys the isolated checkout a task works in.
type WorkspaceProvider interface {
	// CreateWorkspace checks out branch (created from baseBranch if missing)
	// in a directory dedicated to taskID and returns its path.
	CreateWorkspace(ctx context.Context, taskID, branch, baseBranch string) (string, error)
	// RemoveWorkspace removes the workspace for taskID. It reports false
	// when there was nothing to remove.
	RemoveWorkspace(ctx context.Context, taskID string) (bool, error)
	// ListWorkspaces returns every workspace this provider manages.
	ListWorkspaces(ctx context.Context) ([]models.WorktreeInfo, error)
}

// BranchUpdater is implemented by workspace providers that can move a
// branch forward to a commit reachable from it.
type BranchUpdater interface {
	FastForwardBranch(ctx context.Context, branch, to string) error
}

// SessionRunner is implemented by session providers that can run a command
// inside a session and wait for it.
type SessionRunner interface {
	// RunInSession runs command with extra KEY=VALUE env entries in the
	// session's workspace and returns its combined output.
	RunInSession(ctx context.Context, sessionID string, env []string, command string) ([]byte, error)
}

// SessionProvider creates long-lived command execution contexts bound to a workspace.
type SessionProvider interface {
	CreateSession(ctx context.Context, taskID, workspacePath string) (string, error)
	// CloseSession returns ErrSessionNotFound for unknown or already closed sessions.
	CloseSession(ctx context.Context, sessionID string) error
	ListActiveSessions(ctx context.Context) ([]models.SessionInfo, error)
}

// ContextDeliverer is implemented by session providers that can hand the
// agent context payload to a running session.
type ContextDeliverer interface {
	DeliverContext(ctx context.Context, sessionID string, payload *Context) error
}

// Context is the payload forwarded to an agent session. The spawner does not
// interpret Data; it is serialized as-is.
type Context struct {
	TaskID    string           `json:"task_id"`
	Step      models.StepName  `json:"step,omitempty"`
	AgentType models.AgentType `json:"agent_type"`
	Role      string           `json:"role,omitempty"`
	Data      map[string]any   `json:"data,omitempty"`
}
