package models

import "time"

// AgentType names an agent role.
type AgentType string

const (
	AgentSpecWriter AgentType = "spec_writer"
	AgentFormalizer AgentType = "formalizer"
	AgentPrototyper AgentType = "prototyper"
	AgentArchitect  AgentType = "architect"
	AgentCoder      AgentType = "coder"
	AgentTester     AgentType = "tester"

	// Remediation roles run outside the step sequence.
	AgentDebugger   AgentType = "debugger"
	AgentCodeSavant AgentType = "code_savant"
)

// AgentSpawnResult is the outcome of provisioning a workspace and session
// for an agent. Failures are reported in Error rather than returned.
type AgentSpawnResult struct {
	Success      bool      `json:"success"`
	AgentType    AgentType `json:"agent_type"`
	TaskID       string    `json:"task_id"`
	SessionID    string    `json:"session_id,omitempty"`
	WorktreePath string    `json:"worktree_path,omitempty"`
	Branch       string    `json:"branch,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// ResourceStatus is the lifecycle state of a workspace or session.
type ResourceStatus string

const (
	ResourceActive  ResourceStatus = "active"
	ResourceClosed  ResourceStatus = "closed"
	ResourceUnknown ResourceStatus = "unknown"
)

// WorktreeInfo describes an isolated workspace owned by a task.
type WorktreeInfo struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	Path      string         `json:"path"`
	Branch    string         `json:"branch"`
	Status    ResourceStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// SessionInfo describes an execution session bound to a workspace.
type SessionInfo struct {
	ID            string         `json:"id"`
	TaskID        string         `json:"task_id"`
	WorkspacePath string         `json:"workspace_path,omitempty"`
	Status        ResourceStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
}
