package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/agent"
	iexec "github.com/mlbrilliance/CortexWeaver-sub005/internal/exec"
	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

// CostLinePrefix marks an output line reporting the dollars a step spent,
// e.g. "CORTEXWEAVER_COST=0.42". Multiple lines are summed.
const CostLinePrefix = "CORTEXWEAVER_COST="

// maxErrorOutput bounds how much command output is kept in a step error.
const maxErrorOutput = 2000

// StepRequest is one step of one task, ready to run in a provisioned agent.
type StepRequest struct {
	Task      *models.Task
	Step      models.StepName
	AgentType models.AgentType
	Attempt   int
	Agent     models.AgentSpawnResult
}

// StepResult is what a step produced.
type StepResult struct {
	Output   string
	Cost     float64
	Duration time.Duration
}

// StepExecutor runs a step inside its agent's workspace.
type StepExecutor interface {
	Execute(ctx context.Context, req StepRequest) (StepResult, error)
}

// CostRecorder receives the cost a step reported.
type CostRecorder interface {
	Record(taskID string, cost float64)
}

// CommandExecutor runs a shell command in the agent's worktree. The command
// finds its context file through CORTEXWEAVER_CONTEXT. An empty command
// completes every step without running anything.
type CommandExecutor struct {
	runner   iexec.CommandRunner
	sessions agent.SessionRunner
	command  string
	costs    CostRecorder
	timeout  time.Duration
}

// NewCommandExecutor creates a CommandExecutor. costs may be nil.
func NewCommandExecutor(runner iexec.CommandRunner, command string, costs CostRecorder) *CommandExecutor {
	return &CommandExecutor{runner: runner, command: strings.TrimSpace(command), costs: costs}
}

// SetTimeout bounds each step. Zero disables the bound.
func (e *CommandExecutor) SetTimeout(d time.Duration) {
	e.timeout = d
}

// SetSessionRunner makes steps run inside the agent's session when the
// spawn result names one. Without it, or without a session, the command runs
// directly in the worktree.
func (e *CommandExecutor) SetSessionRunner(sessions agent.SessionRunner) {
	e.sessions = sessions
}

// Execute implements StepExecutor.
func (e *CommandExecutor) Execute(ctx context.Context, req StepRequest) (StepResult, error) {
	if e.command == "" {
		return StepResult{}, nil
	}
	if req.Agent.WorktreePath == "" {
		return StepResult{}, fmt.Errorf("step %s of task %s has no workspace", req.Step, req.Task.ID)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	env := []string{
		agent.ContextEnvVar + "=" + filepath.Join(req.Agent.WorktreePath, agent.ContextFileName),
		"CORTEXWEAVER_TASK_ID=" + req.Task.ID,
		"CORTEXWEAVER_STEP=" + string(req.Step),
		"CORTEXWEAVER_AGENT_TYPE=" + string(req.AgentType),
		"CORTEXWEAVER_ATTEMPT=" + strconv.Itoa(req.Attempt),
		"CORTEXWEAVER_SESSION=" + req.Agent.SessionID,
	}

	start := time.Now()
	var out []byte
	var err error
	if e.sessions != nil && req.Agent.SessionID != "" {
		out, err = e.sessions.RunInSession(ctx, req.Agent.SessionID, env, e.command)
	} else {
		out, err = e.runner.RunEnv(ctx, req.Agent.WorktreePath, env, "sh", "-c", e.command)
	}
	result := StepResult{
		Output:   string(out),
		Cost:     parseCost(out),
		Duration: time.Since(start),
	}
	if e.costs != nil && result.Cost > 0 {
		e.costs.Record(req.Task.ID, result.Cost)
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return result, fmt.Errorf("step %s timed out after %s", req.Step, e.timeout)
		}
		return result, fmt.Errorf("step %s: %w: %s", req.Step, err, tail(result.Output, maxErrorOutput))
	}
	return result, nil
}

// parseCost sums every CostLinePrefix line in out. Malformed values are ignored.
func parseCost(out []byte) float64 {
	var total float64
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		v, ok := strings.CutPrefix(line, CostLinePrefix)
		if !ok {
			continue
		}
		cost, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || cost < 0 {
			continue
		}
		total += cost
	}
	return total
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

var _ StepExecutor = (*CommandExecutor)(nil)
