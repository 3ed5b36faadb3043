package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// DefaultWaitDelay is how long a cancelled command may take to exit after
// SIGTERM before it is killed.
const DefaultWaitDelay = 5 * time.Second

// CommandError reports a command that could not start or exited non-zero.
type CommandError struct {
	Name     string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	if e.ExitCode > 0 {
		return fmt.Sprintf("%s exited with status %d", e.Name, e.ExitCode)
	}
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner implements CommandRunner using os/exec. Cancelled commands get
// SIGTERM first so agent processes can flush their output.
type ExecRunner struct {
	WaitDelay time.Duration
}

// NewRunner creates a new ExecRunner.
func NewRunner() *ExecRunner {
	return &ExecRunner{WaitDelay: DefaultWaitDelay}
}

// Run executes a command and returns combined stdout/stderr output.
func (r *ExecRunner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	return r.RunEnv(ctx, workDir, nil, name, args...)
}

// RunEnv executes a command with additional environment variables.
func (r *ExecRunner) RunEnv(ctx context.Context, workDir string, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.WaitDelay

	out, err := cmd.CombinedOutput()
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, fmt.Errorf("%s: %w", name, ctxErr)
	}
	cmdErr := &CommandError{Name: name, Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = exitErr.ExitCode()
	}
	return out, cmdErr
}

var _ CommandRunner = (*ExecRunner)(nil)
