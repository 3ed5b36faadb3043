// Package exec runs external commands for the git, tmux and agent step layers.
package exec

import (
	"context"
)

// CommandRunner runs external commands and returns their combined
// stdout/stderr. Tests substitute fakes to avoid spawning processes.
type CommandRunner interface {
	// Run executes name in workDir, or the current directory when workDir is empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// RunEnv is Run with extra KEY=VALUE entries appended to the environment.
	RunEnv(ctx context.Context, workDir string, env []string, name string, args ...string) (output []byte, err error)
}
