package exec

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesOutput(t *testing.T) {
	r := NewRunner()
	out, err := r.Run(context.Background(), t.TempDir(), "sh", "-c", "echo hello; echo oops >&2")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(string(out), "hello") || !strings.Contains(string(out), "oops") {
		t.Errorf("output %q missing stdout or stderr", out)
	}
}

func TestRunEnvAppendsEnvironment(t *testing.T) {
	r := NewRunner()
	out, err := r.RunEnv(context.Background(), "", []string{"CW_TEST_VALUE=42"}, "sh", "-c", "echo $CW_TEST_VALUE")
	if err != nil {
		t.Fatalf("RunEnv() error = %v", err)
	}
	if strings.TrimSpace(string(out)) != "42" {
		t.Errorf("output = %q, want 42", out)
	}
}

func TestRunReportsExitCode(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), "", "sh", "-c", "exit 3")

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %v", err)
	}
	if cmdErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", cmdErr.ExitCode)
	}
	if cmdErr.Error() != "sh exited with status 3" {
		t.Errorf("Error() = %q", cmdErr.Error())
	}
}

func TestRunCancelled(t *testing.T) {
	r := &ExecRunner{WaitDelay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.Run(ctx, "", "sleep", "5")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
