package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/mlbrilliance/CortexWeaver-sub005/internal/orchestrator"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/plan"
	"github.com/mlbrilliance/CortexWeaver-sub005/internal/state"
	"github.com/mlbrilliance/CortexWeaver-sub005/pkg/models"
)

const testPlan = `project: shop
tasks:
  - id: auth
    title: Authentication
  - id: cart
    title: Shopping cart
    depends_on: [auth]
`

func writeTestPlan(t *testing.T, content string) string {
	t.Helper()
	root := t.TempDir()
	path := plan.Path(root)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return root
}

type fakeSessions struct {
	sessions []models.SessionInfo
	closed   []string
}

func (f *fakeSessions) CreateSession(ctx context.Context, taskID, workspacePath string) (string, error) {
	return "", nil
}

func (f *fakeSessions) CloseSession(ctx context.Context, sessionID string) error {
	f.closed = append(f.closed, sessionID)
	return nil
}

func (f *fakeSessions) ListActiveSessions(ctx context.Context) ([]models.SessionInfo, error) {
	return f.sessions, nil
}

func TestFindGitRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	got, err := findGitRoot(nested)
	if err != nil {
		t.Fatalf("findGitRoot() error = %v", err)
	}
	if got != root {
		t.Errorf("findGitRoot() = %q, want %q", got, root)
	}
}

func TestProjectRootRejectsFiles(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}
	old := projectFlag
	t.Cleanup(func() { projectFlag = old })

	projectFlag = file
	if _, err := projectRoot(); err == nil {
		t.Error("expected error for a file path")
	}
}

func TestActiveTaskIDs(t *testing.T) {
	tests := []struct {
		name   string
		status models.OrchestratorStatus
		want   []string
	}{
		{"running run keeps in-progress tasks", models.StatusRunning, []string{"auth"}},
		{"finished run has no active tasks", models.StatusCompleted, nil},
		{"crashed run has no active tasks", models.StatusError, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := writeTestPlan(t, testPlan)
			p, err := plan.LoadProject(root)
			if err != nil {
				t.Fatal(err)
			}
			db, err := state.OpenProject(root)
			if err != nil {
				t.Fatal(err)
			}
			defer db.Close()

			ctx := context.Background()
			if err := db.SyncTasks(ctx, p.Project, p.ModelTasks()); err != nil {
				t.Fatal(err)
			}
			if err := db.UpdateTaskStatus(ctx, "auth", models.TaskStatusInProgress, ""); err != nil {
				t.Fatal(err)
			}
			if err := db.PersistProjectStatus(ctx, p.Project, &models.StatusSnapshot{Status: tt.status}); err != nil {
				t.Fatal(err)
			}

			got, err := activeTaskIDs(ctx, db, root)
			if err != nil {
				t.Fatalf("activeTaskIDs() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("activeTaskIDs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrphanedSessions(t *testing.T) {
	sessions := &fakeSessions{sessions: []models.SessionInfo{
		{ID: "cw-auth", TaskID: "auth", CreatedAt: time.Now()},
		{ID: "cw-cart", TaskID: "cart", CreatedAt: time.Now()},
	}}

	got, err := orphanedSessions(context.Background(), sessions, []string{"auth"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "cw-cart" {
		t.Errorf("orphanedSessions() = %+v, want only cw-cart", got)
	}
}

func TestEventStyle(t *testing.T) {
	tests := []struct {
		typ    orchestrator.EventType
		symbol string
		attr   color.Attribute
	}{
		{orchestrator.EventTaskCompleted, "✓", color.FgGreen},
		{orchestrator.EventTaskFailed, "✗", color.FgRed},
		{orchestrator.EventBudgetExhausted, "✗", color.FgRed},
		{orchestrator.EventStepRetried, "!", color.FgYellow},
		{orchestrator.EventCritiqueRequested, "?", color.FgMagenta},
		{orchestrator.EventRunDone, "■", color.FgCyan},
		{orchestrator.EventTaskQueued, "→", color.FgBlue},
	}
	for _, tt := range tests {
		symbol, attr := eventStyle(tt.typ)
		if symbol != tt.symbol || attr != tt.attr {
			t.Errorf("eventStyle(%s) = %q/%v, want %q/%v", tt.typ, symbol, attr, tt.symbol, tt.attr)
		}
	}
}

func TestRunValidate(t *testing.T) {
	root := writeTestPlan(t, testPlan)
	if err := runValidate(validateCmd, []string{plan.Path(root)}); err != nil {
		t.Errorf("valid plan rejected: %v", err)
	}

	cyclic := writeTestPlan(t, `project: shop
tasks:
  - id: a
    title: A
    depends_on: [b]
  - id: b
    title: B
    depends_on: [a]
`)
	if err := runValidate(validateCmd, []string{plan.Path(cyclic)}); err == nil {
		t.Error("cyclic plan accepted")
	}
}
