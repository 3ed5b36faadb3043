package state

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupTestDB opens and migrates a database under t.TempDir.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func TestOpenProjectCreatesStore(t *testing.T) {
	root := t.TempDir()
	db, err := OpenProject(root)
	if err != nil {
		t.Fatalf("OpenProject: %v", err)
	}
	defer db.Close()

	want := filepath.Join(root, ".cortexweaver", "state.db")
	if db.Path() != want || ProjectDBPath(root) != want {
		t.Errorf("Path() = %q, want %q", db.Path(), want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("database file missing: %v", err)
	}

	version, err := db.schemaVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}
}

func TestMigrateCreatesTables(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{"schema_version", "tasks", "project_status", "task_events"} {
		t.Run(table, func(t *testing.T) {
			var count int
			row := db.queryRow(context.Background(), "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table)
			if err := row.Scan(&count); err != nil {
				t.Fatal(err)
			}
			if count != 1 {
				t.Errorf("table %s missing", table)
			}
		})
	}
}

func TestMigrateTwiceKeepsVersion(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	var rows int
	if err := db.queryRow(context.Background(), "SELECT COUNT(*) FROM schema_version").Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != len(migrations) {
		t.Errorf("schema_version rows = %d, want %d", rows, len(migrations))
	}
}

func TestQueryAfterClose(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := db.query(context.Background(), "SELECT 1"); err == nil {
		t.Error("expected error after close")
	}
}

func TestTransactionRollsBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO task_events (id, project_id, task_id, type, created_at) VALUES (?, ?, ?, ?, ?)`,
			"ev-1", "p", "t", string(EventStepCompleted), formatTime(time.Now())); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("transaction error = %v, want boom", err)
	}

	var count int
	if err := db.queryRow(ctx, "SELECT COUNT(*) FROM task_events").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("%d event(s) survived rollback", count)
	}
}

func TestTimeFormatSortsLexically(t *testing.T) {
	earlier := time.Date(2024, 1, 2, 3, 4, 5, 6, time.FixedZone("x", 3600))
	later := earlier.Add(time.Nanosecond)

	a, b := formatTime(earlier), formatTime(later)
	if !(a < b) {
		t.Errorf("%q should sort before %q", a, b)
	}

	parsed, err := parseTime(a)
	if err != nil {
		t.Fatalf("parseTime: %v", err)
	}
	if !parsed.Equal(earlier) {
		t.Errorf("parseTime(formatTime(t)) = %v, want %v", parsed, earlier)
	}
}
