package orchestrator

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type signalRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *signalRecorder) handlers() SignalHandlers {
	record := func(name string) func() {
		return func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.calls = append(r.calls, name)
		}
	}
	return SignalHandlers{OnPause: record("pause"), OnResume: record("resume"), OnStop: record("stop")}
}

func (r *signalRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == name {
			n++
		}
	}
	return n
}

func TestSignalWatcherPoll(t *testing.T) {
	root := t.TempDir()
	rec := &signalRecorder{}

	sw, err := NewSignalWatcher(root, rec.handlers())
	if err != nil {
		t.Fatalf("NewSignalWatcher: %v", err)
	}
	defer sw.Close()

	if _, err := os.Stat(SignalsDir(root)); err != nil {
		t.Fatalf("signals dir not created: %v", err)
	}

	if err := SendPause(root); err != nil {
		t.Fatalf("SendPause: %v", err)
	}
	sw.Poll()
	sw.Poll()
	if got := rec.count("pause"); got != 1 {
		t.Errorf("pause fired %d times, want 1", got)
	}

	if err := SendResume(root); err != nil {
		t.Fatalf("SendResume: %v", err)
	}
	sw.Poll()
	if got := rec.count("resume"); got != 1 {
		t.Errorf("resume fired %d times, want 1", got)
	}

	if err := SendStop(root); err != nil {
		t.Fatalf("SendStop: %v", err)
	}
	sw.Poll()
	sw.Poll()
	if got := rec.count("stop"); got != 1 {
		t.Errorf("stop fired %d times, want 1", got)
	}
}

func TestSignalWatcherCloseIsIdempotent(t *testing.T) {
	sw, err := NewSignalWatcher(t.TempDir(), SignalHandlers{})
	if err != nil {
		t.Fatalf("NewSignalWatcher: %v", err)
	}
	if err := sw.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := sw.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestClearSignals(t *testing.T) {
	root := t.TempDir()

	if err := ClearSignals(root); err != nil {
		t.Fatalf("ClearSignals with no files: %v", err)
	}

	if err := SendPause(root); err != nil {
		t.Fatal(err)
	}
	if err := SendStop(root); err != nil {
		t.Fatal(err)
	}
	if err := ClearSignals(root); err != nil {
		t.Fatalf("ClearSignals: %v", err)
	}
	for _, name := range []string{pauseSignal, stopSignal} {
		if fileExists(filepath.Join(SignalsDir(root), name)) {
			t.Errorf("%s signal still present", name)
		}
	}
}
