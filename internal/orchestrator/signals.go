package orchestrator

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	pauseSignal = "pause"
	stopSignal  = "stop"
)

// SignalsDir returns the directory watched for operator signals.
func SignalsDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".cortexweaver", "signals")
}

// SignalHandlers are invoked on signal changes. Nil handlers are skipped.
type SignalHandlers struct {
	OnPause  func()
	OnResume func()
	OnStop   func()
}

// SignalWatcher turns signal files into pause, resume and stop callbacks.
// Creating signals/pause pauses, removing it resumes, creating signals/stop
// stops. Poll re-checks the files for platforms where the watcher misses events.
type SignalWatcher struct {
	dir      string
	handlers SignalHandlers

	mu      sync.Mutex
	paused  bool
	stopped bool

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSignalWatcher creates the signals directory and starts watching it. A
// watcher that cannot be started leaves Poll as the only detection path.
func NewSignalWatcher(projectRoot string, handlers SignalHandlers) (*SignalWatcher, error) {
	dir := SignalsDir(projectRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	sw := &SignalWatcher{
		dir:      dir,
		handlers: handlers,
		done:     make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[orchestrator] signal watcher unavailable, polling only: %v", err)
		return sw, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		log.Printf("[orchestrator] watch %s: %v, polling only", dir, err)
		return sw, nil
	}
	sw.watcher = watcher

	sw.wg.Add(1)
	go sw.watch()
	return sw, nil
}

func (sw *SignalWatcher) watch() {
	defer sw.wg.Done()
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			switch filepath.Base(event.Name) {
			case pauseSignal, stopSignal:
				sw.Poll()
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[orchestrator] signal watcher error: %v", err)
		}
	}
}

// Poll reconciles state with the signal files and fires handlers for changes.
func (sw *SignalWatcher) Poll() {
	pausePresent := fileExists(filepath.Join(sw.dir, pauseSignal))
	stopPresent := fileExists(filepath.Join(sw.dir, stopSignal))

	sw.mu.Lock()
	var fire []func()
	if stopPresent && !sw.stopped {
		sw.stopped = true
		fire = append(fire, sw.handlers.OnStop)
	}
	if pausePresent != sw.paused {
		sw.paused = pausePresent
		if pausePresent {
			fire = append(fire, sw.handlers.OnPause)
		} else {
			fire = append(fire, sw.handlers.OnResume)
		}
	}
	sw.mu.Unlock()

	for _, fn := range fire {
		if fn != nil {
			fn()
		}
	}
}

// Close stops watching. It does not remove signal files.
func (sw *SignalWatcher) Close() error {
	var err error
	sw.closeOnce.Do(func() {
		close(sw.done)
		if sw.watcher != nil {
			err = sw.watcher.Close()
		}
		sw.wg.Wait()
	})
	return err
}

// SendPause creates the pause signal for the project at projectRoot.
func SendPause(projectRoot string) error {
	return writeSignal(projectRoot, pauseSignal)
}

// SendResume removes the pause signal.
func SendResume(projectRoot string) error {
	return removeSignal(projectRoot, pauseSignal)
}

// SendStop creates the stop signal.
func SendStop(projectRoot string) error {
	return writeSignal(projectRoot, stopSignal)
}

// ClearSignals removes all signal files.
func ClearSignals(projectRoot string) error {
	return errors.Join(removeSignal(projectRoot, pauseSignal), removeSignal(projectRoot, stopSignal))
}

func removeSignal(projectRoot, name string) error {
	err := os.Remove(filepath.Join(SignalsDir(projectRoot), name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func writeSignal(projectRoot, name string) error {
	dir := SignalsDir(projectRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(time.Now().Format(time.RFC3339)), 0644)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
