package coordinator

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ControlWatcher handles out-of-band control via the .hivemind directory.
// Dropping a file named cancel-<objectiveID> into .hivemind/signals cancels
// that objective; a file named drain stops the coordinator from accepting
// new objectives.
type ControlWatcher struct {
	hiveDir string
	coord   *Coordinator

	mu          sync.RWMutex
	drainSignal bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewControlWatcher creates a control watcher rooted at the given directory.
func NewControlWatcher(rootPath string, coord *Coordinator) (*ControlWatcher, error) {
	hiveDir := filepath.Join(rootPath, ".hivemind")

	signalsDir := filepath.Join(hiveDir, "signals")
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return nil, err
	}

	cw := &ControlWatcher{
		hiveDir: hiveDir,
		coord:   coord,
		done:    make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Continue without watcher; callers can still poll ShouldDrain.
		return cw, nil
	}
	cw.watcher = watcher

	if err := watcher.Add(signalsDir); err != nil {
		watcher.Close()
		cw.watcher = nil
		return cw, nil
	}

	go cw.watchSignals()

	return cw, nil
}

// watchSignals monitors the signals directory for drain and cancel files.
func (cw *ControlWatcher) watchSignals() {
	for {
		select {
		case <-cw.done:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 && event.Op&fsnotify.Write == 0 {
				continue
			}
			base := filepath.Base(event.Name)
			switch {
			case base == "drain":
				cw.mu.Lock()
				cw.drainSignal = true
				cw.mu.Unlock()
			case strings.HasPrefix(base, "cancel-"):
				objectiveID := strings.TrimPrefix(base, "cancel-")
				if cw.coord != nil && objectiveID != "" {
					cw.coord.CancelObjective(objectiveID, "cancelled via control signal")
				}
			}
		case <-cw.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

// ShouldDrain returns true if a drain signal has been received.
func (cw *ControlWatcher) ShouldDrain() bool {
	// Also check the file directly in case the watcher missed it.
	drainPath := filepath.Join(cw.hiveDir, "signals", "drain")
	if _, err := os.Stat(drainPath); err == nil {
		cw.mu.Lock()
		cw.drainSignal = true
		cw.mu.Unlock()
	}

	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.drainSignal
}

// SendDrain creates a drain signal file.
func (cw *ControlWatcher) SendDrain() error {
	path := filepath.Join(cw.hiveDir, "signals", "drain")
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// SendCancel creates a cancel signal file for an objective.
func (cw *ControlWatcher) SendCancel(objectiveID string) error {
	path := filepath.Join(cw.hiveDir, "signals", "cancel-"+objectiveID)
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// ClearSignals removes all signal files and resets signal state.
func (cw *ControlWatcher) ClearSignals() {
	cw.mu.Lock()
	cw.drainSignal = false
	cw.mu.Unlock()

	signalsDir := filepath.Join(cw.hiveDir, "signals")
	entries, err := os.ReadDir(signalsDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		os.Remove(filepath.Join(signalsDir, entry.Name()))
	}
}

// HiveDir returns the path to the .hivemind directory.
func (cw *ControlWatcher) HiveDir() string {
	return cw.hiveDir
}

// Close shuts down the control watcher.
func (cw *ControlWatcher) Close() {
	close(cw.done)
	if cw.watcher != nil {
		cw.watcher.Close()
	}
}
