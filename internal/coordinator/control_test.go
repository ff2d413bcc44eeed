package coordinator

import (
	"testing"
	"time"

	"github.com/hivemind-dev/hivemind/pkg/models"
)

func TestControlWatcherCancelsObjective(t *testing.T) {
	c := New(okExec(), WithConfig(testConfig()))

	obj, err := c.SubmitObjective(ObjectiveSpec{
		Description: "cancellable from outside",
		Tasks:       []TaskSpec{{ID: "only", Type: "implement", Description: "parked"}},
	})
	if err != nil {
		t.Fatalf("SubmitObjective: %v", err)
	}

	dir := t.TempDir()
	cw, err := NewControlWatcher(dir, c)
	if err != nil {
		t.Fatalf("NewControlWatcher: %v", err)
	}
	defer cw.Close()

	if err := cw.SendCancel(obj.ID); err != nil {
		t.Fatalf("SendCancel: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		got, err := c.Objective(obj.ID)
		if err != nil {
			t.Fatalf("Objective: %v", err)
		}
		if got.Status == models.ObjectiveStatusCancelled {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("objective status = %s, want cancelled", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestControlWatcherDrainSignal(t *testing.T) {
	dir := t.TempDir()
	cw, err := NewControlWatcher(dir, nil)
	if err != nil {
		t.Fatalf("NewControlWatcher: %v", err)
	}
	defer cw.Close()

	if cw.ShouldDrain() {
		t.Fatal("drain signalled before any signal sent")
	}
	if err := cw.SendDrain(); err != nil {
		t.Fatalf("SendDrain: %v", err)
	}
	// ShouldDrain stats the file directly, so no watcher latency here.
	if !cw.ShouldDrain() {
		t.Error("drain signal not detected")
	}

	cw.ClearSignals()
	if cw.ShouldDrain() {
		t.Error("drain signal survived ClearSignals")
	}
}
