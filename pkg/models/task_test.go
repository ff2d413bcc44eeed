package models

import (
	"testing"
	"time"
)

func TestTaskStatusValid(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPending, true},
		{TaskStatusReady, true},
		{TaskStatusAssigned, true},
		{TaskStatusRunning, true},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
		{TaskStatusCancelled, true},
		{TaskStatus("done"), false},
		{TaskStatus(""), false},
	}

	for _, tt := range tests {
		if got := tt.status.Valid(); got != tt.want {
			t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %q to be terminal", s)
		}
	}

	active := []TaskStatus{TaskStatusPending, TaskStatusReady, TaskStatusAssigned, TaskStatusRunning}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("expected %q to not be terminal", s)
		}
	}
}

func TestTaskPriorityOrdering(t *testing.T) {
	if !(PriorityLow < PriorityNormal && PriorityNormal < PriorityHigh && PriorityHigh < PriorityCritical) {
		t.Error("expected priorities to be ordered low < normal < high < critical")
	}
}

func TestTaskOverdue(t *testing.T) {
	now := time.Now()

	task := &Task{ID: "task-1"}
	if task.Overdue(now) {
		t.Error("task without deadline should never be overdue")
	}

	past := now.Add(-time.Minute)
	task.Deadline = &past
	if !task.Overdue(now) {
		t.Error("task with past deadline should be overdue")
	}

	future := now.Add(time.Minute)
	task.Deadline = &future
	if task.Overdue(now) {
		t.Error("task with future deadline should not be overdue")
	}
}
