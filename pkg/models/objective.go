package models

import "time"

// ObjectiveStatus represents the current state of an objective.
type ObjectiveStatus string

const (
	// ObjectiveStatusPlanning indicates decomposition is in progress.
	ObjectiveStatusPlanning ObjectiveStatus = "planning"
	// ObjectiveStatusExecuting indicates tasks are being scheduled.
	ObjectiveStatusExecuting ObjectiveStatus = "executing"
	// ObjectiveStatusCompleted indicates every non-cancelled task completed.
	ObjectiveStatusCompleted ObjectiveStatus = "completed"
	// ObjectiveStatusFailed indicates an unrecoverable task failure.
	ObjectiveStatusFailed ObjectiveStatus = "failed"
	// ObjectiveStatusCancelled indicates the objective was cancelled.
	ObjectiveStatusCancelled ObjectiveStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s ObjectiveStatus) Valid() bool {
	switch s {
	case ObjectiveStatusPlanning, ObjectiveStatusExecuting, ObjectiveStatusCompleted,
		ObjectiveStatusFailed, ObjectiveStatusCancelled:
		return true
	default:
		return false
	}
}

// FailureCause identifies the first unrecoverable task failure of an objective.
type FailureCause struct {
	// TaskID is the task whose failure doomed the objective.
	TaskID string `json:"task_id"`
	// Reason is a human-readable failure description.
	Reason string `json:"reason"`
}

// Objective represents a top-level unit of work submitted by a caller.
type Objective struct {
	// ID is the unique identifier for this objective.
	ID string `json:"id"`
	// Description is the caller-supplied goal statement.
	Description string `json:"description"`
	// Strategy is the coordination strategy chosen by the strategist.
	Strategy string `json:"strategy"`
	// Topology is the communication topology chosen by the strategist.
	Topology string `json:"topology"`
	// TaskIDs lists the tasks produced by decomposition.
	TaskIDs []string `json:"task_ids"`
	// Status is the current state of the objective.
	Status ObjectiveStatus `json:"status"`
	// Failure holds the structured cause when Status is failed.
	Failure *FailureCause `json:"failure,omitempty"`
	// CreatedAt is when the objective was submitted.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the objective reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
