// Package coordinator manages the swarm: agent registry, objective
// decomposition, scheduling, and failure recovery.
package coordinator

import (
	"time"
)

// EventType represents the type of coordinator event.
type EventType string

const (
	// EventObjectiveSubmitted indicates an objective was accepted and decomposed.
	EventObjectiveSubmitted EventType = "objective_submitted"
	// EventObjectiveCompleted indicates every task of an objective completed.
	EventObjectiveCompleted EventType = "objective_completed"
	// EventObjectiveFailed indicates an objective failed unrecoverably.
	EventObjectiveFailed EventType = "objective_failed"
	// EventObjectiveCancelled indicates an objective was cancelled.
	EventObjectiveCancelled EventType = "objective_cancelled"
	// EventTaskReady indicates a task's dependencies are satisfied.
	EventTaskReady EventType = "task_ready"
	// EventTaskAssigned indicates a task was assigned to an agent.
	EventTaskAssigned EventType = "task_assigned"
	// EventTaskStarted indicates a task has started execution.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed permanently.
	EventTaskFailed EventType = "task_failed"
	// EventTaskRetried indicates a failed or stalled task was requeued.
	EventTaskRetried EventType = "task_retried"
	// EventTaskStolen indicates a queued task moved to a less loaded agent.
	EventTaskStolen EventType = "task_stolen"
	// EventAgentRegistered indicates an agent joined the pool.
	EventAgentRegistered EventType = "agent_registered"
	// EventAgentDeregistered indicates an agent left the pool.
	EventAgentDeregistered EventType = "agent_deregistered"
	// EventAgentStalled indicates an agent missed its heartbeat window.
	EventAgentStalled EventType = "agent_stalled"
	// EventProposalResolved indicates a consensus proposal reached a decision.
	EventProposalResolved EventType = "proposal_resolved"
	// EventTopologyChanged indicates an objective's topology was replaced.
	EventTopologyChanged EventType = "topology_changed"
)

// Event represents an event emitted by the coordinator. Subscribers use
// these to track scheduling progress without polling.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// ObjectiveID is the ID of the related objective, if applicable.
	ObjectiveID string
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// AgentID is the ID of the related agent, if applicable.
	AgentID string
	// ProposalID is the ID of the related proposal, if applicable.
	ProposalID string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
