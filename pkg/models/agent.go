package models

import "time"

// AgentStatus represents the current state of an agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent is available for work.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusBusy indicates the agent is executing a task.
	AgentStatusBusy AgentStatus = "busy"
	// AgentStatusStalled indicates the agent stopped heartbeating mid-task.
	AgentStatusStalled AgentStatus = "stalled"
	// AgentStatusOffline indicates the agent has been deregistered or lost.
	AgentStatusOffline AgentStatus = "offline"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusBusy, AgentStatusStalled, AgentStatusOffline:
		return true
	default:
		return false
	}
}

// AgentType classifies what kind of work an agent is best suited for.
// The enumeration is open: unknown values are accepted and scored with
// the default profile.
type AgentType string

const (
	AgentTypeResearcher  AgentType = "researcher"
	AgentTypeCoder       AgentType = "coder"
	AgentTypeArchitect   AgentType = "architect"
	AgentTypeOptimizer   AgentType = "optimizer"
	AgentTypeTester      AgentType = "tester"
	AgentTypeReviewer    AgentType = "reviewer"
	AgentTypeDocumenter  AgentType = "documenter"
	AgentTypeCoordinator AgentType = "coordinator"
)

// PerformanceRecord tracks an agent's historical task outcomes.
type PerformanceRecord struct {
	// Completed is the number of tasks finished successfully.
	Completed int `json:"completed"`
	// Failed is the number of tasks that ended in failure.
	Failed int `json:"failed"`
	// MeanDuration is the running mean of successful task durations.
	MeanDuration time.Duration `json:"mean_duration"`
}

// Ratio returns the completion ratio, or 0.5 when there is no history.
func (p PerformanceRecord) Ratio() float64 {
	total := p.Completed + p.Failed
	if total == 0 {
		return 0.5
	}
	return float64(p.Completed) / float64(total)
}

// RecordSuccess folds a successful task of the given duration into the record.
func (p *PerformanceRecord) RecordSuccess(d time.Duration) {
	if p.Completed == 0 {
		p.MeanDuration = d
	} else {
		// Incremental mean keeps the record O(1).
		p.MeanDuration += (d - p.MeanDuration) / time.Duration(p.Completed+1)
	}
	p.Completed++
}

// RecordFailure folds a failed task into the record.
func (p *PerformanceRecord) RecordFailure() {
	p.Failed++
}

// Agent represents a registered worker capable of executing tasks.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Type classifies the agent's specialty.
	Type AgentType `json:"type"`
	// Capabilities lists free-form capability tags for this agent.
	Capabilities []string `json:"capabilities,omitempty"`
	// Status is the current state of the agent.
	Status AgentStatus `json:"status"`
	// CurrentTaskID is the ID of the task the agent is working on, if any.
	CurrentTaskID string `json:"current_task_id,omitempty"`
	// Performance is the agent's historical performance record.
	Performance PerformanceRecord `json:"performance"`
	// LastHeartbeat is the last time the agent reported liveness.
	LastHeartbeat time.Time `json:"last_heartbeat"`
	// RegisteredAt is when the agent joined the pool.
	RegisteredAt time.Time `json:"registered_at"`
}

// Idle returns true if the agent can accept a new assignment.
func (a *Agent) Idle() bool {
	return a.Status == AgentStatusIdle
}
