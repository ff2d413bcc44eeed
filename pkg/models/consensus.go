package models

import "time"

// ProposalStatus represents the current state of a proposal.
type ProposalStatus string

const (
	// ProposalStatusOpen indicates the proposal is accepting votes.
	ProposalStatusOpen ProposalStatus = "open"
	// ProposalStatusRatified indicates an option met the strategy threshold.
	ProposalStatusRatified ProposalStatus = "ratified"
	// ProposalStatusRejected indicates voting closed without ratification.
	ProposalStatusRejected ProposalStatus = "rejected"
	// ProposalStatusExpired indicates the deadline passed with no decision.
	// Treated like rejected, but recorded distinctly for audit.
	ProposalStatusExpired ProposalStatus = "expired"
	// ProposalStatusSuperseded indicates an earlier conflicting proposal won.
	ProposalStatusSuperseded ProposalStatus = "superseded"
	// ProposalStatusCancelled indicates a topology change invalidated it.
	ProposalStatusCancelled ProposalStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s ProposalStatus) Valid() bool {
	switch s {
	case ProposalStatusOpen, ProposalStatusRatified, ProposalStatusRejected,
		ProposalStatusExpired, ProposalStatusSuperseded, ProposalStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the proposal can no longer change state.
func (s ProposalStatus) Terminal() bool {
	return s != ProposalStatusOpen
}

// ConsensusStrategy selects the threshold rule used to resolve a proposal.
type ConsensusStrategy string

const (
	// StrategySimpleMajority requires the leader to exceed 50% of cast weight.
	StrategySimpleMajority ConsensusStrategy = "simple-majority"
	// StrategySupermajority requires the leader to reach 2/3 of cast weight.
	StrategySupermajority ConsensusStrategy = "supermajority"
	// StrategyUnanimous requires every eligible voter to pick the same option.
	StrategyUnanimous ConsensusStrategy = "unanimous"
	// StrategyWeighted applies agent-type multipliers and requires the leader
	// to exceed 2/3 of the possible total weight, not just cast weight.
	StrategyWeighted ConsensusStrategy = "weighted"
)

// Valid returns true if the strategy is a known value.
func (s ConsensusStrategy) Valid() bool {
	switch s {
	case StrategySimpleMajority, StrategySupermajority, StrategyUnanimous, StrategyWeighted:
		return true
	default:
		return false
	}
}

// Proposal represents a decision put to a vote among eligible agents.
// A proposal is immutable after creation except for its terminal resolution.
type Proposal struct {
	// ID is the unique identifier for this proposal.
	ID string `json:"id"`
	// Topic describes what is being decided.
	Topic string `json:"topic"`
	// Options enumerates the choices voters may pick.
	Options []string `json:"options"`
	// Strategy is the threshold rule used at tally time.
	Strategy ConsensusStrategy `json:"strategy"`
	// Deadline is when voting closes.
	Deadline time.Time `json:"deadline"`
	// ObjectiveID is the objective this proposal concerns, if any.
	ObjectiveID string `json:"objective_id,omitempty"`
	// TaskID is the task this proposal concerns, if any.
	TaskID string `json:"task_id,omitempty"`
	// ProposerID is the agent that created the proposal.
	ProposerID string `json:"proposer_id"`
	// EligibleVoters lists agents permitted to vote, fixed at creation.
	EligibleVoters []string `json:"eligible_voters"`
	// Status is the current state of the proposal.
	Status ProposalStatus `json:"status"`
	// Decision is the winning option, set when Status is ratified.
	Decision string `json:"decision,omitempty"`
	// CreatedAt orders conflicting proposals; earlier wins.
	CreatedAt time.Time `json:"created_at"`
	// ResolvedAt is when the proposal reached a terminal state.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Eligible returns true if the given agent may vote on this proposal.
func (p *Proposal) Eligible(agentID string) bool {
	for _, id := range p.EligibleVoters {
		if id == agentID {
			return true
		}
	}
	return false
}

// HasOption returns true if the given option is one of the proposal's choices.
func (p *Proposal) HasOption(option string) bool {
	for _, o := range p.Options {
		if o == option {
			return true
		}
	}
	return false
}

// Vote is a single agent's input to a proposal. A later vote from the same
// agent overwrites the former until the proposal closes.
type Vote struct {
	// ProposalID identifies the proposal being voted on.
	ProposalID string `json:"proposal_id"`
	// AgentID identifies the voter.
	AgentID string `json:"agent_id"`
	// Option is the chosen option.
	Option string `json:"option"`
	// Confidence is the voter's weight in [0,1].
	Confidence float64 `json:"confidence"`
	// CastAt is when the vote was cast.
	CastAt time.Time `json:"cast_at"`
}
