// Package consensus runs proposal/vote/ratify cycles among agents.
// Vote casting is concurrent; tallying and resolution are guarded
// per-proposal so outcomes are deterministic.
package consensus

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hivemind-dev/hivemind/internal/memory"
	"github.com/hivemind-dev/hivemind/pkg/models"
)

// ErrIneligibleVoter indicates the agent may not vote on the proposal.
var ErrIneligibleVoter = errors.New("ineligible voter")

// ErrSupersededProposal indicates an earlier open proposal on the same
// objective wins; the later conflicting proposal is auto-rejected.
var ErrSupersededProposal = errors.New("superseded proposal")

// ErrProposalClosed indicates the proposal no longer accepts votes.
var ErrProposalClosed = errors.New("proposal closed")

// ErrUnknownProposal indicates no proposal exists with the given ID.
var ErrUnknownProposal = errors.New("unknown proposal")

// ErrUnknownOption indicates the vote names an option the proposal lacks.
var ErrUnknownOption = errors.New("unknown option")

// proposalState couples a proposal with its votes. The mutex serializes
// tally and resolution for this proposal only.
type proposalState struct {
	mu       sync.Mutex
	proposal *models.Proposal
	votes    map[string]models.Vote
}

// Engine is the consensus engine.
type Engine struct {
	mu        sync.RWMutex
	proposals map[string]*proposalState

	store *memory.Store

	// weightOf returns the weighted-strategy multiplier for an agent.
	// Defaults to 1.0 for every agent.
	weightOf func(agentID string) float64

	// eligibleFor returns the voters allowed to communicate with the
	// proposer under the objective's topology. Defaults to nil, meaning
	// the caller must pass explicit voters.
	eligibleFor func(proposerID, objectiveID string) []string

	logf func(format string, args ...any)
	now  func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore persists proposals and votes to the given memory store under
// the consensus/<proposalID> namespace.
func WithStore(s *memory.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithWeightFunc sets the per-agent multiplier used by the weighted strategy.
func WithWeightFunc(f func(agentID string) float64) Option {
	return func(e *Engine) {
		if f != nil {
			e.weightOf = f
		}
	}
}

// WithEligibility sets the topology-derived voter eligibility function. The
// function receives the objective so eligibility can follow the objective's
// own topology.
func WithEligibility(f func(proposerID, objectiveID string) []string) Option {
	return func(e *Engine) { e.eligibleFor = f }
}

// WithLogf sets the diagnostic log function.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(e *Engine) {
		if logf != nil {
			e.logf = logf
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a consensus engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		proposals: make(map[string]*proposalState),
		weightOf:  func(string) float64 { return 1.0 },
		logf:      func(string, ...any) {},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateProposal opens a proposal. Eligible voters are the agents the
// proposer may communicate with under the objective's topology (plus the
// proposer itself); explicit voters override the topology-derived set.
// A proposal conflicting with an earlier open proposal on the same objective
// is recorded as superseded and rejected with ErrSupersededProposal.
func (e *Engine) CreateProposal(topic string, options []string, strategy models.ConsensusStrategy, deadline time.Time, proposerID, objectiveID string, voters []string) (*models.Proposal, error) {
	if len(options) < 2 {
		return nil, fmt.Errorf("proposal %q needs at least two options", topic)
	}
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown consensus strategy %q", strategy)
	}

	if voters == nil && e.eligibleFor != nil {
		voters = e.eligibleFor(proposerID, objectiveID)
	}
	voters = withProposer(voters, proposerID)

	p := &models.Proposal{
		ID:             uuid.New().String()[:8],
		Topic:          topic,
		Options:        options,
		Strategy:       strategy,
		Deadline:       deadline,
		ObjectiveID:    objectiveID,
		ProposerID:     proposerID,
		EligibleVoters: voters,
		Status:         models.ProposalStatusOpen,
		CreatedAt:      e.now(),
	}

	e.mu.Lock()
	if objectiveID != "" {
		for _, other := range e.proposals {
			other.mu.Lock()
			conflict := other.proposal.Status == models.ProposalStatusOpen &&
				other.proposal.ObjectiveID == objectiveID &&
				!other.proposal.CreatedAt.After(p.CreatedAt)
			other.mu.Unlock()
			if conflict {
				e.mu.Unlock()
				p.Status = models.ProposalStatusSuperseded
				resolved := e.now()
				p.ResolvedAt = &resolved
				e.persistProposal(p)
				return nil, fmt.Errorf("%w: objective %s already has an open proposal", ErrSupersededProposal, objectiveID)
			}
		}
	}
	e.proposals[p.ID] = &proposalState{proposal: p, votes: make(map[string]models.Vote)}
	e.mu.Unlock()

	e.persistProposal(p)
	return p, nil
}

// withProposer returns voters with proposerID included exactly once.
func withProposer(voters []string, proposerID string) []string {
	for _, v := range voters {
		if v == proposerID {
			return voters
		}
	}
	return append(append([]string{}, voters...), proposerID)
}

// CastVote records an agent's vote. Re-voting overwrites the agent's
// previous vote while the proposal is open; votes after the deadline are
// rejected and never affect the outcome.
func (e *Engine) CastVote(proposalID, agentID, option string, confidence float64) error {
	ps, err := e.state(proposalID)
	if err != nil {
		return err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	p := ps.proposal
	if p.Status != models.ProposalStatusOpen || e.now().After(p.Deadline) {
		return fmt.Errorf("%w: %s", ErrProposalClosed, proposalID)
	}
	if !p.Eligible(agentID) {
		return fmt.Errorf("%w: %s on proposal %s", ErrIneligibleVoter, agentID, proposalID)
	}
	if !p.HasOption(option) {
		return fmt.Errorf("%w: %q on proposal %s", ErrUnknownOption, option, proposalID)
	}

	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	vote := models.Vote{
		ProposalID: proposalID,
		AgentID:    agentID,
		Option:     option,
		Confidence: confidence,
		CastAt:     e.now(),
	}
	ps.votes[agentID] = vote

	e.persistVote(vote)
	return nil
}

// Get returns a copy of the proposal.
func (e *Engine) Get(proposalID string) (models.Proposal, error) {
	ps, err := e.state(proposalID)
	if err != nil {
		return models.Proposal{}, err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return *ps.proposal, nil
}

// Votes returns the current votes on a proposal, ordered by agent ID.
func (e *Engine) Votes(proposalID string) ([]models.Vote, error) {
	ps, err := e.state(proposalID)
	if err != nil {
		return nil, err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()

	votes := make([]models.Vote, 0, len(ps.votes))
	for _, v := range ps.votes {
		votes = append(votes, v)
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i].AgentID < votes[j].AgentID })
	return votes, nil
}

// Resolution is the outcome of a resolved proposal.
type Resolution struct {
	// ProposalID identifies the proposal.
	ProposalID string
	// Status is the terminal status reached.
	Status models.ProposalStatus
	// Decision is the ratified option, when Status is ratified.
	Decision string
	// ObjectiveID is the proposal's objective context.
	ObjectiveID string
}

// Sweep resolves proposals that are due: a proposal whose eligible voters
// have all voted resolves immediately (ratified or rejected); a proposal
// past its deadline resolves to ratified if the threshold is met, expired
// otherwise. Returns the resolutions applied, ordered by proposal ID.
func (e *Engine) Sweep(now time.Time) []Resolution {
	e.mu.RLock()
	ids := make([]string, 0, len(e.proposals))
	for id := range e.proposals {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Strings(ids)

	var resolutions []Resolution
	for _, id := range ids {
		ps, err := e.state(id)
		if err != nil {
			continue
		}

		ps.mu.Lock()
		p := ps.proposal
		if p.Status != models.ProposalStatusOpen {
			ps.mu.Unlock()
			continue
		}

		tally := tallyLocked(p, ps.votes, e.weightOf)
		allVoted := len(ps.votes) == len(p.EligibleVoters)
		pastDeadline := now.After(p.Deadline)

		var status models.ProposalStatus
		switch {
		case tally.Met && (allVoted || pastDeadline):
			status = models.ProposalStatusRatified
		case allVoted:
			status = models.ProposalStatusRejected
		case pastDeadline:
			status = models.ProposalStatusExpired
		default:
			ps.mu.Unlock()
			continue
		}

		e.resolveLocked(ps, status, tally.Leader, now)
		resolutions = append(resolutions, Resolution{
			ProposalID:  p.ID,
			Status:      status,
			Decision:    p.Decision,
			ObjectiveID: p.ObjectiveID,
		})
		ps.mu.Unlock()
	}
	return resolutions
}

// CancelForObjective cancels open proposals bound to the given objective.
// Used when a topology change invalidates in-flight deliberation.
func (e *Engine) CancelForObjective(objectiveID string) []string {
	e.mu.RLock()
	ids := make([]string, 0, len(e.proposals))
	for id := range e.proposals {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Strings(ids)

	var cancelled []string
	for _, id := range ids {
		ps, err := e.state(id)
		if err != nil {
			continue
		}
		ps.mu.Lock()
		if ps.proposal.Status == models.ProposalStatusOpen && ps.proposal.ObjectiveID == objectiveID {
			e.resolveLocked(ps, models.ProposalStatusCancelled, "", e.now())
			cancelled = append(cancelled, id)
		}
		ps.mu.Unlock()
	}
	return cancelled
}

// resolveLocked finalizes a proposal. Caller holds ps.mu.
func (e *Engine) resolveLocked(ps *proposalState, status models.ProposalStatus, decision string, now time.Time) {
	p := ps.proposal
	p.Status = status
	if status == models.ProposalStatusRatified {
		p.Decision = decision
	}
	resolved := now
	p.ResolvedAt = &resolved

	e.logf("[consensus] proposal %s (%s) resolved: %s", p.ID, p.Topic, status)
	e.persistProposal(p)
}

func (e *Engine) state(proposalID string) (*proposalState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ps, ok := e.proposals[proposalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProposal, proposalID)
	}
	return ps, nil
}

func (e *Engine) persistProposal(p *models.Proposal) {
	if e.store == nil {
		return
	}
	ns := memory.NamespaceConsensus + "/" + p.ID
	if _, err := e.store.PutJSON(ns, "proposal", p, "consensus"); err != nil {
		e.logf("[consensus] persist proposal %s: %v", p.ID, err)
	}
}

func (e *Engine) persistVote(v models.Vote) {
	if e.store == nil {
		return
	}
	ns := memory.NamespaceConsensus + "/" + v.ProposalID
	if _, err := e.store.PutJSON(ns, "vote/"+v.AgentID, v, v.AgentID); err != nil {
		e.logf("[consensus] persist vote by %s on %s: %v", v.AgentID, v.ProposalID, err)
	}
}
