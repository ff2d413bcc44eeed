package consensus

import (
	"sort"

	"github.com/hivemind-dev/hivemind/pkg/models"
)

// supermajorityFraction is the threshold shared by the supermajority and
// weighted strategies.
const supermajorityFraction = 2.0 / 3.0

// Tally is the weighted score breakdown for a proposal.
type Tally struct {
	// Scores maps each option to its summed weighted votes.
	Scores map[string]float64
	// Leader is the option with the highest score. Ties break by option
	// name so tallies are deterministic.
	Leader string
	// LeaderScore is the leader's summed weight.
	LeaderScore float64
	// CastWeight is the total weight of all cast votes.
	CastWeight float64
	// PossibleWeight is the total weight if every eligible voter voted
	// with full confidence. Only the weighted strategy uses it.
	PossibleWeight float64
	// Met is true if the leader satisfies the strategy threshold.
	Met bool
}

// TallyProposal computes the current tally for a proposal.
func (e *Engine) TallyProposal(proposalID string) (Tally, error) {
	ps, err := e.state(proposalID)
	if err != nil {
		return Tally{}, err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return tallyLocked(ps.proposal, ps.votes, e.weightOf), nil
}

// tallyLocked scores the votes under the proposal's strategy.
// Caller holds the proposal's mutex.
func tallyLocked(p *models.Proposal, votes map[string]models.Vote, weightOf func(string) float64) Tally {
	t := Tally{Scores: make(map[string]float64, len(p.Options))}
	for _, opt := range p.Options {
		t.Scores[opt] = 0
	}

	weighted := p.Strategy == models.StrategyWeighted

	for _, v := range votes {
		w := v.Confidence
		if weighted {
			w *= weightOf(v.AgentID)
		}
		t.Scores[v.Option] += w
		t.CastWeight += w
	}

	if weighted {
		for _, voter := range p.EligibleVoters {
			t.PossibleWeight += weightOf(voter)
		}
	}

	// Deterministic leader: highest score, ties to the lexically smaller
	// option.
	options := append([]string{}, p.Options...)
	sort.Strings(options)
	for _, opt := range options {
		if t.Leader == "" || t.Scores[opt] > t.LeaderScore {
			t.Leader = opt
			t.LeaderScore = t.Scores[opt]
		}
	}

	t.Met = thresholdMet(p, votes, t)
	return t
}

// thresholdMet applies the strategy threshold to a tally.
func thresholdMet(p *models.Proposal, votes map[string]models.Vote, t Tally) bool {
	if t.LeaderScore == 0 {
		return false
	}

	switch p.Strategy {
	case models.StrategySimpleMajority:
		return t.LeaderScore > t.CastWeight/2

	case models.StrategySupermajority:
		return t.LeaderScore >= t.CastWeight*supermajorityFraction

	case models.StrategyUnanimous:
		// Every eligible voter must have voted for the same option.
		if len(votes) != len(p.EligibleVoters) {
			return false
		}
		for _, v := range votes {
			if v.Option != t.Leader {
				return false
			}
		}
		return true

	case models.StrategyWeighted:
		// Measured against possible weight, not cast weight, so
		// undervoting cannot manufacture a majority.
		return t.LeaderScore > t.PossibleWeight*supermajorityFraction

	default:
		return false
	}
}
