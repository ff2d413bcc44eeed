package models

import "testing"

func TestProposalStatusTerminal(t *testing.T) {
	if ProposalStatusOpen.Terminal() {
		t.Error("open proposal should not be terminal")
	}

	terminal := []ProposalStatus{
		ProposalStatusRatified, ProposalStatusRejected,
		ProposalStatusExpired, ProposalStatusSuperseded, ProposalStatusCancelled,
	}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %q to be terminal", s)
		}
	}
}

func TestConsensusStrategyValid(t *testing.T) {
	valid := []ConsensusStrategy{
		StrategySimpleMajority, StrategySupermajority, StrategyUnanimous, StrategyWeighted,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if ConsensusStrategy("plurality").Valid() {
		t.Error("expected unknown strategy to be invalid")
	}
}

func TestProposalEligible(t *testing.T) {
	p := &Proposal{EligibleVoters: []string{"agent-1", "agent-2"}}

	if !p.Eligible("agent-1") {
		t.Error("expected agent-1 to be eligible")
	}
	if p.Eligible("agent-3") {
		t.Error("expected agent-3 to be ineligible")
	}
}

func TestProposalHasOption(t *testing.T) {
	p := &Proposal{Options: []string{"approve", "reject"}}

	if !p.HasOption("approve") {
		t.Error("expected approve to be a valid option")
	}
	if p.HasOption("abstain") {
		t.Error("expected abstain to not be a valid option")
	}
}
