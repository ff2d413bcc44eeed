package consensus

import (
	"errors"
	"testing"
	"time"

	"github.com/hivemind-dev/hivemind/pkg/models"
)

var farFuture = time.Now().Add(24 * time.Hour)

func testEngine(opts ...Option) *Engine {
	return NewEngine(opts...)
}

func voters(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	return ids
}

func TestCreateProposalRequiresOptions(t *testing.T) {
	e := testEngine()

	if _, err := e.CreateProposal("t", []string{"only"}, models.StrategySimpleMajority, farFuture, "p", "", voters(3)); err == nil {
		t.Fatal("expected error for single-option proposal")
	}
	if _, err := e.CreateProposal("t", []string{"a", "b"}, models.ConsensusStrategy("plurality"), farFuture, "p", "", voters(3)); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestProposerIsEligible(t *testing.T) {
	e := testEngine()

	p, err := e.CreateProposal("t", []string{"a", "b"}, models.StrategySimpleMajority, farFuture, "proposer", "", []string{"v1"})
	if err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}
	if !p.Eligible("proposer") {
		t.Error("proposer should be an eligible voter")
	}
	if !p.Eligible("v1") {
		t.Error("explicit voter should be eligible")
	}
}

func TestCastVoteEligibility(t *testing.T) {
	e := testEngine()

	p, err := e.CreateProposal("t", []string{"a", "b"}, models.StrategySimpleMajority, farFuture, "p", "", voters(3))
	if err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}

	if err := e.CastVote(p.ID, "outsider", "a", 1.0); !errors.Is(err, ErrIneligibleVoter) {
		t.Errorf("expected ErrIneligibleVoter, got %v", err)
	}
	if err := e.CastVote(p.ID, "a", "c", 1.0); !errors.Is(err, ErrUnknownOption) {
		t.Errorf("expected ErrUnknownOption, got %v", err)
	}
	if err := e.CastVote(p.ID, "a", "a", 1.0); err != nil {
		t.Errorf("eligible vote failed: %v", err)
	}
	if err := e.CastVote("ghost", "a", "a", 1.0); !errors.Is(err, ErrUnknownProposal) {
		t.Errorf("expected ErrUnknownProposal, got %v", err)
	}
}

func TestRevoteOverwrites(t *testing.T) {
	e := testEngine()

	p, _ := e.CreateProposal("t", []string{"a", "b"}, models.StrategySimpleMajority, farFuture, "p", "", voters(2))

	if err := e.CastVote(p.ID, "a", "a", 1.0); err != nil {
		t.Fatalf("first vote failed: %v", err)
	}
	if err := e.CastVote(p.ID, "a", "b", 0.5); err != nil {
		t.Fatalf("re-vote failed: %v", err)
	}

	votes, err := e.Votes(p.ID)
	if err != nil {
		t.Fatalf("Votes failed: %v", err)
	}
	var found bool
	for _, v := range votes {
		if v.AgentID == "a" {
			found = true
			if v.Option != "b" || v.Confidence != 0.5 {
				t.Errorf("expected re-vote to overwrite, got %+v", v)
			}
		}
	}
	if !found {
		t.Error("expected a vote from agent a")
	}
}

func TestVoteAfterDeadlineRejected(t *testing.T) {
	now := time.Now()
	clock := now
	e := testEngine(WithClock(func() time.Time { return clock }))

	p, _ := e.CreateProposal("t", []string{"a", "b"}, models.StrategySimpleMajority, now.Add(time.Minute), "p", "", voters(3))

	clock = now.Add(2 * time.Minute)
	if err := e.CastVote(p.ID, "a", "a", 1.0); !errors.Is(err, ErrProposalClosed) {
		t.Fatalf("expected ErrProposalClosed after deadline, got %v", err)
	}
}

func TestSimpleMajorityRatifiesLeader(t *testing.T) {
	e := testEngine()

	// Votes A:3, B:2 at weight 1.0 each: 3/5 > 0.5, so A ratifies.
	p, _ := e.CreateProposal("t", []string{"A", "B"}, models.StrategySimpleMajority, farFuture, "p", "", voters(5))
	for _, agent := range []string{"a", "b", "c"} {
		if err := e.CastVote(p.ID, agent, "A", 1.0); err != nil {
			t.Fatalf("vote failed: %v", err)
		}
	}
	for _, agent := range []string{"d", "e"} {
		if err := e.CastVote(p.ID, agent, "B", 1.0); err != nil {
			t.Fatalf("vote failed: %v", err)
		}
	}

	// The proposer has not voted, so resolution comes from the deadline.
	resolutions := e.Sweep(farFuture.Add(time.Second))
	if len(resolutions) != 1 {
		t.Fatalf("expected 1 resolution, got %d", len(resolutions))
	}
	if resolutions[0].Status != models.ProposalStatusRatified {
		t.Errorf("expected ratified, got %s", resolutions[0].Status)
	}
	if resolutions[0].Decision != "A" {
		t.Errorf("expected decision A, got %s", resolutions[0].Decision)
	}
}

func TestUnanimousRejectsSplitVote(t *testing.T) {
	e := testEngine()

	p, _ := e.CreateProposal("t", []string{"A", "B"}, models.StrategyUnanimous, farFuture, "a", "", voters(5))
	for _, agent := range []string{"a", "b", "c"} {
		e.CastVote(p.ID, agent, "A", 1.0)
	}
	for _, agent := range []string{"d", "e"} {
		e.CastVote(p.ID, agent, "B", 1.0)
	}

	// All five eligible voters have voted; resolution is immediate.
	resolutions := e.Sweep(time.Now())
	if len(resolutions) != 1 {
		t.Fatalf("expected 1 resolution, got %d", len(resolutions))
	}
	if resolutions[0].Status != models.ProposalStatusRejected {
		t.Errorf("expected rejected for split unanimous vote, got %s", resolutions[0].Status)
	}
}

func TestUnanimousRatifiesFullAgreement(t *testing.T) {
	e := testEngine()

	p, _ := e.CreateProposal("t", []string{"A", "B"}, models.StrategyUnanimous, farFuture, "a", "", voters(3))
	for _, agent := range []string{"a", "b", "c"} {
		e.CastVote(p.ID, agent, "A", 0.8)
	}

	resolutions := e.Sweep(time.Now())
	if len(resolutions) != 1 || resolutions[0].Status != models.ProposalStatusRatified {
		t.Fatalf("expected unanimous ratification, got %+v", resolutions)
	}
}

func TestExpiredProposalNeverRatifies(t *testing.T) {
	now := time.Now()
	e := testEngine(WithClock(func() time.Time { return now }))

	// Deadline already passed at creation, no votes cast.
	p, err := e.CreateProposal("t", []string{"A", "B"}, models.StrategySimpleMajority, now.Add(-time.Second), "p", "", voters(3))
	if err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}

	resolutions := e.Sweep(now)
	if len(resolutions) != 1 {
		t.Fatalf("expected 1 resolution, got %d", len(resolutions))
	}
	if resolutions[0].Status != models.ProposalStatusExpired {
		t.Errorf("expected expired, got %s", resolutions[0].Status)
	}

	got, _ := e.Get(p.ID)
	if got.Decision != "" {
		t.Errorf("expired proposal must not carry a decision, got %q", got.Decision)
	}
}

func TestWeightedStrategyCountsPossibleWeight(t *testing.T) {
	weights := map[string]float64{"a": 1.4, "b": 1.0, "c": 1.0}
	e := testEngine(WithWeightFunc(func(id string) float64 {
		if w, ok := weights[id]; ok {
			return w
		}
		return 1.0
	}))

	// Possible weight = 3.4. Threshold = 2/3 * 3.4 ≈ 2.267.
	p, _ := e.CreateProposal("t", []string{"A", "B"}, models.StrategyWeighted, farFuture, "a", "", []string{"b", "c"})

	// Only a votes (weight 1.4): below threshold even though it is 100%
	// of cast weight. Undervoting must not ratify.
	e.CastVote(p.ID, "a", "A", 1.0)
	tally, err := e.TallyProposal(p.ID)
	if err != nil {
		t.Fatalf("TallyProposal failed: %v", err)
	}
	if tally.Met {
		t.Error("single vote should not meet the weighted threshold")
	}

	// b joins at full confidence: 2.4 > 2.267.
	e.CastVote(p.ID, "b", "A", 1.0)
	tally, _ = e.TallyProposal(p.ID)
	if !tally.Met {
		t.Errorf("expected threshold met with 2.4/3.4, got %+v", tally)
	}
}

func TestSupersededProposal(t *testing.T) {
	e := testEngine()

	first, err := e.CreateProposal("first", []string{"A", "B"}, models.StrategySimpleMajority, farFuture, "p", "obj-1", voters(3))
	if err != nil {
		t.Fatalf("first CreateProposal failed: %v", err)
	}

	_, err = e.CreateProposal("second", []string{"A", "B"}, models.StrategySimpleMajority, farFuture, "p", "obj-1", voters(3))
	if !errors.Is(err, ErrSupersededProposal) {
		t.Fatalf("expected ErrSupersededProposal, got %v", err)
	}

	// A proposal on a different objective is not in conflict.
	if _, err := e.CreateProposal("other", []string{"A", "B"}, models.StrategySimpleMajority, farFuture, "p", "obj-2", voters(3)); err != nil {
		t.Fatalf("unrelated proposal failed: %v", err)
	}

	// Once the first resolves, the objective is free again.
	e.CancelForObjective("obj-1")
	got, _ := e.Get(first.ID)
	if got.Status != models.ProposalStatusCancelled {
		t.Fatalf("expected first proposal cancelled, got %s", got.Status)
	}
	if _, err := e.CreateProposal("third", []string{"A", "B"}, models.StrategySimpleMajority, farFuture, "p", "obj-1", voters(3)); err != nil {
		t.Fatalf("proposal after resolution failed: %v", err)
	}
}

func TestCancelForObjective(t *testing.T) {
	e := testEngine()

	p, _ := e.CreateProposal("t", []string{"A", "B"}, models.StrategySimpleMajority, farFuture, "p", "obj-9", voters(3))

	cancelled := e.CancelForObjective("obj-9")
	if len(cancelled) != 1 || cancelled[0] != p.ID {
		t.Fatalf("expected [%s] cancelled, got %v", p.ID, cancelled)
	}

	if err := e.CastVote(p.ID, "a", "A", 1.0); !errors.Is(err, ErrProposalClosed) {
		t.Errorf("expected ErrProposalClosed after cancellation, got %v", err)
	}
}

func TestSupermajorityThreshold(t *testing.T) {
	e := testEngine()

	p, _ := e.CreateProposal("t", []string{"A", "B"}, models.StrategySupermajority, farFuture, "a", "", voters(3))
	e.CastVote(p.ID, "a", "A", 1.0)
	e.CastVote(p.ID, "b", "A", 1.0)
	e.CastVote(p.ID, "c", "B", 1.0)

	// 2/3 of cast weight exactly meets the supermajority bar.
	resolutions := e.Sweep(time.Now())
	if len(resolutions) != 1 || resolutions[0].Status != models.ProposalStatusRatified {
		t.Fatalf("expected supermajority ratification at exactly 2/3, got %+v", resolutions)
	}
}

func TestTallyDeterministicTieBreak(t *testing.T) {
	e := testEngine()

	p, _ := e.CreateProposal("t", []string{"B", "A"}, models.StrategySimpleMajority, farFuture, "a", "", voters(2))
	e.CastVote(p.ID, "a", "A", 1.0)
	e.CastVote(p.ID, "b", "B", 1.0)

	tally, err := e.TallyProposal(p.ID)
	if err != nil {
		t.Fatalf("TallyProposal failed: %v", err)
	}
	if tally.Leader != "A" {
		t.Errorf("tie must break to the lexically smaller option, got %s", tally.Leader)
	}
	if tally.Met {
		t.Error("a 50/50 split must not meet simple majority")
	}
}
