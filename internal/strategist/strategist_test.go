package strategist

import (
	"testing"

	"github.com/hivemind-dev/hivemind/internal/topology"
	"github.com/hivemind-dev/hivemind/pkg/models"
)

func TestEstimateComplexity(t *testing.T) {
	tests := []struct {
		name      string
		taskCount int
		depth     int
		want      Complexity
	}{
		{"tiny", 2, 2, ComplexityLow},
		{"medium", 5, 3, ComplexityMedium},
		{"boundary medium", 10, 4, ComplexityMedium},
		{"many tasks", 11, 2, ComplexityHigh},
		{"deep chain", 4, 6, ComplexityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateComplexity(tt.taskCount, tt.depth); got != tt.want {
				t.Errorf("EstimateComplexity(%d, %d) = %s, want %s", tt.taskCount, tt.depth, got, tt.want)
			}
		})
	}
}

func TestSelectStrategyDecisionTable(t *testing.T) {
	s := New()

	tests := []struct {
		name string
		est  Estimate
		want Decision
	}{
		{
			"consensus required wins over everything",
			Estimate{TaskCount: 12, ConsensusRequired: true, Priority: models.PriorityCritical, PreferredTopology: topology.Hierarchical},
			Decision{Strategy: StrategyConsensusDriven, Topology: topology.Mesh},
		},
		{
			"high complexity with hierarchical preference cascades",
			Estimate{TaskCount: 12, PreferredTopology: topology.Hierarchical},
			Decision{Strategy: StrategyCascade, Topology: topology.Hierarchical},
		},
		{
			"critical priority fast-tracks",
			Estimate{TaskCount: 4, Priority: models.PriorityCritical, PreferredTopology: topology.Ring},
			Decision{Strategy: StrategyFastTrack, Topology: topology.Ring},
		},
		{
			"default is adaptive on mesh",
			Estimate{TaskCount: 4},
			Decision{Strategy: StrategyAdaptive, Topology: topology.Mesh},
		},
		{
			"default keeps preferred topology",
			Estimate{TaskCount: 4, PreferredTopology: topology.Star},
			Decision{Strategy: StrategyAdaptive, Topology: topology.Star},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.SelectStrategy(tt.est); got != tt.want {
				t.Errorf("SelectStrategy() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestScoreFavorsMatchingType(t *testing.T) {
	s := New()

	task := &models.Task{
		Type:        "test",
		Description: "verify and validate the parser with regression coverage",
	}

	tester := &models.Agent{ID: "t", Type: models.AgentTypeTester}
	documenter := &models.Agent{ID: "d", Type: models.AgentTypeDocumenter}

	if s.Score(tester, task) <= s.Score(documenter, task) {
		t.Error("expected the tester to outscore the documenter on a test task")
	}
}

func TestScoreRewardsTrackRecord(t *testing.T) {
	s := New()

	task := &models.Task{Type: "implement", Description: "implement the feature"}

	veteran := &models.Agent{
		ID: "v", Type: models.AgentTypeCoder,
		Performance: models.PerformanceRecord{Completed: 20},
	}
	rookie := &models.Agent{
		ID: "r", Type: models.AgentTypeCoder,
		Performance: models.PerformanceRecord{Completed: 0, Failed: 3},
	}

	if s.Score(veteran, task) <= s.Score(rookie, task) {
		t.Error("expected the veteran to outscore the failing rookie")
	}
}

func TestScoreDeterministic(t *testing.T) {
	s := New()

	task := &models.Task{Type: "optimize", Description: "optimize query performance"}
	agent := &models.Agent{
		ID: "a", Type: models.AgentTypeOptimizer,
		Performance: models.PerformanceRecord{Completed: 5, Failed: 1},
	}

	first := s.Score(agent, task)
	for i := 0; i < 10; i++ {
		if got := s.Score(agent, task); got != first {
			t.Fatalf("score changed between calls: %v then %v", first, got)
		}
	}
}

func TestScoreUnknownTypeUsesNeutralProfile(t *testing.T) {
	s := New()

	task := &models.Task{Type: "anything", Description: "do a thing"}
	agent := &models.Agent{ID: "x", Type: models.AgentType("alchemist")}

	// No keywords, no history: 1.5*0.5 ratio is the whole score.
	if got := s.Score(agent, task); got != 0.75 {
		t.Errorf("expected 0.75 for unknown type with no history, got %v", got)
	}
}

func TestTypeWeightMatchesProfiles(t *testing.T) {
	s := New()
	if s.TypeWeight(models.AgentTypeOptimizer) != 1.4 {
		t.Errorf("unexpected optimizer weight %v", s.TypeWeight(models.AgentTypeOptimizer))
	}
	if s.TypeWeight(models.AgentType("unknown")) != 1.0 {
		t.Errorf("unknown type should weigh 1.0")
	}
}
