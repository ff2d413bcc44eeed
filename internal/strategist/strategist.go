// Package strategist owns the coordination heuristics: choosing a strategy
// and topology for an objective, and scoring agents against tasks. The
// coordinator stays a pure scheduler; the part expected to evolve lives here.
package strategist

import (
	"fmt"
	"strings"

	"github.com/hivemind-dev/hivemind/internal/memory"
	"github.com/hivemind-dev/hivemind/internal/topology"
	"github.com/hivemind-dev/hivemind/pkg/models"
)

// Coordination strategies.
const (
	// StrategyConsensusDriven routes decision points through proposals.
	StrategyConsensusDriven = "consensus-driven"
	// StrategyCascade delegates phases top-down through a hierarchy.
	StrategyCascade = "cascade"
	// StrategyFastTrack bypasses non-essential consensus steps.
	StrategyFastTrack = "fast-track"
	// StrategyAdaptive is the default, balanced strategy.
	StrategyAdaptive = "adaptive"
)

// Decomposition strategies, chosen by hint at submission time.
const (
	// DecomposeDevelopment yields plan, implement, test, document phases.
	DecomposeDevelopment = "development"
	// DecomposeResearch yields gather, analyze, synthesize phases.
	DecomposeResearch = "research"
)

// Complexity is the coarse objective complexity estimate.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// EstimateComplexity buckets an objective by task count and decomposition
// depth: low under 3 tasks, high over 10 tasks or a chain deeper than 5.
func EstimateComplexity(taskCount, depth int) Complexity {
	switch {
	case taskCount > 10 || depth > 5:
		return ComplexityHigh
	case taskCount < 3:
		return ComplexityLow
	default:
		return ComplexityMedium
	}
}

// Estimate summarizes an objective for strategy selection.
type Estimate struct {
	// TaskCount is the number of decomposed tasks.
	TaskCount int
	// Depth is the longest dependency chain.
	Depth int
	// ConsensusRequired marks objectives that need broad deliberation.
	ConsensusRequired bool
	// Priority is the highest task priority in the objective.
	Priority models.TaskPriority
	// PreferredTopology is the caller's topology preference, if any.
	PreferredTopology topology.Kind
}

// Decision is the selected coordination strategy and topology.
type Decision struct {
	// Strategy is the coordination strategy name.
	Strategy string
	// Topology is the communication topology to plan under.
	Topology topology.Kind
}

// Strategist selects strategies and scores agents for tasks.
type Strategist struct {
	profiles map[models.AgentType]models.TypeProfile
	store    *memory.Store
	logf     func(format string, args ...any)
}

// Option configures a Strategist.
type Option func(*Strategist)

// WithProfiles overrides the agent-type profile table.
func WithProfiles(p map[models.AgentType]models.TypeProfile) Option {
	return func(s *Strategist) {
		if p != nil {
			s.profiles = p
		}
	}
}

// WithStore lets the strategist persist and recall historical agent
// performance across restarts.
func WithStore(store *memory.Store) Option {
	return func(s *Strategist) { s.store = store }
}

// WithLogf sets the diagnostic log function.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(s *Strategist) {
		if logf != nil {
			s.logf = logf
		}
	}
}

// New creates a Strategist with the default profile table.
func New(opts ...Option) *Strategist {
	s := &Strategist{
		profiles: models.DefaultProfiles,
		logf:     func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Profile returns the scoring profile for an agent type.
func (s *Strategist) Profile(t models.AgentType) models.TypeProfile {
	if p, ok := s.profiles[t]; ok {
		return p
	}
	return models.TypeProfile{Weight: 1.0}
}

// TypeWeight returns the per-type multiplier, shared with weighted consensus.
func (s *Strategist) TypeWeight(t models.AgentType) float64 {
	return s.Profile(t).Weight
}

// SelectStrategy applies the decision table, in priority order. The final
// rule always matches, so an unmatched estimate is unreachable; if it
// happens anyway the strategist logs a diagnostic and falls back to
// adaptive rather than failing.
func (s *Strategist) SelectStrategy(est Estimate) Decision {
	complexity := EstimateComplexity(est.TaskCount, est.Depth)

	rules := []struct {
		matches func() bool
		decide  func() Decision
	}{
		{
			matches: func() bool { return est.ConsensusRequired },
			decide: func() Decision {
				return Decision{Strategy: StrategyConsensusDriven, Topology: topology.Mesh}
			},
		},
		{
			matches: func() bool {
				return complexity == ComplexityHigh && est.PreferredTopology == topology.Hierarchical
			},
			decide: func() Decision {
				return Decision{Strategy: StrategyCascade, Topology: topology.Hierarchical}
			},
		},
		{
			matches: func() bool { return est.Priority == models.PriorityCritical },
			decide: func() Decision {
				return Decision{Strategy: StrategyFastTrack, Topology: s.preferredOrMesh(est)}
			},
		},
		{
			matches: func() bool { return true },
			decide: func() Decision {
				return Decision{Strategy: StrategyAdaptive, Topology: s.preferredOrMesh(est)}
			},
		},
	}

	for _, rule := range rules {
		if rule.matches() {
			return rule.decide()
		}
	}

	s.logf("[strategist] no strategy rule matched estimate %+v, falling back to adaptive", est)
	return Decision{Strategy: StrategyAdaptive, Topology: topology.Mesh}
}

func (s *Strategist) preferredOrMesh(est Estimate) topology.Kind {
	if est.PreferredTopology.Valid() {
		return est.PreferredTopology
	}
	return topology.Mesh
}

// Score rates an agent's fit for a task:
//
//	(2*keywordOverlap + 1.5*performanceRatio + 1.0*experience) * typeWeight
//
// The function is pure, so assignment stays deterministic given the same
// agent pool and task set.
func (s *Strategist) Score(agent *models.Agent, task *models.Task) float64 {
	profile := s.Profile(agent.Type)

	overlap := keywordOverlap(task, profile.Keywords)
	ratio := agent.Performance.Ratio()
	experience := experienceScore(agent.Performance.Completed)

	return (2*overlap + 1.5*ratio + 1.0*experience) * profile.Weight
}

// keywordOverlap returns the fraction of the profile's keywords found in
// the task's type and description.
func keywordOverlap(task *models.Task, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}

	haystack := strings.ToLower(task.Type + " " + task.Description)
	matched := 0
	for _, kw := range keywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			matched++
		}
	}
	return float64(matched) / float64(len(keywords))
}

// experienceScore saturates at 20 completed tasks.
func experienceScore(completed int) float64 {
	score := float64(completed) / 20
	if score > 1 {
		return 1
	}
	return score
}

// performanceKey is the knowledge-store key for an agent's history.
func performanceKey(agentID string) string {
	return "performance/" + agentID
}

// RecordPerformance persists an agent's performance record so scoring
// survives restarts.
func (s *Strategist) RecordPerformance(agentID string, perf models.PerformanceRecord) {
	if s.store == nil {
		return
	}
	ns := memory.NamespaceKnowledge + "/agents"
	if _, err := s.store.PutJSON(ns, performanceKey(agentID), perf, agentID); err != nil {
		s.logf("[strategist] persist performance for %s: %v", agentID, err)
	}
}

// LoadPerformance recalls a previously persisted performance record.
// Returns a zero record when none exists.
func (s *Strategist) LoadPerformance(agentID string) (models.PerformanceRecord, error) {
	var perf models.PerformanceRecord
	if s.store == nil {
		return perf, nil
	}
	ns := memory.NamespaceKnowledge + "/agents"
	if err := s.store.GetJSON(ns, performanceKey(agentID), &perf); err != nil {
		return models.PerformanceRecord{}, fmt.Errorf("load performance for %s: %w", agentID, err)
	}
	return perf, nil
}
