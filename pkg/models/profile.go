package models

// TypeProfile describes the scoring behavior of an agent type.
// Agent-type behavior is data, not a class hierarchy: adding a new type
// means adding a profile entry, not new code.
type TypeProfile struct {
	// Keywords are matched against task descriptions for affinity scoring.
	Keywords []string
	// Weight is the per-type multiplier applied to assignment scores and
	// to weighted consensus tallies. Static, hand-tuned configuration.
	Weight float64
}

// DefaultProfiles is the authoritative profile table for the built-in agent
// types. Optimizer, architect and researcher are weighted above coder and
// documenter, reflecting task-criticality heuristics.
var DefaultProfiles = map[AgentType]TypeProfile{
	AgentTypeResearcher: {
		Keywords: []string{"research", "investigate", "gather", "explore", "survey", "analyze", "study"},
		Weight:   1.2,
	},
	AgentTypeCoder: {
		Keywords: []string{"implement", "code", "build", "develop", "write", "fix", "feature"},
		Weight:   1.0,
	},
	AgentTypeArchitect: {
		Keywords: []string{"design", "architect", "structure", "plan", "schema", "interface", "model"},
		Weight:   1.3,
	},
	AgentTypeOptimizer: {
		Keywords: []string{"optimize", "performance", "profile", "tune", "benchmark", "speed", "memory"},
		Weight:   1.4,
	},
	AgentTypeTester: {
		Keywords: []string{"test", "verify", "validate", "coverage", "regression", "assert"},
		Weight:   1.1,
	},
	AgentTypeReviewer: {
		Keywords: []string{"review", "audit", "inspect", "critique", "approve", "quality"},
		Weight:   1.15,
	},
	AgentTypeDocumenter: {
		Keywords: []string{"document", "docs", "readme", "describe", "explain", "guide"},
		Weight:   0.9,
	},
	AgentTypeCoordinator: {
		Keywords: []string{"coordinate", "organize", "delegate", "schedule", "manage"},
		Weight:   1.05,
	},
}

// ProfileFor returns the profile for the given type. Unknown types get a
// neutral profile so the enumeration stays open.
func ProfileFor(t AgentType) TypeProfile {
	if p, ok := DefaultProfiles[t]; ok {
		return p
	}
	return TypeProfile{Weight: 1.0}
}
