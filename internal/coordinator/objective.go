package coordinator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hivemind-dev/hivemind/internal/graph"
	"github.com/hivemind-dev/hivemind/internal/strategist"
	"github.com/hivemind-dev/hivemind/internal/topology"
	"github.com/hivemind-dev/hivemind/pkg/models"
)

// TaskSpec describes one task of an explicit decomposition.
type TaskSpec struct {
	// ID is the caller-chosen task ID, unique within the objective.
	ID string
	// Type is the free-form task category matched against agent keywords.
	Type string
	// Description provides detail for affinity scoring and executors.
	Description string
	// Priority orders assignment when agents are scarce.
	Priority models.TaskPriority
	// DependsOn lists sibling task IDs that must complete first.
	DependsOn []string
	// Deadline cancels the task if it has not completed by this time.
	Deadline *time.Time
}

// ObjectiveSpec describes an objective to submit.
type ObjectiveSpec struct {
	// Description is the goal statement.
	Description string
	// Decompose selects a decomposition template (development or research).
	// Empty infers one from the description.
	Decompose string
	// Priority applies to every generated task.
	Priority models.TaskPriority
	// ConsensusRequired routes the objective through consensus-driven
	// coordination.
	ConsensusRequired bool
	// PreferredTopology is the caller's topology preference, if any.
	PreferredTopology topology.Kind
	// Tasks is an explicit decomposition. When set, Decompose is ignored.
	Tasks []TaskSpec
	// Deadline applies to every generated task that has none of its own.
	Deadline *time.Time
}

// SubmitObjective decomposes an objective into a task graph, picks a
// coordination strategy, and queues the tasks for scheduling. A rejected
// decomposition (cycle, unknown or duplicate dependency) leaves no trace.
func (c *Coordinator) SubmitObjective(spec ObjectiveSpec) (models.Objective, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.TrimSpace(spec.Description) == "" {
		return models.Objective{}, fmt.Errorf("objective description must not be empty")
	}

	now := c.now()
	objectiveID := uuid.New().String()[:8]

	tasks, err := c.decompose(objectiveID, spec, now)
	if err != nil {
		return models.Objective{}, err
	}

	g := graph.New()
	if err := g.Build(tasks); err != nil {
		return models.Objective{}, fmt.Errorf("decomposing objective: %w", err)
	}

	est := strategist.Estimate{
		TaskCount:         len(tasks),
		Depth:             g.Depth(),
		ConsensusRequired: spec.ConsensusRequired,
		Priority:          spec.Priority,
		PreferredTopology: spec.PreferredTopology,
	}
	decision := c.strat.SelectStrategy(est)
	topo := c.planTopology(decision.Topology)

	obj := &models.Objective{
		ID:          objectiveID,
		Description: spec.Description,
		Strategy:    decision.Strategy,
		Topology:    string(topo.Kind),
		Status:      models.ObjectiveStatusPlanning,
		CreatedAt:   now,
	}
	for _, task := range tasks {
		obj.TaskIDs = append(obj.TaskIDs, task.ID)
	}

	c.objectives[objectiveID] = obj
	c.graphs[objectiveID] = g
	c.topologies[objectiveID] = topo
	c.index.setTopology(objectiveID, topo)
	for _, task := range tasks {
		c.tasks[task.ID] = task
		c.persistTask(task)
	}
	c.persistObjective(obj)
	c.persistTopology(objectiveID, topo)
	c.persistObjectiveIndex()

	c.logger.Log("[coordinator] objective %s submitted: %d tasks, strategy=%s topology=%s",
		objectiveID, len(tasks), decision.Strategy, topo.Kind)
	c.emitter.emit(Event{
		Type:        EventObjectiveSubmitted,
		ObjectiveID: objectiveID,
		Message:     fmt.Sprintf("%d tasks, %s strategy", len(tasks), decision.Strategy),
		Timestamp:   now,
	})
	c.nudge()

	return *obj, nil
}

// planTopology materializes the strategist's topology choice over the
// current agent pool, deriving the relation graph in agent-ID order. A kind
// that cannot form a valid graph over the pool falls back to mesh. Caller
// holds mu.
func (c *Coordinator) planTopology(kind topology.Kind) topology.Topology {
	ids := make([]string, 0, len(c.agents))
	for id := range c.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	topo := topology.Topology{Kind: kind, Relations: topology.DefaultRelations(kind, ids)}
	if err := topo.Validate(ids); err != nil {
		c.logger.Log("[coordinator] %s topology not viable over %d agents, using mesh: %v", kind, len(ids), err)
		return topology.New()
	}
	return topo
}

// decompose turns an objective spec into concrete tasks. Explicit task
// specs win; otherwise a phase template is applied. Caller holds mu.
func (c *Coordinator) decompose(objectiveID string, spec ObjectiveSpec, now time.Time) ([]*models.Task, error) {
	if len(spec.Tasks) > 0 {
		return c.explicitTasks(objectiveID, spec, now)
	}

	template := spec.Decompose
	if template == "" {
		template = inferTemplate(spec.Description)
	}

	var phases []TaskSpec
	switch template {
	case strategist.DecomposeDevelopment:
		phases = []TaskSpec{
			{ID: "plan", Type: "design", Description: "Plan and design: " + spec.Description},
			{ID: "implement", Type: "implement", Description: "Implement: " + spec.Description, DependsOn: []string{"plan"}},
			{ID: "test", Type: "test", Description: "Test and verify: " + spec.Description, DependsOn: []string{"implement"}},
			{ID: "document", Type: "document", Description: "Document: " + spec.Description, DependsOn: []string{"test"}},
		}
	case strategist.DecomposeResearch:
		phases = []TaskSpec{
			{ID: "gather", Type: "research", Description: "Gather sources: " + spec.Description},
			{ID: "analyze", Type: "analyze", Description: "Analyze findings: " + spec.Description, DependsOn: []string{"gather"}},
			{ID: "synthesize", Type: "document", Description: "Synthesize report: " + spec.Description, DependsOn: []string{"analyze"}},
		}
	default:
		return nil, fmt.Errorf("unknown decomposition template %q", template)
	}

	expanded := spec
	expanded.Tasks = phases
	return c.explicitTasks(objectiveID, expanded, now)
}

// explicitTasks materializes TaskSpecs into models.Tasks with
// objective-scoped IDs.
func (c *Coordinator) explicitTasks(objectiveID string, spec ObjectiveSpec, now time.Time) ([]*models.Task, error) {
	tasks := make([]*models.Task, 0, len(spec.Tasks))
	for i, ts := range spec.Tasks {
		localID := ts.ID
		if localID == "" {
			localID = fmt.Sprintf("t%d", i+1)
		}
		deadline := ts.Deadline
		if deadline == nil {
			deadline = spec.Deadline
		}

		deps := make([]string, 0, len(ts.DependsOn))
		for _, dep := range ts.DependsOn {
			deps = append(deps, objectiveID+"-"+dep)
		}

		task := &models.Task{
			ID:          objectiveID + "-" + localID,
			ObjectiveID: objectiveID,
			Type:        ts.Type,
			Description: ts.Description,
			Priority:    maxPriority(ts.Priority, spec.Priority),
			Status:      models.TaskStatusPending,
			DependsOn:   deps,
			Deadline:    deadline,
			CreatedAt:   now,
		}
		if task.Type == "" {
			task.Type = "implement"
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// inferTemplate picks a decomposition template from the description.
func inferTemplate(description string) string {
	lower := strings.ToLower(description)
	for _, kw := range []string{"research", "investigate", "survey", "study", "explore"} {
		if strings.Contains(lower, kw) {
			return strategist.DecomposeResearch
		}
	}
	return strategist.DecomposeDevelopment
}

func maxPriority(a, b models.TaskPriority) models.TaskPriority {
	if a > b {
		return a
	}
	return b
}
