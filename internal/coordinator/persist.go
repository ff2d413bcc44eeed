package coordinator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hivemind-dev/hivemind/internal/graph"
	"github.com/hivemind-dev/hivemind/internal/memory"
	"github.com/hivemind-dev/hivemind/internal/topology"
	"github.com/hivemind-dev/hivemind/pkg/models"
)

// writerID identifies the coordinator in vector clocks on shared memory.
const writerID = "coordinator"

const (
	agentNamespace  = memory.NamespaceCoordination + "/agents"
	objectivesIndex = "objectives"
)

func objectiveNamespace(objectiveID string) string {
	return memory.NamespaceCoordination + "/" + objectiveID
}

// persistTask snapshots a task to shared memory. Persistence failures are
// logged, not fatal: scheduling state is authoritative in memory and the
// snapshot is for recovery and observers. Caller holds mu.
func (c *Coordinator) persistTask(task *models.Task) {
	if _, err := c.store.PutJSON(objectiveNamespace(task.ObjectiveID), "task/"+task.ID, task, writerID); err != nil {
		c.logger.Log("[persist] task %s: %v", task.ID, err)
	}
}

// persistAgent snapshots an agent to shared memory. Caller holds mu.
func (c *Coordinator) persistAgent(agent *models.Agent) {
	if _, err := c.store.PutJSON(agentNamespace, "agent/"+agent.ID, agent, writerID); err != nil {
		c.logger.Log("[persist] agent %s: %v", agent.ID, err)
	}
}

// persistObjective snapshots an objective to shared memory. Caller holds mu.
func (c *Coordinator) persistObjective(obj *models.Objective) {
	if _, err := c.store.PutJSON(objectiveNamespace(obj.ID), "objective", obj, writerID); err != nil {
		c.logger.Log("[persist] objective %s: %v", obj.ID, err)
	}
}

// persistTopology snapshots an objective's communication topology, relation
// graph included, so recovery restores the same gating. Caller holds mu.
func (c *Coordinator) persistTopology(objectiveID string, t topology.Topology) {
	if _, err := c.store.PutJSON(objectiveNamespace(objectiveID), "topology", t, writerID); err != nil {
		c.logger.Log("[persist] topology for objective %s: %v", objectiveID, err)
	}
}

// persistObjectiveIndex records the set of known objective IDs so recovery
// can enumerate their namespaces. Caller holds mu.
func (c *Coordinator) persistObjectiveIndex() {
	ids := make([]string, 0, len(c.objectives))
	for id := range c.objectives {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if _, err := c.store.PutJSON(memory.NamespaceCoordination, objectivesIndex, ids, writerID); err != nil {
		c.logger.Log("[persist] objective index: %v", err)
	}
}

// Recover rebuilds coordinator state from the durable store after a
// restart. Tasks that were assigned or running when the process died go
// back to ready with their retry counts intact; agents come back offline
// and rejoin the pool on their next heartbeat.
func (c *Coordinator) Recover() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Load(); err != nil {
		return fmt.Errorf("loading durable state: %w", err)
	}

	var ids []string
	if err := c.store.GetJSON(memory.NamespaceCoordination, objectivesIndex, &ids); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("reading objective index: %w", err)
	}

	for _, objectiveID := range ids {
		if err := c.recoverObjective(objectiveID); err != nil {
			c.logger.Log("[recover] objective %s: %v", objectiveID, err)
		}
	}
	c.recoverAgents()

	c.logger.Log("[recover] restored %d objectives, %d tasks, %d agents",
		len(c.objectives), len(c.tasks), len(c.agents))
	c.nudge()
	return nil
}

// recoverObjective restores one objective, its tasks, and its dependency
// graph. Caller holds mu.
func (c *Coordinator) recoverObjective(objectiveID string) error {
	ns := objectiveNamespace(objectiveID)

	var obj models.Objective
	if err := c.store.GetJSON(ns, "objective", &obj); err != nil {
		return fmt.Errorf("reading objective: %w", err)
	}

	var tasks []*models.Task
	for _, entry := range c.store.List(ns) {
		if !strings.HasPrefix(entry.Key, "task/") {
			continue
		}
		var task models.Task
		if err := c.store.GetJSON(ns, entry.Key, &task); err != nil {
			c.logger.Log("[recover] task %s: %v", entry.Key, err)
			continue
		}
		// In-flight work did not survive the restart.
		if task.Status == models.TaskStatusAssigned || task.Status == models.TaskStatusRunning {
			task.Status = models.TaskStatusReady
			task.AssignedTo = ""
			task.StartedAt = nil
		}
		tasks = append(tasks, &task)
	}

	g := graph.New()
	if err := g.Build(tasks); err != nil {
		return fmt.Errorf("rebuilding graph: %w", err)
	}
	for _, task := range tasks {
		if task.Status == models.TaskStatusCompleted {
			g.MarkComplete(task.ID)
		}
	}

	c.objectives[objectiveID] = &obj
	c.graphs[objectiveID] = g
	for _, task := range tasks {
		c.tasks[task.ID] = task
	}
	var topo topology.Topology
	if err := c.store.GetJSON(ns, "topology", &topo); err == nil && topo.Kind.Valid() {
		c.topologies[objectiveID] = topo
		c.index.setTopology(objectiveID, topo)
	} else if kind := topology.Kind(obj.Topology); kind.Valid() {
		t := topology.Topology{Kind: kind}
		c.topologies[objectiveID] = t
		c.index.setTopology(objectiveID, t)
	}
	return nil
}

// recoverAgents restores agent records as offline. Agents rejoin the pool
// on their next heartbeat. Caller holds mu.
func (c *Coordinator) recoverAgents() {
	for _, entry := range c.store.List(agentNamespace) {
		if !strings.HasPrefix(entry.Key, "agent/") {
			continue
		}
		var agent models.Agent
		if err := c.store.GetJSON(agentNamespace, entry.Key, &agent); err != nil {
			c.logger.Log("[recover] agent %s: %v", entry.Key, err)
			continue
		}
		agent.Status = models.AgentStatusOffline
		agent.CurrentTaskID = ""
		c.agents[agent.ID] = &agent
		c.index.set(agent.ID, agent.Type)
		c.bus.Subscribe(agent.ID)
	}
}
