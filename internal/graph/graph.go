// Package graph provides the task dependency DAG used for scheduling.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hivemind-dev/hivemind/pkg/models"
)

// ErrInvalidGraph indicates a cyclic or malformed task decomposition.
// Submission of such a graph is rejected outright and never partially applied.
var ErrInvalidGraph = errors.New("invalid task graph")

// DependencyGraph represents a directed acyclic graph of task dependencies.
// Tasks are nodes, and edges represent "blocked by" relationships.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on (is blocked by).
	edges map[string][]string
	// completed tracks which tasks have been marked complete.
	completed map[string]bool
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:     make(map[string]*models.Task),
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
	}
}

// Build constructs the dependency graph from a slice of tasks.
// Returns ErrInvalidGraph if a cycle is detected or a dependency references
// an unknown task. On error the graph is left unchanged.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	nodes := make(map[string]*models.Task, len(tasks))
	edges := make(map[string][]string, len(tasks))

	for _, task := range tasks {
		if _, dup := nodes[task.ID]; dup {
			return fmt.Errorf("%w: duplicate task id %s", ErrInvalidGraph, task.ID)
		}
		nodes[task.ID] = task
		edges[task.ID] = nil
	}

	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := nodes[depID]; !exists {
				return fmt.Errorf("%w: task %s depends on unknown task %s", ErrInvalidGraph, task.ID, depID)
			}
			edges[task.ID] = append(edges[task.ID], depID)
		}
	}

	if hasCycle(nodes, edges) {
		return fmt.Errorf("%w: circular dependency detected", ErrInvalidGraph)
	}

	// Commit only once validation passed.
	for id, task := range nodes {
		g.nodes[id] = task
		g.edges[id] = edges[id]
	}
	return nil
}

// hasCycle detects back edges with depth-first search coloring.
// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
func hasCycle(nodes map[string]*models.Task, edges map[string][]string) bool {
	colors := make(map[string]int, len(nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range edges[id] {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for id := range nodes {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// Ready returns task IDs whose dependencies are all completed, in sorted
// order so scheduling is deterministic. Tasks in a terminal state and tasks
// already marked complete are excluded.
func (g *DependencyGraph) Ready() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for id, task := range g.nodes {
		if g.completed[id] || task.Status.Terminal() {
			continue
		}

		satisfied := true
		for _, depID := range g.edges[id] {
			if !g.completed[depID] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}

	sort.Strings(ready)
	return ready
}

// MarkComplete marks a task as completed, unblocking its dependents.
func (g *DependencyGraph) MarkComplete(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[taskID] = true
}

// Unmark clears the completed flag for a task, used when a completed
// snapshot is rolled back during recovery.
func (g *DependencyGraph) Unmark(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.completed, taskID)
}

// Task returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) Task(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the IDs of tasks the given task depends on.
func (g *DependencyGraph) Dependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[taskID]
}

// Dependents returns the IDs of tasks that depend on the given task.
func (g *DependencyGraph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

// TopologicalSort returns task IDs in an order where all dependencies come
// before the tasks that depend on them. Used to compute decomposition depth.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if hasCycle(g.nodes, g.edges) {
		return nil, fmt.Errorf("%w: circular dependency detected", ErrInvalidGraph)
	}

	visited := make(map[string]bool, len(g.nodes))
	var result []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.edges[id] {
			visit(depID)
		}
		result = append(result, id)
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		visit(id)
	}

	return result, nil
}

// Depth returns the length of the longest dependency chain in the graph.
// A graph of independent tasks has depth 1; an empty graph has depth 0.
func (g *DependencyGraph) Depth() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	depths := make(map[string]int, len(g.nodes))

	var depthOf func(id string) int
	depthOf = func(id string) int {
		if d, ok := depths[id]; ok {
			return d
		}
		max := 0
		for _, depID := range g.edges[id] {
			if d := depthOf(depID); d > max {
				max = d
			}
		}
		depths[id] = max + 1
		return max + 1
	}

	max := 0
	for id := range g.nodes {
		if d := depthOf(id); d > max {
			max = d
		}
	}
	return max
}
