// Package topology defines the allowed communication graph among agents.
// The coordinator and the consensus engine consult it before recording any
// message or vote; a violation is an error, never a silent drop.
package topology

import (
	"errors"
	"fmt"
	"sort"
)

// ErrTopologyViolation indicates a message between agents the topology does
// not allow to communicate.
var ErrTopologyViolation = errors.New("topology violation")

// ErrInvalidTopology indicates an internally contradictory topology
// configuration. This is fatal to objective planning.
var ErrInvalidTopology = errors.New("invalid topology configuration")

// Kind names a topology variant.
type Kind string

const (
	// Mesh allows every agent pair to exchange messages directly.
	Mesh Kind = "mesh"
	// Hierarchical restricts messages to parent-child relations.
	Hierarchical Kind = "hierarchical"
	// Ring restricts each agent to messaging its designated successor.
	Ring Kind = "ring"
	// Star routes all messages through one hub agent.
	Star Kind = "star"
)

// Valid returns true if the kind is a known variant.
func (k Kind) Valid() bool {
	switch k {
	case Mesh, Hierarchical, Ring, Star:
		return true
	default:
		return false
	}
}

// RelationGraph records the agent relations fixed at objective-planning time.
// Which fields matter depends on the kind: Parent for hierarchical,
// Successor for ring, Hub for star. Mesh needs no relations.
type RelationGraph struct {
	// Parent maps an agent to its parent in a hierarchical topology.
	Parent map[string]string `yaml:"parent" json:"parent,omitempty"`
	// Successor maps an agent to its ring successor.
	Successor map[string]string `yaml:"successor" json:"successor,omitempty"`
	// Hub is the central agent in a star topology.
	Hub string `yaml:"hub" json:"hub,omitempty"`
}

// Topology couples a kind with its relation graph.
type Topology struct {
	// Kind is the topology variant.
	Kind Kind `yaml:"kind" json:"kind"`
	// Relations holds the agent relations the kind requires.
	Relations RelationGraph `yaml:"relations" json:"relations"`
}

// New returns a mesh topology, the unconstrained default.
func New() Topology {
	return Topology{Kind: Mesh}
}

// DefaultRelations derives a relation graph for the kind over the given
// agent set in ID order: a ring chains the agents and closes the cycle, a
// star takes the first agent as hub, and a hierarchy parents every later
// agent to the first. Mesh needs no relations.
func DefaultRelations(kind Kind, agents []string) RelationGraph {
	ids := append([]string(nil), agents...)
	sort.Strings(ids)

	var rel RelationGraph
	switch kind {
	case Hierarchical:
		if len(ids) > 1 {
			rel.Parent = make(map[string]string, len(ids)-1)
			for _, id := range ids[1:] {
				rel.Parent[id] = ids[0]
			}
		}
	case Ring:
		if len(ids) > 0 {
			rel.Successor = make(map[string]string, len(ids))
			for i, id := range ids {
				rel.Successor[id] = ids[(i+1)%len(ids)]
			}
		}
	case Star:
		if len(ids) > 0 {
			rel.Hub = ids[0]
		}
	}
	return rel
}

// CanCommunicate reports whether sender may message receiver under this
// topology. Self-messages are always refused.
func (t Topology) CanCommunicate(senderID, receiverID string) bool {
	if senderID == receiverID {
		return false
	}

	switch t.Kind {
	case Mesh:
		return true
	case Hierarchical:
		// Messages flow along parent-child edges, in either direction.
		return t.Relations.Parent[receiverID] == senderID ||
			t.Relations.Parent[senderID] == receiverID
	case Ring:
		return t.Relations.Successor[senderID] == receiverID
	case Star:
		return senderID == t.Relations.Hub || receiverID == t.Relations.Hub
	default:
		return false
	}
}

// CheckCommunicate returns ErrTopologyViolation when the pair may not
// communicate. Call sites surface this to the caller instead of dropping
// the message.
func (t Topology) CheckCommunicate(senderID, receiverID string) error {
	if !t.CanCommunicate(senderID, receiverID) {
		return fmt.Errorf("%w: %s may not message %s under %s topology",
			ErrTopologyViolation, senderID, receiverID, t.Kind)
	}
	return nil
}

// Peers returns the agents the given agent may send to, drawn from the
// provided agent set.
func (t Topology) Peers(agentID string, agents []string) []string {
	var peers []string
	for _, other := range agents {
		if t.CanCommunicate(agentID, other) {
			peers = append(peers, other)
		}
	}
	return peers
}

// Fanout returns the default number of agents a sender reaches directly,
// given the pool size.
func (t Topology) Fanout(agentID string, poolSize int) int {
	switch t.Kind {
	case Mesh:
		return poolSize - 1
	case Hierarchical:
		children := 0
		for _, parent := range t.Relations.Parent {
			if parent == agentID {
				children++
			}
		}
		if children > 0 {
			return children
		}
		return 1
	case Ring:
		return 1
	case Star:
		if agentID == t.Relations.Hub {
			return poolSize - 1
		}
		return 1
	default:
		return 0
	}
}

// Validate checks the topology for internal contradictions against the given
// agent set. A contradictory configuration aborts objective planning.
func (t Topology) Validate(agents []string) error {
	known := make(map[string]bool, len(agents))
	for _, id := range agents {
		known[id] = true
	}

	switch t.Kind {
	case Mesh:
		return nil

	case Hierarchical:
		for child, parent := range t.Relations.Parent {
			if !known[child] || !known[parent] {
				return fmt.Errorf("%w: relation %s->%s references unknown agent", ErrInvalidTopology, child, parent)
			}
			if child == parent {
				return fmt.Errorf("%w: agent %s cannot be its own parent", ErrInvalidTopology, child)
			}
		}
		return nil

	case Ring:
		if len(agents) == 0 {
			return nil
		}
		// Every agent needs a successor, and the successors must form a
		// single cycle covering the pool.
		seen := make(map[string]bool, len(agents))
		current := agents[0]
		for i := 0; i < len(agents); i++ {
			next, ok := t.Relations.Successor[current]
			if !ok {
				return fmt.Errorf("%w: agent %s has no ring successor", ErrInvalidTopology, current)
			}
			if !known[next] {
				return fmt.Errorf("%w: successor %s is not a pool member", ErrInvalidTopology, next)
			}
			if seen[next] && next != agents[0] {
				return fmt.Errorf("%w: ring revisits %s before closing", ErrInvalidTopology, next)
			}
			seen[next] = true
			current = next
		}
		if current != agents[0] {
			return fmt.Errorf("%w: ring does not close over all %d agents", ErrInvalidTopology, len(agents))
		}
		return nil

	case Star:
		if t.Relations.Hub == "" {
			return fmt.Errorf("%w: star topology requires a hub", ErrInvalidTopology)
		}
		if len(agents) > 0 && !known[t.Relations.Hub] {
			return fmt.Errorf("%w: hub %s is not a pool member", ErrInvalidTopology, t.Relations.Hub)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTopology, t.Kind)
	}
}
