// Package graph provides the acyclic dependency graph of subtask nodes that
// drives execution order.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gammazero/toposort"

	"github.com/rgoodall/quartermaster/pkg/models"
)

// ErrCycleDetected indicates a circular dependency in the submitted graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// Graph is a directed acyclic graph of subtask nodes. Edges represent
// "blocked by" relationships: a node becomes ready only when every node it
// depends on is approved. Acyclicity is verified at build time, before any
// node executes.
type Graph struct {
	mu sync.RWMutex
	// nodes maps node ID to the node itself.
	nodes map[string]*models.SubtaskNode
	// edges maps node ID to the IDs of nodes it depends on.
	edges map[string][]string
	// dependents is the reverse of edges, for cancellation fan-out.
	dependents map[string][]string
}

// Build constructs a graph from nodes, rejecting unknown references and
// cycles. A rejected graph is unusable; nothing in it has executed.
func Build(nodes []*models.SubtaskNode) (*Graph, error) {
	g := &Graph{
		nodes:      make(map[string]*models.SubtaskNode, len(nodes)),
		edges:      make(map[string][]string, len(nodes)),
		dependents: make(map[string][]string),
	}

	for _, node := range nodes {
		if _, exists := g.nodes[node.ID]; exists {
			return nil, fmt.Errorf("duplicate node id %s", node.ID)
		}
		g.nodes[node.ID] = node
		g.edges[node.ID] = nil
	}

	for _, node := range nodes {
		for _, depID := range node.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return nil, fmt.Errorf("node %s depends on unknown node %s", node.ID, depID)
			}
			g.edges[node.ID] = append(g.edges[node.ID], depID)
			g.dependents[depID] = append(g.dependents[depID], node.ID)
		}
	}

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}
	return g, nil
}

// hasCycleLocked runs a depth-first search with coloring to detect back
// edges. Callers must hold the lock (or have exclusive access during Build).
func (g *Graph) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (on current path),
	// 2 = black (done).
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge to a node still on the current path.
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

	for id := range g.nodes {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// Ready returns nodes whose predecessors are all approved and which are
// still pending. Ready nodes without edges between them may run in parallel.
func (g *Graph) Ready() []*models.SubtaskNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*models.SubtaskNode
	for id, node := range g.nodes {
		if node.Status != models.NodePending {
			continue
		}

		blocked := false
		for _, depID := range g.edges[id] {
			if g.nodes[depID].Status != models.NodeApproved {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, node)
		}
	}
	return ready
}

// SetStatus updates a node's status.
func (g *Graph) SetStatus(nodeID string, status models.NodeStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if node, ok := g.nodes[nodeID]; ok {
		node.Status = status
	}
}

// Node returns the node for an ID, or nil.
func (g *Graph) Node(nodeID string) *models.SubtaskNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[nodeID]
}

// Nodes returns every node in the graph.
func (g *Graph) Nodes() []*models.SubtaskNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*models.SubtaskNode, 0, len(g.nodes))
	for _, node := range g.nodes {
		out = append(out, node)
	}
	return out
}

// Size returns the number of nodes.
func (g *Graph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the IDs the node depends on.
func (g *Graph) Dependencies(nodeID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[nodeID]
}

// Dependents returns every node that transitively depends on the given node.
// Used to cancel downstream work when a node fails permanently.
func (g *Graph) Dependents(nodeID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	var visit func(id string)
	visit = func(id string) {
		for _, depID := range g.dependents[id] {
			if seen[depID] {
				continue
			}
			seen[depID] = true
			out = append(out, depID)
			visit(depID)
		}
	}
	visit(nodeID)
	return out
}

// CancelDependents marks every not-yet-started transitive dependent of the
// node as cancelled, returning the IDs it cancelled. Nodes already running
// or terminal are left alone.
func (g *Graph) CancelDependents(nodeID string) []string {
	dependents := g.Dependents(nodeID)

	g.mu.Lock()
	defer g.mu.Unlock()

	var cancelled []string
	for _, id := range dependents {
		node := g.nodes[id]
		if node.Status == models.NodePending || node.Status == models.NodeReady {
			node.Status = models.NodeCancelled
			cancelled = append(cancelled, id)
		}
	}
	return cancelled
}

// Complete reports whether every node reached the approved state.
func (g *Graph) Complete() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, node := range g.nodes {
		if node.Status != models.NodeApproved {
			return false
		}
	}
	return true
}

// Settled reports whether every node is in a terminal state, approved or not.
func (g *Graph) Settled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, node := range g.nodes {
		if !node.Status.Terminal() {
			return false
		}
	}
	return true
}

// TopoOrder returns node IDs with every dependency before its dependents.
// Nodes with no relative ordering appear in unspecified order.
func (g *Graph) TopoOrder() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var edges []toposort.Edge
	isolated := make(map[string]bool, len(g.nodes))
	for id := range g.nodes {
		isolated[id] = true
	}
	for id, deps := range g.edges {
		for _, depID := range deps {
			edges = append(edges, toposort.Edge{depID, id})
			isolated[id] = false
			isolated[depID] = false
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("topological sort: %w", err)
	}

	out := make([]string, 0, len(g.nodes))
	for _, v := range sorted {
		out = append(out, v.(string))
	}
	for id := range isolated {
		if isolated[id] {
			out = append(out, id)
		}
	}
	return out, nil
}
