package graph

import (
	"sync"

	"github.com/taskhub/hub/types"
)

// Node is one PR's position in the dependency graph.
type Node struct {
	PR         types.PR
	Deps       map[string]struct{}
	Dependents map[string]struct{}
}

// Files returns the node's file set as a slice.
func (n *Node) Files() []string {
	return n.PR.FilePaths()
}

// Graph is the dependency graph over every PR in the manifest.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// availableColdStates are the cold states a node must be in to be
// considered for availability, per spec §4.5. The states absent from
// this map (blocked, approved) are never available;
// "completed-needs-review" maps to ColdCompleted.
var availableColdStates = map[types.ColdState]bool{
	types.ColdNew:       true,
	types.ColdReady:     true,
	types.ColdPlanned:   true,
	types.ColdBroken:    true,
	types.ColdCompleted: true,
}

// satisfiedDepStates are the cold states a dependency must be in for
// the dependent to be considered unblocked.
var satisfiedDepStates = map[types.ColdState]bool{
	types.ColdCompleted: true,
	types.ColdApproved:  true,
}

// Build constructs a Graph from the manifest's PRs in a single forward
// pass (dependency edges) plus a second pass reversing them into
// dependent edges.
func Build(prs []types.PR) *Graph {
	g := &Graph{nodes: make(map[string]*Node, len(prs))}

	for _, pr := range prs {
		deps := make(map[string]struct{}, len(pr.Dependencies))
		for _, d := range pr.Dependencies {
			deps[d] = struct{}{}
		}
		g.nodes[pr.ID] = &Node{PR: pr, Deps: deps, Dependents: make(map[string]struct{})}
	}

	for id, n := range g.nodes {
		for dep := range n.Deps {
			if depNode, ok := g.nodes[dep]; ok {
				depNode.Dependents[id] = struct{}{}
			}
		}
	}

	return g
}

// Node returns the node for id, or nil if unknown.
func (g *Graph) Node(id string) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// All returns every node in the graph, in no particular order, for
// callers that need a full snapshot (e.g. the status server).
func (g *Graph) All() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// Available returns every node whose cold_state is schedulable and
// whose dependencies are all satisfied.
func (g *Graph) Available() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*Node
	for _, n := range g.nodes {
		if !availableColdStates[n.PR.ColdState] {
			continue
		}
		if g.depsSatisfiedLocked(n) {
			out = append(out, n)
		}
	}
	return out
}

func (g *Graph) depsSatisfiedLocked(n *Node) bool {
	for dep := range n.Deps {
		depNode, ok := g.nodes[dep]
		if !ok {
			continue
		}
		if !satisfiedDepStates[depNode.PR.ColdState] {
			return false
		}
	}
	return true
}

// MarkComplete transitions id's cold state and returns the set of
// dependent ids whose availability may have changed as a result.
func (g *Graph) MarkComplete(id string, newState types.ColdState) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	n.PR.ColdState = newState

	deps := make([]string, 0, len(n.Dependents))
	for d := range n.Dependents {
		deps = append(deps, d)
	}
	return deps
}

// HasCycles reports whether the graph built from prs contains a
// dependency cycle, using Kahn's algorithm. Intended for a standalone
// check distinct from manifest.Parse's own cycle guard, for callers
// that already hold a []types.PR without having gone through Parse.
func HasCycles(prs []types.PR) bool {
	indegree := make(map[string]int, len(prs))
	dependents := make(map[string][]string, len(prs))

	for _, pr := range prs {
		if _, ok := indegree[pr.ID]; !ok {
			indegree[pr.ID] = 0
		}
		for _, dep := range pr.Dependencies {
			indegree[pr.ID]++
			dependents[dep] = append(dependents[dep], pr.ID)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	return processed != len(indegree)
}

// DependencyChain returns id's ancestors (transitive dependencies) in
// topological (dependency-first) order via a depth-first traversal.
func (g *Graph) DependencyChain(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool)
	var order []string

	var visit func(string)
	visit = func(cur string) {
		n, ok := g.nodes[cur]
		if !ok {
			return
		}
		for dep := range n.Deps {
			if !visited[dep] {
				visited[dep] = true
				visit(dep)
				order = append(order, dep)
			}
		}
	}
	visit(id)
	return order
}

// Dependents returns id's transitive closure of dependents (PRs that
// directly or indirectly depend on id).
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool)
	var order []string

	var visit func(string)
	visit = func(cur string) {
		n, ok := g.nodes[cur]
		if !ok {
			return
		}
		for dep := range n.Dependents {
			if !visited[dep] {
				visited[dep] = true
				order = append(order, dep)
				visit(dep)
			}
		}
	}
	visit(id)
	return order
}
