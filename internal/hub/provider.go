package hub

import (
	"context"

	"github.com/taskhub/hub/internal/graph"
	"github.com/taskhub/hub/types"
)

// Agents implements statusserver.Provider.
func (h *Hub) Agents() []*types.Agent {
	return h.registry.All()
}

// Agent implements statusserver.Provider.
func (h *Hub) Agent(id string) *types.Agent {
	return h.registry.Get(id)
}

// PRs implements statusserver.Provider.
func (h *Hub) PRs() []types.PR {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.g == nil {
		return nil
	}
	nodes := h.g.All()
	out := make([]types.PR, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.PR)
	}
	return out
}

// PR implements statusserver.Provider.
func (h *Hub) PR(id string) (types.PR, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.g == nil {
		return types.PR{}, false
	}
	n := h.g.Node(id)
	if n == nil {
		return types.PR{}, false
	}
	return n.PR, true
}

// Available returns the graph's currently schedulable nodes (spec
// §4.5): PRs whose dependencies are satisfied and whose own cold state
// is one the graph schedules (new, ready, planned, broken, completed;
// never blocked or approved). The `hub run --dry-run` CLI
// path uses this directly instead of waiting for a scheduler tick.
func (h *Hub) Available() []*graph.Node {
	h.mu.RLock()
	g := h.g
	h.mu.RUnlock()
	if g == nil {
		return nil
	}
	return g.Available()
}

// Leases implements statusserver.Provider.
func (h *Hub) Leases(ctx context.Context) ([]*types.Lease, error) {
	return h.leases.All(ctx)
}

// SchedulerCycles implements statusserver.Provider.
func (h *Hub) SchedulerCycles() int64 {
	return h.Cycles()
}
