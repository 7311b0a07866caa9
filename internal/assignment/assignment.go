package assignment

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/taskhub/hub/config"
	"github.com/taskhub/hub/internal/bus"
	"github.com/taskhub/hub/internal/clock"
	"github.com/taskhub/hub/internal/graph"
	"github.com/taskhub/hub/internal/huberr"
	"github.com/taskhub/hub/types"
)

const (
	strategyFirstAvailable = "first_available"
	strategyLoadBalanced   = "load_balanced"
)

// Manager matches selected PRs to compatible idle agents and tracks
// how many are currently in flight per agent, since types.Agent only
// models a single AssignedPR but qc/review agents may hold more.
type Manager struct {
	cfg    config.AssignmentConfig
	bus    *bus.Bus
	clk    clock.Clock
	logger *zap.Logger

	mu     sync.Mutex
	counts map[string]int
}

// New builds a Manager. strategy defaults to first_available if cfg
// names an unrecognized one (config.Validate should already reject
// that at load time; this is a defensive fallback).
func New(cfg config.AssignmentConfig, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		bus:    b,
		clk:    clk,
		logger: logger.With(zap.String("component", "assignment")),
		counts: make(map[string]int),
	}
}

func (m *Manager) capFor(typ types.AgentType) int {
	if typ == types.AgentWorker {
		return max1(m.cfg.MaxAssignmentsPerWorker)
	}
	return max1(m.cfg.MaxAssignmentsPerQCOrRev)
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// Assign matches each selected node to a compatible idle agent from
// pool (which need not be pre-sorted; Assign sorts by StartedAt for
// deterministic "registration order"), publishes an assignment
// envelope per match, and returns the resulting assignments in
// selection order. A node with no compatible idle agent is skipped,
// not an error — the next scheduling tick will retry it.
func (m *Manager) Assign(ctx context.Context, selected []*graph.Node, pool []*types.Agent) ([]types.Assignment, error) {
	agents := make([]*types.Agent, len(pool))
	copy(agents, pool)
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].StartedAt.Before(agents[j].StartedAt)
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.Assignment
	for _, node := range selected {
		eligible := types.EligibleAgentTypes(node.PR.ColdState)
		agent := m.selectAgentLocked(eligible, agents)
		if agent == nil {
			continue
		}

		a := types.Assignment{
			PRID:             node.PR.ID,
			AgentID:          agent.ID,
			AssignedAt:       m.clk.Now(),
			Priority:         node.PR.Priority,
			Complexity:       node.PR.Complexity.Score,
			EstimatedMinutes: node.PR.Complexity.EstimatedMinutes,
			Files:            node.Files(),
		}
		m.counts[agent.ID]++

		if m.bus != nil {
			env := bus.Envelope{
				Type:    bus.TypeAssignment,
				AgentID: agent.ID,
				PRID:    node.PR.ID,
			}
			if err := m.bus.Publish(ctx, bus.ChannelAgentAssignments(agent.ID), env); err != nil {
				return out, huberr.New(huberr.ErrRequestTimeout, "assignment publish failed").WithCause(err)
			}
		}

		out = append(out, a)
	}
	return out, nil
}

// selectAgentLocked picks the agent this assignment should go to,
// per the configured strategy, among idle agents of an eligible type
// that are under their per-type cap. Must be called with m.mu held.
func (m *Manager) selectAgentLocked(eligible []types.AgentType, agents []*types.Agent) *types.Agent {
	var candidates []*types.Agent
	for _, a := range agents {
		if !a.IsIdle() {
			continue
		}
		eligibleType := false
		for _, t := range eligible {
			if a.Type == t {
				eligibleType = true
				break
			}
		}
		if !eligibleType {
			continue
		}
		if m.counts[a.ID] >= m.capFor(a.Type) {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return nil
	}

	if m.cfg.Strategy == strategyLoadBalanced {
		best := candidates[0]
		for _, c := range candidates[1:] {
			if m.counts[c.ID] < m.counts[best.ID] {
				best = c
			}
		}
		return best
	}

	// first_available: candidates is already in registration order.
	return candidates[0]
}

// Complete releases one in-flight assignment slot for agentID,
// called when the hub observes the agent's completion/failure.
func (m *Manager) Complete(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[agentID] > 0 {
		m.counts[agentID]--
	}
}

// InFlight returns how many assignments agentID currently holds.
func (m *Manager) InFlight(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[agentID]
}
