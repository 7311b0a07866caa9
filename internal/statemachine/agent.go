package statemachine

import (
	"fmt"
	"sync"

	"github.com/taskhub/hub/internal/clock"
	"github.com/taskhub/hub/internal/huberr"
	"github.com/taskhub/hub/types"
)

// agentTransitions is the fixed agent-lifecycle transition table
// (spec §4.9). stopped has no listed targets: it is terminal.
var agentTransitions = map[types.AgentLifecycle][]types.AgentLifecycle{
	types.AgentInitializing: {types.AgentIdle},
	types.AgentIdle:         {types.AgentWorking, types.AgentShuttingDown},
	types.AgentWorking:      {types.AgentCompleting, types.AgentFailed, types.AgentShuttingDown},
	types.AgentCompleting:   {types.AgentIdle},
	types.AgentFailed:       {types.AgentIdle, types.AgentShuttingDown},
	types.AgentShuttingDown: {types.AgentStopped},
	types.AgentStopped:      {},
}

// AgentMachine validates and records agent lifecycle transitions, one
// bounded history per agent id.
type AgentMachine struct {
	clk  clock.Clock
	sink Sink

	mu        sync.Mutex
	histories map[string]*history
}

// NewAgentMachine builds an AgentMachine.
func NewAgentMachine(clk clock.Clock) *AgentMachine {
	return &AgentMachine{clk: clk, histories: make(map[string]*history)}
}

// SetSink attaches a durable sink; nil disables it.
func (m *AgentMachine) SetSink(sink Sink) {
	m.sink = sink
}

// Transition validates from -> to against the fixed table and, if
// valid, records it in agentID's history.
func (m *AgentMachine) Transition(agentID string, from, to types.AgentLifecycle) error {
	valid := agentTransitions[from]
	for _, t := range valid {
		if t == to {
			at := m.clk.Now()
			m.historyFor(agentID).record(string(from), string(to), at)
			if m.sink != nil {
				m.sink.Record("agent", agentID, string(from), string(to), at)
			}
			return nil
		}
	}
	return huberr.New(huberr.ErrInvalidTransition,
		fmt.Sprintf("agent %s: invalid lifecycle transition %s -> %s (valid targets: %v)", agentID, from, to, valid))
}

// History returns a snapshot of agentID's recorded transitions,
// oldest first, bounded to the last 100.
func (m *AgentMachine) History(agentID string) []Transition {
	return m.historyFor(agentID).snapshot()
}

func (m *AgentMachine) historyFor(agentID string) *history {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.histories[agentID]
	if !ok {
		h = &history{}
		m.histories[agentID] = h
	}
	return h
}
