package statemachine

import (
	"fmt"
	"sync"

	"github.com/taskhub/hub/internal/clock"
	"github.com/taskhub/hub/internal/huberr"
	"github.com/taskhub/hub/types"
)

// coldTransitions is the fixed cold-state transition table (spec
// §4.9). approved has no listed targets: it is terminal.
var coldTransitions = map[types.ColdState][]types.ColdState{
	types.ColdNew:       {types.ColdReady, types.ColdBlocked},
	types.ColdBlocked:   {types.ColdReady},
	types.ColdReady:     {types.ColdPlanned},
	types.ColdPlanned:   {types.ColdCompleted},
	types.ColdCompleted: {types.ColdApproved, types.ColdBroken},
	types.ColdBroken:    {types.ColdPlanned},
	types.ColdApproved:  {},
}

// terminalColdStates marks states from which no further cold or hot
// transition is permitted.
var terminalColdStates = map[types.ColdState]bool{
	types.ColdApproved: true,
}

// HotTransitionAllowed reports whether a PR currently in cold may
// still enter or change hot state. Hot transitions are otherwise
// unrestricted between any two hot states.
func HotTransitionAllowed(cold types.ColdState) bool {
	return !terminalColdStates[cold]
}

// PRMachine validates and records PR cold-state transitions, one
// bounded history per PR id.
type PRMachine struct {
	clk  clock.Clock
	sink Sink

	mu        sync.Mutex
	histories map[string]*history
}

// NewPRMachine builds a PRMachine.
func NewPRMachine(clk clock.Clock) *PRMachine {
	return &PRMachine{clk: clk, histories: make(map[string]*history)}
}

// SetSink attaches a durable sink; nil disables it.
func (m *PRMachine) SetSink(sink Sink) {
	m.sink = sink
}

// Transition validates from -> to against the fixed table and, if
// valid, records it in prID's history.
func (m *PRMachine) Transition(prID string, from, to types.ColdState) error {
	valid := coldTransitions[from]
	for _, t := range valid {
		if t == to {
			at := m.clk.Now()
			m.historyFor(prID).record(string(from), string(to), at)
			if m.sink != nil {
				m.sink.Record("pr", prID, string(from), string(to), at)
			}
			return nil
		}
	}
	return huberr.New(huberr.ErrInvalidTransition,
		fmt.Sprintf("pr %s: invalid cold transition %s -> %s (valid targets: %v)", prID, from, to, valid))
}

// History returns a snapshot of prID's recorded transitions, oldest
// first, bounded to the last 100.
func (m *PRMachine) History(prID string) []Transition {
	return m.historyFor(prID).snapshot()
}

func (m *PRMachine) historyFor(prID string) *history {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.histories[prID]
	if !ok {
		h = &history{}
		m.histories[prID] = h
	}
	return h
}
