package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/hub/internal/clock"
	"github.com/taskhub/hub/internal/huberr"
	"github.com/taskhub/hub/types"
)

func TestPRMachine_ValidTransitionsRecordHistory(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	m := NewPRMachine(fc)

	require.NoError(t, m.Transition("P1", types.ColdNew, types.ColdReady))
	require.NoError(t, m.Transition("P1", types.ColdReady, types.ColdPlanned))
	require.NoError(t, m.Transition("P1", types.ColdPlanned, types.ColdCompleted))
	require.NoError(t, m.Transition("P1", types.ColdCompleted, types.ColdApproved))

	hist := m.History("P1")
	require.Len(t, hist, 4)
	assert.Equal(t, "new", hist[0].From)
	assert.Equal(t, "approved", hist[3].To)
}

func TestPRMachine_RejectsInvalidTransition(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	m := NewPRMachine(fc)

	err := m.Transition("P1", types.ColdNew, types.ColdApproved)
	require.Error(t, err)
	assert.Equal(t, huberr.ErrInvalidTransition, huberr.CodeOf(err))
	assert.Contains(t, err.Error(), "ready")
	assert.Contains(t, err.Error(), "blocked")
}

func TestPRMachine_ApprovedIsTerminal(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	m := NewPRMachine(fc)

	err := m.Transition("P1", types.ColdApproved, types.ColdBroken)
	require.Error(t, err)
	assert.Equal(t, huberr.ErrInvalidTransition, huberr.CodeOf(err))
}

func TestPRMachine_ReworkLoop(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	m := NewPRMachine(fc)

	require.NoError(t, m.Transition("P1", types.ColdCompleted, types.ColdBroken))
	require.NoError(t, m.Transition("P1", types.ColdBroken, types.ColdPlanned))
}

func TestPRMachine_HistoryTruncatesAt100(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	m := NewPRMachine(fc)

	for i := 0; i < 60; i++ {
		require.NoError(t, m.Transition("P1", types.ColdCompleted, types.ColdBroken))
		require.NoError(t, m.Transition("P1", types.ColdBroken, types.ColdPlanned))
		require.NoError(t, m.Transition("P1", types.ColdPlanned, types.ColdCompleted))
	}

	hist := m.History("P1")
	assert.Len(t, hist, 100)
}

func TestHotTransitionAllowed(t *testing.T) {
	assert.True(t, HotTransitionAllowed(types.ColdPlanned))
	assert.False(t, HotTransitionAllowed(types.ColdApproved))
}

func TestAgentMachine_FullLifecycle(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	m := NewAgentMachine(fc)

	require.NoError(t, m.Transition("a1", types.AgentInitializing, types.AgentIdle))
	require.NoError(t, m.Transition("a1", types.AgentIdle, types.AgentWorking))
	require.NoError(t, m.Transition("a1", types.AgentWorking, types.AgentCompleting))
	require.NoError(t, m.Transition("a1", types.AgentCompleting, types.AgentIdle))
	require.NoError(t, m.Transition("a1", types.AgentIdle, types.AgentShuttingDown))
	require.NoError(t, m.Transition("a1", types.AgentShuttingDown, types.AgentStopped))

	assert.Len(t, m.History("a1"), 6)
}

func TestAgentMachine_FailedRecoversToIdle(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	m := NewAgentMachine(fc)

	require.NoError(t, m.Transition("a1", types.AgentWorking, types.AgentFailed))
	require.NoError(t, m.Transition("a1", types.AgentFailed, types.AgentIdle))
}

func TestAgentMachine_StoppedIsTerminal(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	m := NewAgentMachine(fc)

	err := m.Transition("a1", types.AgentStopped, types.AgentIdle)
	require.Error(t, err)
	assert.Equal(t, huberr.ErrInvalidTransition, huberr.CodeOf(err))
}

func TestAgentMachine_RejectsSkippingStates(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	m := NewAgentMachine(fc)

	err := m.Transition("a1", types.AgentInitializing, types.AgentWorking)
	require.Error(t, err)
	assert.Equal(t, huberr.ErrInvalidTransition, huberr.CodeOf(err))
}
