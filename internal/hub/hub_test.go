package hub

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskhub/hub/config"
	"github.com/taskhub/hub/internal/assignment"
	"github.com/taskhub/hub/internal/bus"
	"github.com/taskhub/hub/internal/clock"
	"github.com/taskhub/hub/internal/kvstore"
	"github.com/taskhub/hub/internal/lease"
	hubmetrics "github.com/taskhub/hub/internal/metrics"
	"github.com/taskhub/hub/internal/registry"
	"github.com/taskhub/hub/internal/statemachine"
	"github.com/taskhub/hub/internal/supervisor"
	hubsync "github.com/taskhub/hub/internal/sync"
	"github.com/taskhub/hub/types"
)

const oneAgentDoc = `---
pr_id: PR-001
title: Build the scheduler
cold_state: new
priority: high
complexity: {score: 5, estimated_minutes: 50, suggested_model: sonnet}
dependencies: []
estimated_files:
  - {path: internal/scheduler/scheduler.go, action: create}
---
`

type noopLauncher struct{}

func (noopLauncher) Launch(ctx context.Context, spec supervisor.ProcessSpec) (supervisor.ProcessHandle, error) {
	return nil, context.Canceled
}

func newTestHub(t *testing.T) (*Hub, *clock.Fake, *kvstore.FakeStore) {
	t.Helper()
	logger := zap.NewNop()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := kvstore.NewFake()

	b := bus.New(store, bus.DefaultConfig(), logger)
	reg := registry.New(store, clk, 30*time.Second, nil, logger)

	sup := supervisor.New(config.SupervisorConfig{
		MaxConcurrentAgents: 4,
		RestartBudget:       2,
		RestartDelay:        time.Second,
		ShutdownTimeout:     time.Second,
	}, supervisor.Deps{
		Launcher: noopLauncher{},
		Clock:    clk,
		Bus:      b,
		Registry: reg,
		Logger:   logger,
	})

	asg := assignment.New(config.AssignmentConfig{
		Strategy:                 "first_available",
		MaxAssignmentsPerWorker:  1,
		MaxAssignmentsPerQCOrRev: 2,
	}, b, clk, logger)

	lm := lease.New(store, clk, 10*time.Minute, logger)
	sc := hubsync.New(store, logger)

	h := New(config.HubConfig{
		SchedulerTickInterval: 50 * time.Millisecond,
		DisplaySyncInterval:   time.Hour,
		HeartbeatIntervalMS:   int64((time.Hour).Milliseconds()),
		ShutdownTimeout:       time.Second,
	}, Deps{
		Store:              store,
		Bus:                b,
		Clock:              clk,
		Signals:            &clock.FakeSignals{},
		Registry:           reg,
		Supervisor:         sup,
		Assignment:         asg,
		PRMachine:          statemachine.NewPRMachine(clk),
		AgentMachine:       statemachine.NewAgentMachine(clk),
		Leases:             lm,
		Synchronizer:       sc,
		Metrics:            hubmetrics.NewCollector("taskhub_test", logger),
		Logger:             logger,
		AssignmentStrategy: "first_available",
	})
	return h, clk, store
}

func TestHydrate_BuildsGraphFromManifest(t *testing.T) {
	h, _, _ := newTestHub(t)
	require.NoError(t, h.Hydrate(context.Background(), oneAgentDoc))

	prs := h.PRs()
	require.Len(t, prs, 1)
	assert.Equal(t, "PR-001", prs[0].ID)

	pr, ok := h.PR("PR-001")
	require.True(t, ok)
	assert.Equal(t, types.ColdNew, pr.ColdState)

	_, ok = h.PR("PR-999")
	assert.False(t, ok)
}

func TestTick_AssignsAvailablePRToIdleAgent(t *testing.T) {
	h, clk, store := newTestHub(t)
	require.NoError(t, h.Hydrate(context.Background(), oneAgentDoc))

	ctx := context.Background()
	agent := &types.Agent{
		ID:            "agent-1",
		Type:          types.AgentPlanning,
		StartedAt:     clk.Now(),
		LastHeartbeat: clk.Now(),
		Lifecycle:     types.AgentIdle,
	}
	require.NoError(t, h.registry.Register(ctx, agent))

	unsub, err := h.bus.Subscribe(ctx, bus.ChannelAgentAssignments("agent-1"), func(bus.Envelope) {})
	require.NoError(t, err)
	defer unsub()

	h.tick(ctx)

	pr, ok := h.PR("PR-001")
	require.True(t, ok)
	assert.Equal(t, types.ColdReady, pr.ColdState)
	assert.Equal(t, "agent-1", pr.AgentID)

	assigned := h.registry.Get("agent-1")
	require.NotNil(t, assigned)
	assert.Equal(t, "PR-001", assigned.AssignedPR)
	assert.Equal(t, types.AgentWorking, assigned.Lifecycle)

	assert.Equal(t, int64(1), h.Cycles())
	_ = store
}

func TestTick_PlanningAgentCompletionAdvancesReadyToPlanned(t *testing.T) {
	h, clk, _ := newTestHub(t)
	require.NoError(t, h.Hydrate(context.Background(), oneAgentDoc))
	ctx := context.Background()

	agent := &types.Agent{
		ID:            "agent-1",
		Type:          types.AgentPlanning,
		StartedAt:     clk.Now(),
		LastHeartbeat: clk.Now(),
		Lifecycle:     types.AgentIdle,
	}
	require.NoError(t, h.registry.Register(ctx, agent))

	unsub, err := h.bus.Subscribe(ctx, bus.ChannelAgentAssignments("agent-1"), func(bus.Envelope) {})
	require.NoError(t, err)
	defer unsub()

	h.tick(ctx)
	pr, ok := h.PR("PR-001")
	require.True(t, ok)
	require.Equal(t, types.ColdReady, pr.ColdState)

	h.handleEnvelope(bus.Envelope{Type: bus.TypeCompleted, AgentID: "agent-1", PRID: "PR-001"})

	pr, ok = h.PR("PR-001")
	require.True(t, ok)
	assert.Equal(t, types.ColdPlanned, pr.ColdState)
	assert.Empty(t, pr.AgentID)

	assigned := h.registry.Get("agent-1")
	require.NotNil(t, assigned)
	assert.Equal(t, types.AgentIdle, assigned.Lifecycle)
}

func TestHandleEnvelope_CompletedTransitionsColdStateAndFreesAgent(t *testing.T) {
	h, clk, _ := newTestHub(t)
	require.NoError(t, h.Hydrate(context.Background(), oneAgentDoc))
	ctx := context.Background()

	agent := &types.Agent{
		ID:            "agent-1",
		Type:          types.AgentWorker,
		StartedAt:     clk.Now(),
		LastHeartbeat: clk.Now(),
		Lifecycle:     types.AgentWorking,
		AssignedPR:    "PR-001",
	}
	require.NoError(t, h.registry.Register(ctx, agent))

	h.mu.Lock()
	node := h.g.Node("PR-001")
	node.PR.ColdState = types.ColdPlanned
	node.PR.AgentID = "agent-1"
	h.mu.Unlock()

	h.handleEnvelope(bus.Envelope{Type: bus.TypeCompleted, AgentID: "agent-1", PRID: "PR-001"})

	pr, ok := h.PR("PR-001")
	require.True(t, ok)
	assert.Equal(t, types.ColdCompleted, pr.ColdState)
	assert.Empty(t, pr.AgentID)

	assigned := h.registry.Get("agent-1")
	require.NotNil(t, assigned)
	assert.Empty(t, assigned.AssignedPR)
	assert.Equal(t, types.AgentIdle, assigned.Lifecycle)
}

func TestHandleEnvelope_WorkerReworkAdvancesBrokenToPlanned(t *testing.T) {
	h, clk, _ := newTestHub(t)
	require.NoError(t, h.Hydrate(context.Background(), oneAgentDoc))
	ctx := context.Background()

	agent := &types.Agent{
		ID:            "agent-1",
		Type:          types.AgentWorker,
		StartedAt:     clk.Now(),
		LastHeartbeat: clk.Now(),
		Lifecycle:     types.AgentWorking,
		AssignedPR:    "PR-001",
	}
	require.NoError(t, h.registry.Register(ctx, agent))

	h.mu.Lock()
	node := h.g.Node("PR-001")
	node.PR.ColdState = types.ColdBroken
	node.PR.AgentID = "agent-1"
	h.mu.Unlock()

	h.handleEnvelope(bus.Envelope{Type: bus.TypeCompleted, AgentID: "agent-1", PRID: "PR-001"})

	pr, ok := h.PR("PR-001")
	require.True(t, ok)
	assert.Equal(t, types.ColdPlanned, pr.ColdState)
	assert.Empty(t, pr.AgentID)
}

func TestHandleEnvelope_QCPassAndFailRoutesApprovedOrBroken(t *testing.T) {
	for _, tc := range []struct {
		name      string
		envType   bus.Type
		wantState types.ColdState
	}{
		{"pass", bus.TypeCompleted, types.ColdApproved},
		{"fail", bus.TypeFailed, types.ColdBroken},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h, clk, _ := newTestHub(t)
			require.NoError(t, h.Hydrate(context.Background(), oneAgentDoc))
			ctx := context.Background()

			agent := &types.Agent{
				ID:            "agent-1",
				Type:          types.AgentQC,
				StartedAt:     clk.Now(),
				LastHeartbeat: clk.Now(),
				Lifecycle:     types.AgentWorking,
				AssignedPR:    "PR-001",
			}
			require.NoError(t, h.registry.Register(ctx, agent))

			h.mu.Lock()
			node := h.g.Node("PR-001")
			node.PR.ColdState = types.ColdCompleted
			node.PR.AgentID = "agent-1"
			h.mu.Unlock()

			h.handleEnvelope(bus.Envelope{Type: tc.envType, AgentID: "agent-1", PRID: "PR-001"})

			pr, ok := h.PR("PR-001")
			require.True(t, ok)
			assert.Equal(t, tc.wantState, pr.ColdState)
			assert.Empty(t, pr.AgentID)
		})
	}
}

func TestHandleEnvelope_NoLegalTargetStillReleasesPRAndAgent(t *testing.T) {
	h, clk, _ := newTestHub(t)
	require.NoError(t, h.Hydrate(context.Background(), oneAgentDoc))
	ctx := context.Background()

	// A worker failing a planned PR has no legal failure edge from
	// planned (only completed->broken exists). The PR's cold state
	// must stay put, but the agent and PR ownership must still free.
	agent := &types.Agent{
		ID:            "agent-1",
		Type:          types.AgentWorker,
		StartedAt:     clk.Now(),
		LastHeartbeat: clk.Now(),
		Lifecycle:     types.AgentWorking,
		AssignedPR:    "PR-001",
	}
	require.NoError(t, h.registry.Register(ctx, agent))

	h.mu.Lock()
	node := h.g.Node("PR-001")
	node.PR.ColdState = types.ColdPlanned
	node.PR.AgentID = "agent-1"
	node.PR.HotState = types.HotInProgress
	h.mu.Unlock()

	h.handleEnvelope(bus.Envelope{Type: bus.TypeFailed, AgentID: "agent-1", PRID: "PR-001"})

	pr, ok := h.PR("PR-001")
	require.True(t, ok)
	assert.Equal(t, types.ColdPlanned, pr.ColdState)
	assert.Empty(t, pr.AgentID)
	assert.Empty(t, pr.HotState)

	assigned := h.registry.Get("agent-1")
	require.NotNil(t, assigned)
	assert.Empty(t, assigned.AssignedPR)
	assert.Equal(t, types.AgentIdle, assigned.Lifecycle)
}

func TestHandleEnvelope_HeartbeatUpdatesRegistry(t *testing.T) {
	h, clk, _ := newTestHub(t)
	ctx := context.Background()
	agent := &types.Agent{ID: "agent-2", Type: types.AgentWorker, StartedAt: clk.Now(), LastHeartbeat: clk.Now()}
	require.NoError(t, h.registry.Register(ctx, agent))

	clk.Advance(time.Minute)
	h.handleEnvelope(bus.Envelope{Type: bus.TypeHeartbeat, AgentID: "agent-2"})

	assert.Equal(t, clk.Now(), h.registry.Get("agent-2").LastHeartbeat)
}

func TestRun_StopsOnSignal(t *testing.T) {
	h, _, _ := newTestHub(t)
	require.NoError(t, h.Hydrate(context.Background(), oneAgentDoc))

	fakeSignals := &clock.FakeSignals{}
	h.signals = fakeSignals

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	// give Run a moment to register its signal channel before raising.
	time.Sleep(20 * time.Millisecond)
	fakeSignals.Raise(os.Interrupt)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after signal")
	}

	select {
	case <-h.Done():
	default:
		t.Fatal("drain did not close Done channel")
	}
}
