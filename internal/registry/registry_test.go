package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskhub/hub/internal/clock"
	"github.com/taskhub/hub/internal/huberr"
	"github.com/taskhub/hub/internal/kvstore"
	"github.com/taskhub/hub/types"
)

func TestRegister_MirrorsToStore(t *testing.T) {
	store := kvstore.NewFake()
	clk := clock.NewFake(time.Unix(0, 0))
	r := New(store, clk, 90*time.Second, nil, zap.NewNop())

	agent := &types.Agent{ID: "worker-agent-1", Type: types.AgentWorker, Lifecycle: types.AgentIdle}
	require.NoError(t, r.Register(context.Background(), agent))

	val, ok, err := store.Get(context.Background(), "agent:worker-agent-1:info")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, val, "worker-agent-1")

	assert.Same(t, agent, r.Get("worker-agent-1"))
}

func TestHeartbeat_UnknownAgent(t *testing.T) {
	store := kvstore.NewFake()
	clk := clock.NewFake(time.Unix(0, 0))
	r := New(store, clk, 90*time.Second, nil, zap.NewNop())

	err := r.Heartbeat(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, huberr.ErrUnknownAgent, huberr.CodeOf(err))
}

func TestSweep_FlagsCrashedStrictlyGreaterThanTimeout(t *testing.T) {
	store := kvstore.NewFake()
	clk := clock.NewFake(time.Unix(0, 0))
	r := New(store, clk, 90*time.Second, nil, zap.NewNop())

	agent := &types.Agent{ID: "worker-agent-1", LastHeartbeat: clk.Now()}
	require.NoError(t, r.Register(context.Background(), agent))

	// exactly at timeout: still alive (strict >)
	clk.Advance(90 * time.Second)
	assert.Empty(t, r.Sweep(context.Background()))

	// past timeout: crashed
	clk.Advance(time.Second)
	crashed := r.Sweep(context.Background())
	assert.Equal(t, []string{"worker-agent-1"}, crashed)
}

func TestSweep_InvokesCrashedHandler(t *testing.T) {
	store := kvstore.NewFake()
	clk := clock.NewFake(time.Unix(0, 0))

	var notified []string
	r := New(store, clk, time.Second, func(agentID string) {
		notified = append(notified, agentID)
	}, zap.NewNop())

	agent := &types.Agent{ID: "worker-agent-1", LastHeartbeat: clk.Now()}
	require.NoError(t, r.Register(context.Background(), agent))

	clk.Advance(2 * time.Second)
	r.Sweep(context.Background())

	assert.Equal(t, []string{"worker-agent-1"}, notified)
}

func TestDeregister_RemovesFromMemoryAndStore(t *testing.T) {
	store := kvstore.NewFake()
	clk := clock.NewFake(time.Unix(0, 0))
	r := New(store, clk, time.Minute, nil, zap.NewNop())

	agent := &types.Agent{ID: "worker-agent-1"}
	require.NoError(t, r.Register(context.Background(), agent))
	require.NoError(t, r.Deregister(context.Background(), "worker-agent-1"))

	assert.Nil(t, r.Get("worker-agent-1"))
	_, ok, err := store.Get(context.Background(), "agent:worker-agent-1:info")
	require.NoError(t, err)
	assert.False(t, ok)
}
