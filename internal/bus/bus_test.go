package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskhub/hub/internal/huberr"
	"github.com/taskhub/hub/internal/kvstore"
)

func newTestBus() (*Bus, *kvstore.FakeStore) {
	store := kvstore.NewFake()
	cfg := DefaultConfig()
	cfg.PublishRPS = 1000
	cfg.PublishBurst = 1000
	return New(store, cfg, zap.NewNop()), store
}

func TestBus_PublishSubscribe(t *testing.T) {
	b, _ := newTestBus()
	ctx := context.Background()

	received := make(chan Envelope, 1)
	unsub, err := b.Subscribe(ctx, ChannelHubMessages, func(e Envelope) {
		received <- e
	})
	require.NoError(t, err)
	defer unsub()

	env := Envelope{Type: TypeHeartbeat, AgentID: "worker-agent-1"}
	require.NoError(t, b.Publish(ctx, ChannelHubMessages, env))

	select {
	case got := <-received:
		assert.Equal(t, TypeHeartbeat, got.Type)
		assert.Equal(t, "worker-agent-1", got.AgentID)
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestBus_MalformedPayloadIsDroppedNotPanicked(t *testing.T) {
	store := kvstore.NewFake()
	b := New(store, DefaultConfig(), zap.NewNop())
	ctx := context.Background()

	called := false
	_, err := b.Subscribe(ctx, ChannelHubMessages, func(Envelope) {
		called = true
	})
	require.NoError(t, err)

	require.NoError(t, store.Publish(ctx, ChannelHubMessages, "not json"))
	assert.False(t, called)
}

func TestBus_UnsubscribeAll_StopsDelivery(t *testing.T) {
	b, _ := newTestBus()
	ctx := context.Background()

	count := 0
	_, err := b.Subscribe(ctx, ChannelHubMessages, func(Envelope) {
		count++
	})
	require.NoError(t, err)

	b.UnsubscribeAll()

	require.NoError(t, b.Publish(ctx, ChannelHubMessages, Envelope{Type: TypeHeartbeat}))
	assert.Equal(t, 0, count)
}

func TestBus_Request_ResolvesOnMatchingResponse(t *testing.T) {
	b, _ := newTestBus()
	ctx := context.Background()

	agentID := "qc-agent-1"
	respChannel := ChannelAgentResponses(agentID)

	_, err := b.Subscribe(ctx, ChannelAgentCommands(agentID), func(e Envelope) {
		reply := Envelope{Type: TypeResponse, CorrelationID: e.CorrelationID, AgentID: agentID}
		_ = b.Publish(ctx, respChannel, reply)
	})
	require.NoError(t, err)

	resp, err := b.Request(ctx, ChannelAgentCommands(agentID), Envelope{Type: TypeCommand}, respChannel, time.Second)
	require.NoError(t, err)
	assert.Equal(t, TypeResponse, resp.Type)
}

func TestBus_Request_TimesOutWithNoResponder(t *testing.T) {
	b, _ := newTestBus()
	ctx := context.Background()

	_, err := b.Request(ctx, ChannelHubRequests, Envelope{Type: TypeRequest}, ChannelAgentResponses("nobody"), 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, huberr.ErrRequestTimeout, huberr.CodeOf(err))
}

func TestChannelHelpers(t *testing.T) {
	assert.Equal(t, "agent:worker-1:assignments", ChannelAgentAssignments("worker-1"))
	assert.Equal(t, "agent:worker-1:commands", ChannelAgentCommands("worker-1"))
	assert.Equal(t, "agent:worker-1:responses", ChannelAgentResponses("worker-1"))
}
