package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/hub/internal/bus"
)

func TestGoroutinePool_SubmitWaitRunsTask(t *testing.T) {
	p := NewGoroutinePool(DefaultGoroutinePoolConfig())
	defer p.Close()

	var ran atomic.Bool
	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestGoroutinePool_SubmitWaitPropagatesTaskError(t *testing.T) {
	p := NewGoroutinePool(DefaultGoroutinePoolConfig())
	defer p.Close()

	boom := errors.New("boom")
	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestGoroutinePool_RejectsAfterClose(t *testing.T) {
	p := NewGoroutinePool(DefaultGoroutinePoolConfig())
	p.Close()

	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestGoroutinePool_FullQueueWithSaturatedWorkersRejects(t *testing.T) {
	cfg := GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 1, IdleTimeout: time.Second}
	p := NewGoroutinePool(cfg)
	defer p.Close()

	block := make(chan struct{})
	// Occupy the single worker.
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		<-block
		return nil
	}))
	// Fill the one-slot queue.
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error { return nil }))

	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolFull)

	close(block)
}

func TestGoroutinePool_RecoversFromPanickingTask(t *testing.T) {
	var panicked atomic.Bool
	cfg := DefaultGoroutinePoolConfig()
	cfg.PanicHandler = func(r any) { panicked.Store(true) }
	p := NewGoroutinePool(cfg)
	defer p.Close()

	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		panic("task exploded")
	})
	assert.Error(t, err)
	assert.True(t, panicked.Load())
}

func TestEnvelopePool_ReusesPayloadMap(t *testing.T) {
	ep := NewEnvelopePool()

	e := ep.Get()
	e.Type = bus.TypeHeartbeat
	e.AgentID = "qc-agent-1"
	e.Payload["status"] = "alive"
	ep.Put(e)

	e2 := ep.Get()
	assert.Empty(t, e2.Type)
	assert.Empty(t, e2.AgentID)
	assert.Empty(t, e2.Payload)
}

func TestMapPool_ClearsOnPut(t *testing.T) {
	mp := NewMapPool[string, int](4)
	m := mp.Get()
	m["a"] = 1
	mp.Put(m)

	m2 := mp.Get()
	assert.Empty(t, m2)
}
