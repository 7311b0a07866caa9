package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskhub/hub/internal/clock"
	"github.com/taskhub/hub/internal/huberr"
	"github.com/taskhub/hub/internal/kvstore"
	"github.com/taskhub/hub/internal/pool"
	"github.com/taskhub/hub/types"
)

// sweepPool bounds the fan-out of crashed-agent callbacks a single
// Sweep invokes; a fleet-wide restart storm should not spawn one
// goroutine per crashed agent.
var sweepPool = pool.NewGoroutinePool(pool.GoroutinePoolConfig{
	MaxWorkers:  16,
	QueueSize:   256,
	IdleTimeout: 60 * time.Second,
})

// CrashedHandler is invoked once per agent the sweep flags as crashed.
type CrashedHandler func(agentID string)

// Registry is the leaf component tracking every known agent's metadata.
type Registry struct {
	store  kvstore.Store
	clk    clock.Clock
	logger *zap.Logger

	heartbeatTimeout time.Duration

	mu     sync.RWMutex
	agents map[string]*types.Agent

	onCrashed CrashedHandler
}

// New builds a Registry. onCrashed may be nil if the caller does not
// need crash notifications (e.g. tests).
func New(store kvstore.Store, clk clock.Clock, heartbeatTimeout time.Duration, onCrashed CrashedHandler, logger *zap.Logger) *Registry {
	return &Registry{
		store:            store,
		clk:              clk,
		logger:           logger.With(zap.String("component", "registry")),
		heartbeatTimeout: heartbeatTimeout,
		agents:           make(map[string]*types.Agent),
		onCrashed:        onCrashed,
	}
}

func agentInfoKey(id string) string {
	return fmt.Sprintf("agent:%s:info", id)
}

// Register adds or replaces agent's record, both in memory and mirrored
// to the KV store.
func (r *Registry) Register(ctx context.Context, agent *types.Agent) error {
	r.mu.Lock()
	r.agents[agent.ID] = agent
	r.mu.Unlock()

	return r.mirror(ctx, agent)
}

// Deregister removes agent's record.
func (r *Registry) Deregister(ctx context.Context, agentID string) error {
	r.mu.Lock()
	delete(r.agents, agentID)
	r.mu.Unlock()

	return r.store.Del(ctx, agentInfoKey(agentID))
}

// Get returns the in-memory record for agentID, or nil if unknown.
func (r *Registry) Get(agentID string) *types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[agentID]
}

// All returns a snapshot of every known agent, in no particular order
// (callers needing registration order should track it themselves via
// StartedAt).
func (r *Registry) All() []*types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// Heartbeat records a heartbeat receipt for agentID.
func (r *Registry) Heartbeat(ctx context.Context, agentID string) error {
	r.mu.Lock()
	agent, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return huberr.New(huberr.ErrUnknownAgent, fmt.Sprintf("unknown agent %q", agentID))
	}
	agent.LastHeartbeat = r.clk.Now()
	r.mu.Unlock()

	return r.mirror(ctx, agent)
}

// Sweep marks every agent whose last heartbeat exceeds the configured
// timeout as crashed (strict >, so a heartbeat landing exactly at the
// timeout still counts as alive) and invokes onCrashed for each.
func (r *Registry) Sweep(ctx context.Context) []string {
	now := r.clk.Now()

	r.mu.Lock()
	var crashed []string
	for id, a := range r.agents {
		if now.Sub(a.LastHeartbeat) > r.heartbeatTimeout {
			crashed = append(crashed, id)
		}
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range crashed {
		r.logger.Warn("agent crashed (heartbeat timeout)", zap.String("agent_id", id))
		if r.onCrashed == nil {
			continue
		}
		wg.Add(1)
		agentID := id
		if err := sweepPool.Submit(ctx, func(context.Context) error {
			defer wg.Done()
			r.onCrashed(agentID)
			return nil
		}); err != nil {
			wg.Done()
			r.onCrashed(agentID)
		}
	}
	wg.Wait()
	return crashed
}

func (r *Registry) mirror(ctx context.Context, agent *types.Agent) error {
	data, err := json.Marshal(agent)
	if err != nil {
		return huberr.New(huberr.ErrMalformedManifest, "agent record marshal failed").WithCause(err)
	}
	return r.store.Set(ctx, agentInfoKey(agent.ID), string(data))
}
