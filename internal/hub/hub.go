package hub

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/taskhub/hub/config"
	"github.com/taskhub/hub/internal/assignment"
	"github.com/taskhub/hub/internal/bus"
	"github.com/taskhub/hub/internal/clock"
	"github.com/taskhub/hub/internal/conflict"
	"github.com/taskhub/hub/internal/graph"
	"github.com/taskhub/hub/internal/kvstore"
	"github.com/taskhub/hub/internal/lease"
	"github.com/taskhub/hub/internal/manifest"
	"github.com/taskhub/hub/internal/metrics"
	"github.com/taskhub/hub/internal/registry"
	"github.com/taskhub/hub/internal/scheduler"
	"github.com/taskhub/hub/internal/statemachine"
	"github.com/taskhub/hub/internal/supervisor"
	hubsync "github.com/taskhub/hub/internal/sync"
	"github.com/taskhub/hub/types"
)

// Deps bundles every leaf component the Hub orchestrates. Tests build
// a Deps with fakes (FakeStore, a virtual Clock, FakeSignals) instead
// of the real supervisor/registry wiring New does for production.
type Deps struct {
	Store        kvstore.Store
	Bus          *bus.Bus
	Clock        clock.Clock
	Signals      clock.Signals
	Registry     *registry.Registry
	Supervisor   *supervisor.Supervisor
	Assignment   *assignment.Manager
	PRMachine    *statemachine.PRMachine
	AgentMachine *statemachine.AgentMachine
	Leases       *lease.Manager
	Synchronizer *hubsync.Synchronizer
	Metrics      *metrics.Collector
	Logger       *zap.Logger

	// AssignmentStrategy labels metrics; it mirrors config.AssignmentConfig.Strategy.
	AssignmentStrategy string
}

// Hub is the control loop described by spec §2/§5: on each scheduler
// tick it asks the graph for available work, runs the MIS scheduler
// over it, hands the selection to the assignment manager, and reacts
// to agent lifecycle envelopes (heartbeat, completed, failed) arriving
// over the bus between ticks.
type Hub struct {
	cfg    config.HubConfig
	logger *zap.Logger

	store        kvstore.Store
	bus          *bus.Bus
	clk          clock.Clock
	signals      clock.Signals
	registry     *registry.Registry
	supervisor   *supervisor.Supervisor
	assignment   *assignment.Manager
	prMachine    *statemachine.PRMachine
	agentMachine *statemachine.AgentMachine
	leases       *lease.Manager
	synchronizer *hubsync.Synchronizer
	metrics      *metrics.Collector

	assignmentStrategy string

	mu   sync.RWMutex
	g    *graph.Graph
	m    *manifest.Manifest
	prID map[string]string // pr id -> current hot agent id, mirrors graph hot assignment

	cycles    atomic.Int64
	unsub     []func()
	stopped   atomic.Bool
	shutdownC chan struct{}
}

// New builds a Hub. Call Hydrate before Run to load the manifest.
func New(cfg config.HubConfig, deps Deps) *Hub {
	return &Hub{
		cfg:                cfg,
		logger:             deps.Logger.With(zap.String("component", "hub")),
		store:              deps.Store,
		bus:                deps.Bus,
		clk:                deps.Clock,
		signals:            deps.Signals,
		registry:           deps.Registry,
		supervisor:         deps.Supervisor,
		assignment:         deps.Assignment,
		prMachine:          deps.PRMachine,
		agentMachine:       deps.AgentMachine,
		leases:             deps.Leases,
		synchronizer:       deps.Synchronizer,
		metrics:            deps.Metrics,
		assignmentStrategy: deps.AssignmentStrategy,
		prID:               make(map[string]string),
		shutdownC:          make(chan struct{}),
	}
}

// Hydrate parses manifestDoc, recovers from any prior crash (clearing
// stale hot state), builds the dependency graph, and detects/resolves
// any drift between the manifest and the KV cache. Must run once
// before Run.
func (h *Hub) Hydrate(ctx context.Context, manifestDoc string) error {
	m, err := manifest.Parse(manifestDoc)
	if err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}

	if err := h.synchronizer.RecoverFromCrash(ctx, m); err != nil {
		return fmt.Errorf("recover from crash: %w", err)
	}

	conflicts, err := h.synchronizer.DetectConflicts(ctx, m)
	if err != nil {
		return fmt.Errorf("detect conflicts: %w", err)
	}
	for _, c := range conflicts {
		h.logger.Warn("resolving manifest/cache conflict", zap.String("kind", string(c.Kind)), zap.String("pr_id", c.PRID))
		if err := h.synchronizer.Resolve(ctx, c); err != nil {
			return fmt.Errorf("resolve conflict %s/%s: %w", c.Kind, c.PRID, err)
		}
	}

	g, err := h.synchronizer.Hydrate(ctx, m)
	if err != nil {
		return fmt.Errorf("hydrate cold state: %w", err)
	}

	h.mu.Lock()
	h.m = m
	h.g = g
	h.mu.Unlock()

	h.logger.Info("manifest hydrated", zap.Int("pr_count", len(m.PRs())))
	return nil
}

// Run subscribes to the agent message bus, starts the scheduler tick
// and display-sync tick, and blocks until ctx is cancelled or a
// shutdown signal arrives, then drains. Errors from Run always mean
// the hub never started cleanly; a signal-triggered shutdown returns nil.
func (h *Hub) Run(ctx context.Context) error {
	unsub, err := h.bus.Subscribe(ctx, bus.ChannelHubMessages, h.handleEnvelope)
	if err != nil {
		return fmt.Errorf("subscribe to hub messages: %w", err)
	}
	h.unsub = append(h.unsub, unsub)

	schedTicker := h.clk.NewTicker(h.cfg.SchedulerTickInterval)
	defer schedTicker.Stop()

	syncTicker := h.clk.NewTicker(h.cfg.DisplaySyncInterval)
	defer syncTicker.Stop()

	heartbeatTicker := h.clk.NewTicker(time.Duration(h.cfg.HeartbeatIntervalMS) * time.Millisecond)
	defer heartbeatTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	h.signals.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer h.signals.Stop(sigCh)

	h.logger.Info("hub control loop started")

	for {
		select {
		case <-ctx.Done():
			return h.drain()
		case sig := <-sigCh:
			h.logger.Info("received shutdown signal", zap.Stringer("signal", sig))
			return h.drain()
		case <-schedTicker.C():
			h.tick(ctx)
		case <-syncTicker.C():
			if err := h.synchronizer.DisplaySync(ctx); err != nil {
				h.logger.Warn("display sync failed", zap.Error(err))
			}
		case <-heartbeatTicker.C():
			h.sweepCrashed(ctx)
		}
	}
}

// tick runs one probe-select-assign cycle (spec §2's scheduling loop).
func (h *Hub) tick(ctx context.Context) {
	start := h.clk.Now()

	h.mu.RLock()
	g := h.g
	h.mu.RUnlock()
	if g == nil {
		return
	}
	h.cycles.Add(1)

	available := g.Available()
	var working []*graph.Node
	for _, n := range available {
		if n.PR.AgentID != "" {
			working = append(working, n)
		}
	}

	idle := 0
	for _, a := range h.registry.All() {
		if a.IsIdle() {
			idle++
		}
	}

	result := scheduler.Schedule(available, working, idle)
	if len(result.Selected) == 0 {
		return
	}

	assignments, err := h.assignment.Assign(ctx, result.Selected, h.registry.All())
	if err != nil {
		h.logger.Warn("assignment failed", zap.Error(err))
	}

	for _, a := range assignments {
		h.applyAssignmentLocked(ctx, a)
	}

	density := conflict.Density(available)
	if h.metrics != nil {
		h.metrics.RecordSchedulerCycle(len(result.Selected), density, h.clk.Now().Sub(start))
	}
	h.logger.Debug("scheduler tick",
		zap.Int("selected", len(result.Selected)),
		zap.Int("blocked", len(result.Blocked)),
		zap.Int("assigned", len(assignments)),
		zap.Float64("conflict_density", density),
	)
}

// applyAssignmentLocked records a freshly scheduled assignment. The
// only cold-state hop that belongs here is new->ready: a planning
// agent picking up a brand new PR needs that single legal step before
// it can ever reach planned (ready->planned happens on resolution,
// alongside every other agent type's progression). Every other
// agent-type/source-state pair has no legal cold-state change at
// entry time; the PR simply gets an owner.
func (h *Hub) applyAssignmentLocked(ctx context.Context, a types.Assignment) {
	h.mu.Lock()
	defer h.mu.Unlock()

	node := h.g.Node(a.PRID)
	if node == nil {
		return
	}
	agent := h.registry.Get(a.AgentID)

	from := node.PR.ColdState
	if agent != nil && agent.Type == types.AgentPlanning && from == types.ColdNew {
		if err := h.prMachine.Transition(a.PRID, types.ColdNew, types.ColdReady); err != nil {
			h.logger.Warn("pr transition rejected on assignment", zap.String("pr_id", a.PRID), zap.Error(err))
			return
		}
		node.PR.ColdState = types.ColdReady
		if h.metrics != nil {
			h.metrics.RecordPRStateTransition(string(types.ColdNew), string(types.ColdReady))
		}
	}

	node.PR.AgentID = a.AgentID
	node.PR.HotState = types.HotInProgress
	node.PR.LastTransition = h.clk.Now()

	if agent != nil {
		agent.AssignedPR = a.PRID
		agent.Lifecycle = types.AgentWorking
		if err := h.registry.Register(ctx, agent); err != nil {
			h.logger.Warn("registry mirror failed after assignment", zap.String("agent_id", a.AgentID), zap.Error(err))
		}
	}
	if h.metrics != nil && agent != nil {
		h.metrics.RecordAssignment(string(agent.Type), h.assignmentStrategy, h.clk.Now().Sub(a.AssignedAt))
	}
}

// resolutionTarget maps an agent's report to the legal cold-state
// target for the PR it held, per spec §4.8's compatibility table and
// the statemachine's transition graph. ok is false when the report
// has no legal cold-state consequence (e.g. a planning agent failing,
// which has no failure edge at all) - the caller still releases the
// PR and the agent, it just leaves cold_state untouched.
func resolutionTarget(agentType types.AgentType, from types.ColdState, success bool) (types.ColdState, bool) {
	switch agentType {
	case types.AgentPlanning:
		if success && from == types.ColdReady {
			return types.ColdPlanned, true
		}
	case types.AgentWorker:
		if success {
			switch from {
			case types.ColdPlanned:
				return types.ColdCompleted, true
			case types.ColdBroken:
				return types.ColdPlanned, true
			}
		}
	case types.AgentQC:
		if from == types.ColdCompleted {
			if success {
				return types.ColdApproved, true
			}
			return types.ColdBroken, true
		}
	}
	return "", false
}

// handleEnvelope reacts to agent-originated bus events (spec §4.1's
// consumer side of the envelope protocol).
func (h *Hub) handleEnvelope(env bus.Envelope) {
	ctx := context.Background()
	switch env.Type {
	case bus.TypeRegistration:
		h.logger.Info("agent registered", zap.String("agent_id", env.AgentID))
	case bus.TypeHeartbeat:
		if err := h.registry.Heartbeat(ctx, env.AgentID); err != nil {
			h.logger.Warn("heartbeat rejected", zap.String("agent_id", env.AgentID), zap.Error(err))
		}
	case bus.TypeCompleted:
		h.onPRResolved(ctx, env.AgentID, env.PRID, true)
	case bus.TypeFailed:
		h.onPRResolved(ctx, env.AgentID, env.PRID, false)
	case bus.TypeAgentCrash:
		h.supervisor.OnAgentCrashed(env.AgentID)
	default:
		h.logger.Debug("unhandled envelope type", zap.String("type", string(env.Type)))
	}
}

// onPRResolved handles an agent's report of success or failure on its
// assigned PR. The PR and the agent are always released, win or lose;
// the cold-state hop only happens when resolutionTarget finds one
// legal for this agent type and source state (spec §4.8).
func (h *Hub) onPRResolved(ctx context.Context, agentID, prID string, success bool) {
	h.mu.Lock()
	node := h.g.Node(prID)
	if node == nil {
		h.mu.Unlock()
		return
	}

	var agentType types.AgentType
	if agent := h.registry.Get(agentID); agent != nil {
		agentType = agent.Type
	}

	from := node.PR.ColdState
	if target, ok := resolutionTarget(agentType, from, success); ok {
		if err := h.prMachine.Transition(prID, from, target); err != nil {
			h.logger.Warn("pr resolution transition rejected", zap.String("pr_id", prID), zap.Error(err))
		} else {
			h.g.MarkComplete(prID, target)
			if h.metrics != nil {
				h.metrics.RecordPRStateTransition(string(from), string(target))
			}
		}
	} else {
		h.logger.Debug("pr resolution has no legal cold-state target, releasing PR unchanged",
			zap.String("pr_id", prID), zap.String("cold_state", string(from)), zap.Bool("success", success))
	}
	node.PR.AgentID = ""
	node.PR.HotState = ""
	h.mu.Unlock()

	h.assignment.Complete(agentID)
	if agent := h.registry.Get(agentID); agent != nil {
		fromLifecycle := agent.Lifecycle
		agent.AssignedPR = ""
		agent.Lifecycle = types.AgentCompleting
		if err := h.agentMachine.Transition(agentID, fromLifecycle, types.AgentCompleting); err != nil {
			h.logger.Warn("agent completing transition rejected", zap.String("agent_id", agentID), zap.Error(err))
		}
		agent.Lifecycle = types.AgentIdle
		if err := h.registry.Register(ctx, agent); err != nil {
			h.logger.Warn("registry mirror failed after completion", zap.String("agent_id", agentID), zap.Error(err))
		}
	}
}

func (h *Hub) sweepCrashed(ctx context.Context) {
	crashed := h.registry.Sweep(ctx)
	for _, id := range crashed {
		if h.metrics != nil {
			h.metrics.RecordAgentRestart(string(agentTypeOf(h.registry, id)), "heartbeat_timeout")
		}
	}
}

func agentTypeOf(r *registry.Registry, id string) types.AgentType {
	if a := r.Get(id); a != nil {
		return a.Type
	}
	return ""
}

// drain runs the orchestrator's shutdown sequence: unsubscribe from
// the bus, ask the supervisor to terminate every live agent within
// the configured timeout, then return.
func (h *Hub) drain() error {
	if !h.stopped.CompareAndSwap(false, true) {
		return nil
	}
	h.logger.Info("hub draining")

	for _, u := range h.unsub {
		u()
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.ShutdownTimeout)
	defer cancel()
	h.supervisor.ShutdownAll(ctx)

	close(h.shutdownC)
	h.logger.Info("hub drained")
	return nil
}

// Done is closed once drain has completed, for callers (cmd/hub) that
// need to observe shutdown completion rather than Run's return.
func (h *Hub) Done() <-chan struct{} {
	return h.shutdownC
}

// Cycles returns how many scheduler ticks have selected or attempted
// to select work, for SchedulerCycles() and the status server.
func (h *Hub) Cycles() int64 {
	return h.cycles.Load()
}
