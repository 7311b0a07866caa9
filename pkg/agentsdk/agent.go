package agentsdk

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskhub/hub/internal/bus"
	"github.com/taskhub/hub/internal/clock"
	"github.com/taskhub/hub/types"
)

// Assignment is the work unit an agent receives. Only PRID travels
// over the bus today (the assignment envelope carries no payload
// beyond agent/pr ids); a Hooks implementation that needs the PR's
// full detail fetches it through bus.Bus.Request against the hub.
type Assignment struct {
	PRID string
}

// Result is what DoWork returns on success.
type Result struct {
	Summary string
}

// Hooks are the two domain-specific decisions spec §4.10 leaves to the
// concrete agent: whether to accept an assignment, and how to execute
// it. Both may block; Run invokes them synchronously, one assignment
// at a time, matching the spec's single-assignment-per-agent model.
type Hooks interface {
	ValidateAssignment(a Assignment) bool
	DoWork(ctx context.Context, a Assignment) (Result, error)
}

// Config names this agent instance and its timing.
type Config struct {
	AgentID           string
	Type              types.AgentType
	Capabilities      types.Capabilities
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 90 * time.Second
	}
	return c
}

// Agent is the base runtime. It owns bus registration, the heartbeat
// timer, assignment dispatch, and error recovery; a concrete agent
// binary builds one with its Hooks and calls Run.
type Agent struct {
	cfg    Config
	bus    *bus.Bus
	clk    clock.Clock
	hooks  Hooks
	logger *zap.Logger
	retry  *Retrier

	mu          sync.Mutex
	lifecycle   types.AgentLifecycle
	assignedPR  string
	startedAt   time.Time
	lastSent    time.Time
	lastAck     time.Time
	missedCount int
}

// New builds an Agent. Call Run to start it.
func New(cfg Config, b *bus.Bus, clk clock.Clock, hooks Hooks, logger *zap.Logger) *Agent {
	cfg = cfg.withDefaults()
	return &Agent{
		cfg:       cfg,
		bus:       b,
		clk:       clk,
		hooks:     hooks,
		logger:    logger.With(zap.String("component", "agent"), zap.String("agent_id", cfg.AgentID)),
		retry:     NewRetrier(clk),
		lifecycle: types.AgentInitializing,
	}
}

// Run executes the startup sequence (spec §4.10): publish registration,
// subscribe to assignments and commands, transition to idle, then emit
// heartbeats and dispatch assignments until ctx is cancelled, a
// shutdown command arrives, or the heartbeat self-check moves the agent
// to shutting_down; each of these returns nil. A CategoryFatal error
// from an assignment sets the lifecycle to failed but does not end Run.
func (a *Agent) Run(ctx context.Context) error {
	a.startedAt = a.clk.Now()

	if err := a.publishRegistration(ctx); err != nil {
		return fmt.Errorf("publish registration: %w", err)
	}

	unsubAssign, err := a.bus.Subscribe(ctx, bus.ChannelAgentAssignments(a.cfg.AgentID), a.onAssignmentEnvelope)
	if err != nil {
		return fmt.Errorf("subscribe to assignments: %w", err)
	}
	defer unsubAssign()

	shutdownCh := make(chan struct{})
	var shutdownOnce sync.Once
	unsubCmd, err := a.bus.Subscribe(ctx, bus.ChannelAgentCommands(a.cfg.AgentID), func(env bus.Envelope) {
		if env.Type == bus.TypeCommand && env.Payload["action"] == "shutdown" {
			shutdownOnce.Do(func() { close(shutdownCh) })
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	defer unsubCmd()

	a.setLifecycle(types.AgentIdle)
	a.logger.Info("agent ready")

	ticker := a.clk.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.setLifecycle(types.AgentShuttingDown)
			return nil
		case <-shutdownCh:
			a.setLifecycle(types.AgentShuttingDown)
			return nil
		case <-ticker.C():
			a.sendHeartbeat(ctx)
			if a.Lifecycle() == types.AgentShuttingDown {
				return nil
			}
		}
	}
}

func (a *Agent) onAssignmentEnvelope(env bus.Envelope) {
	if env.Type != bus.TypeAssignment {
		return
	}
	a.handleAssignment(context.Background(), Assignment{PRID: env.PRID})
}

// handleAssignment runs the four-step sequence spec §4.10 names:
// validate, transition to working, run do_work, transition on outcome.
func (a *Agent) handleAssignment(ctx context.Context, assignment Assignment) {
	if !a.hooks.ValidateAssignment(assignment) {
		a.publishFailed(ctx, assignment.PRID, CategoryAssignment, false, "assignment rejected by validate_assignment")
		return
	}

	a.mu.Lock()
	a.lifecycle = types.AgentWorking
	a.assignedPR = assignment.PRID
	a.mu.Unlock()

	result, err := a.hooks.DoWork(ctx, assignment)
	if err == nil {
		a.publishComplete(ctx, assignment.PRID, result)
		a.mu.Lock()
		a.lifecycle = types.AgentCompleting
		a.mu.Unlock()
		a.returnToIdle()
		return
	}

	category := Categorize(err)
	if !category.Recoverable() {
		a.logger.Error("fatal error handling assignment, shutting down", zap.String("pr_id", assignment.PRID), zap.Error(err))
		a.setLifecycle(types.AgentFailed)
		return
	}

	a.publishFailed(ctx, assignment.PRID, category, true, err.Error())
	a.mu.Lock()
	a.lifecycle = types.AgentFailed
	a.mu.Unlock()
	a.recover(ctx, assignment, category)
	a.returnToIdle()
}

// recover runs the category-specific recovery action for a failed
// assignment. transient retries do_work itself; execution and
// assignment categories just clean up and fall through to idle.
func (a *Agent) recover(ctx context.Context, assignment Assignment, category Category) {
	if category != CategoryTransient {
		return
	}
	err := a.retry.Attempt(ctx, assignment.PRID, func(ctx context.Context) error {
		_, err := a.hooks.DoWork(ctx, assignment)
		return err
	})
	if err != nil {
		a.logger.Warn("retry exhausted", zap.String("pr_id", assignment.PRID), zap.Error(err))
	}
}

func (a *Agent) returnToIdle() {
	a.mu.Lock()
	a.lifecycle = types.AgentIdle
	a.assignedPR = ""
	a.mu.Unlock()
}

func (a *Agent) setLifecycle(l types.AgentLifecycle) {
	a.mu.Lock()
	a.lifecycle = l
	a.mu.Unlock()
}

// Lifecycle returns the agent's current lifecycle state.
func (a *Agent) Lifecycle() types.AgentLifecycle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lifecycle
}

func (a *Agent) publishRegistration(ctx context.Context) error {
	return a.bus.Publish(ctx, bus.ChannelHubMessages, bus.Envelope{
		Type:    bus.TypeRegistration,
		AgentID: a.cfg.AgentID,
		Payload: map[string]string{
			"type":           string(a.cfg.Type),
			"max_complexity": strconv.Itoa(a.cfg.Capabilities.MaxComplexity),
			"preferred_tier": a.cfg.Capabilities.PreferredTier,
		},
	})
}

// sendHeartbeat publishes the periodic heartbeat and runs the agent's
// own voluntary-shutdown self-check: the hub-side sweep is
// authoritative for crash detection, but an agent that notices its own
// heartbeats have gone unacknowledged for too long logs and shuts
// itself down rather than spin silently.
func (a *Agent) sendHeartbeat(ctx context.Context) {
	a.mu.Lock()
	state := a.lifecycle
	assignedPR := a.assignedPR
	a.lastSent = a.clk.Now()
	a.mu.Unlock()

	var memMB uint64
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	memMB = ms.Alloc / (1024 * 1024)

	err := a.bus.Publish(ctx, bus.ChannelHubMessages, bus.Envelope{
		Type:    bus.TypeHeartbeat,
		AgentID: a.cfg.AgentID,
		PRID:    assignedPR,
		Payload: map[string]string{
			"state":     string(state),
			"memory_mb": strconv.FormatUint(memMB, 10),
			"ts":        strconv.FormatInt(a.clk.Now().Unix(), 10),
		},
	})
	if err != nil {
		a.mu.Lock()
		a.missedCount++
		missed := a.missedCount
		lastAck := a.lastAck
		a.mu.Unlock()
		a.logger.Warn("heartbeat publish failed", zap.Int("missed_count", missed), zap.Error(err))
		if !lastAck.IsZero() && a.clk.Now().Sub(lastAck) > a.cfg.HeartbeatTimeout {
			a.logger.Error("heartbeat unacknowledged past timeout, shutting down voluntarily")
			a.setLifecycle(types.AgentShuttingDown)
		}
		return
	}

	a.mu.Lock()
	a.lastAck = a.clk.Now()
	a.missedCount = 0
	a.mu.Unlock()
}

func (a *Agent) publishComplete(ctx context.Context, prID string, result Result) {
	if err := a.bus.Publish(ctx, bus.ChannelHubMessages, bus.Envelope{
		Type:    bus.TypeCompleted,
		AgentID: a.cfg.AgentID,
		PRID:    prID,
		Payload: map[string]string{"result": result.Summary},
	}); err != nil {
		a.logger.Warn("publish complete failed", zap.String("pr_id", prID), zap.Error(err))
	}
}

func (a *Agent) publishFailed(ctx context.Context, prID string, category Category, recoverable bool, message string) {
	if err := a.bus.Publish(ctx, bus.ChannelHubMessages, bus.Envelope{
		Type:    bus.TypeFailed,
		AgentID: a.cfg.AgentID,
		PRID:    prID,
		Payload: map[string]string{
			"category":    string(category),
			"recoverable": strconv.FormatBool(recoverable),
			"message":     message,
		},
	}); err != nil {
		a.logger.Warn("publish failed envelope failed", zap.String("pr_id", prID), zap.Error(err))
	}
}
