package supervisor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/taskhub/hub/config"
	"github.com/taskhub/hub/internal/bus"
	"github.com/taskhub/hub/internal/clock"
	"github.com/taskhub/hub/internal/huberr"
	"github.com/taskhub/hub/internal/pool"
	"github.com/taskhub/hub/internal/registry"
	"github.com/taskhub/hub/types"
)

// Deps bundles the Supervisor's constructor dependencies.
type Deps struct {
	Launcher Launcher // nil uses the real execLauncher
	Clock    clock.Clock
	Bus      *bus.Bus
	Registry *registry.Registry
	Logger   *zap.Logger

	KVURL               string
	HeartbeatIntervalMS int64
	HeartbeatTimeoutMS  int64
	EntryPoints         map[types.AgentType]string
}

// process tracks one agent's live-or-restarting state.
type process struct {
	spec        ProcessSpec
	handle      ProcessHandle
	restarts    int
	terminating bool
}

// Supervisor spawns, monitors, and restarts agent processes per the
// configured budget and concurrency cap (spec §4.3).
type Supervisor struct {
	launcher Launcher
	clk      clock.Clock
	bus      *bus.Bus
	registry *registry.Registry
	logger   *zap.Logger
	cfg      config.SupervisorConfig

	kvURL               string
	heartbeatIntervalMS int64
	heartbeatTimeoutMS  int64

	mu           sync.Mutex
	processes    map[string]*process
	counters     map[types.AgentType]int
	shutdownPool *pool.GoroutinePool
}

// New builds a Supervisor. If deps.Launcher is nil, real OS child
// processes are forked via os/exec.
func New(cfg config.SupervisorConfig, deps Deps) *Supervisor {
	launcher := deps.Launcher
	if launcher == nil {
		launcher = newExecLauncher(deps.EntryPoints)
	}
	return &Supervisor{
		launcher:            launcher,
		clk:                 deps.Clock,
		bus:                 deps.Bus,
		registry:            deps.Registry,
		logger:              deps.Logger.With(zap.String("component", "supervisor")),
		cfg:                 cfg,
		kvURL:               deps.KVURL,
		heartbeatIntervalMS: deps.HeartbeatIntervalMS,
		heartbeatTimeoutMS:  deps.HeartbeatTimeoutMS,
		processes:           make(map[string]*process),
		counters:            make(map[types.AgentType]int),
		shutdownPool:        pool.NewGoroutinePool(shutdownPoolConfig(cfg.MaxConcurrentAgents)),
	}
}

// shutdownPoolConfig bounds ShutdownAll's fan-out to the same ceiling
// as live agent capacity; there is never a reason to run more
// concurrent terminations than the hub allows concurrent agents.
func shutdownPoolConfig(maxConcurrentAgents int) pool.GoroutinePoolConfig {
	cfg := pool.DefaultGoroutinePoolConfig()
	cfg.MaxWorkers = maxConcurrentAgents
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	cfg.QueueSize = cfg.MaxWorkers
	return cfg
}

// Spawn launches a new agent of typ, returning its allocated id.
func (s *Supervisor) Spawn(ctx context.Context, typ types.AgentType) (string, error) {
	s.mu.Lock()
	if len(s.processes) >= s.cfg.MaxConcurrentAgents {
		s.mu.Unlock()
		return "", huberr.New(huberr.ErrCapacityExceeded, fmt.Sprintf("at max concurrent agents (%d)", s.cfg.MaxConcurrentAgents))
	}
	s.counters[typ]++
	id := fmt.Sprintf("%s-agent-%d", typ, s.counters[typ])
	s.mu.Unlock()

	return id, s.spawnWithID(ctx, id, typ)
}

func (s *Supervisor) spawnWithID(ctx context.Context, id string, typ types.AgentType) error {
	spec := ProcessSpec{
		AgentID:             id,
		AgentType:           typ,
		KVURL:               s.kvURL,
		HeartbeatIntervalMS: s.heartbeatIntervalMS,
		HeartbeatTimeoutMS:  s.heartbeatTimeoutMS,
	}

	handle, err := s.launcher.Launch(ctx, spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.processes[id] = &process{spec: spec, handle: handle}
	s.mu.Unlock()

	if s.registry != nil {
		agent := &types.Agent{
			ID:            id,
			Type:          typ,
			PID:           handle.PID(),
			StartedAt:     s.clk.Now(),
			LastHeartbeat: s.clk.Now(),
			Lifecycle:     types.AgentInitializing,
		}
		if err := s.registry.Register(ctx, agent); err != nil {
			s.logger.Warn("registry mirror failed after spawn", zap.String("agent_id", id), zap.Error(err))
		}
	}

	if s.bus != nil {
		env := bus.Envelope{Type: bus.TypeSpawned, AgentID: id}
		if err := s.bus.Publish(ctx, bus.ChannelHubMessages, env); err != nil {
			s.logger.Warn("failed to publish spawned event", zap.String("agent_id", id), zap.Error(err))
		}
	}

	s.logger.Info("agent spawned", zap.String("agent_id", id), zap.String("type", string(typ)), zap.Int("pid", handle.PID()))

	go s.watch(context.Background(), id)
	return nil
}

// watch blocks until the process exits, then applies the restart policy.
func (s *Supervisor) watch(ctx context.Context, id string) {
	s.mu.Lock()
	p := s.processes[id]
	s.mu.Unlock()
	if p == nil {
		return
	}

	exitErr := <-p.handle.Done()

	s.mu.Lock()
	p, ok := s.processes[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	terminating := p.terminating
	delete(s.processes, id)
	s.mu.Unlock()

	if terminating {
		s.logger.Info("agent terminated", zap.String("agent_id", id))
		return
	}

	if exitErr == nil {
		s.logger.Info("agent exited cleanly", zap.String("agent_id", id))
		return
	}

	s.logger.Warn("agent exited unexpectedly", zap.String("agent_id", id), zap.Error(exitErr))
	s.restart(ctx, p)
}

// restart applies the auto-restart policy for a process that exited
// unexpectedly (or was flagged crashed by a heartbeat timeout).
func (s *Supervisor) restart(ctx context.Context, p *process) {
	if p.restarts >= s.cfg.RestartBudget {
		s.logger.Error("restart budget exhausted", zap.String("agent_id", p.spec.AgentID), zap.Int("restarts", p.restarts))
		if s.bus != nil {
			env := bus.Envelope{Type: bus.TypeRestartFail, AgentID: p.spec.AgentID}
			if err := s.bus.Publish(ctx, bus.ChannelHubMessages, env); err != nil {
				s.logger.Warn("failed to publish restart_failed event", zap.String("agent_id", p.spec.AgentID), zap.Error(err))
			}
		}
		return
	}

	restarts := p.restarts + 1
	s.clk.Sleep(s.cfg.RestartDelay)

	if err := s.spawnWithID(ctx, p.spec.AgentID, p.spec.AgentType); err != nil {
		s.logger.Error("respawn failed", zap.String("agent_id", p.spec.AgentID), zap.Error(err))
		return
	}

	s.mu.Lock()
	if np, ok := s.processes[p.spec.AgentID]; ok {
		np.restarts = restarts
	}
	s.mu.Unlock()
}

// OnAgentCrashed is the registry.CrashedHandler the hub wires in:
// a heartbeat-timeout crash with no corresponding process exit still
// needs the process killed and the restart policy applied.
func (s *Supervisor) OnAgentCrashed(agentID string) {
	s.mu.Lock()
	p, ok := s.processes[agentID]
	s.mu.Unlock()
	if !ok {
		return
	}

	s.logger.Warn("agent crashed (heartbeat timeout), killing process", zap.String("agent_id", agentID))
	if err := p.handle.Kill(); err != nil {
		s.logger.Warn("kill failed for crashed agent", zap.String("agent_id", agentID), zap.Error(err))
	}
	// watch() observes the exit from Done() and runs the restart policy.
}

// Terminate requests graceful shutdown of agentID, escalating to a
// force-kill if it outlives the configured shutdown timeout.
func (s *Supervisor) Terminate(ctx context.Context, agentID string) error {
	s.mu.Lock()
	p, ok := s.processes[agentID]
	if !ok {
		s.mu.Unlock()
		return huberr.New(huberr.ErrUnknownAgent, fmt.Sprintf("no live process for agent %q", agentID))
	}
	p.terminating = true
	s.mu.Unlock()

	if err := p.handle.Signal(); err != nil {
		s.logger.Warn("graceful signal failed, killing", zap.String("agent_id", agentID), zap.Error(err))
		_ = p.handle.Kill()
	}

	select {
	case <-p.handle.Done():
	case <-s.clk.After(s.cfg.ShutdownTimeout):
		s.logger.Warn("shutdown timeout exceeded, force-killing", zap.String("agent_id", agentID))
		_ = p.handle.Kill()
		<-p.handle.Done()
	}

	if s.registry != nil {
		if err := s.registry.Deregister(ctx, agentID); err != nil {
			s.logger.Warn("deregister failed", zap.String("agent_id", agentID), zap.Error(err))
		}
	}
	return nil
}

// ShutdownAll terminates every live agent concurrently.
func (s *Supervisor) ShutdownAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.processes))
	for id := range s.processes {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		agentID := id
		err := s.shutdownPool.Submit(ctx, func(ctx context.Context) error {
			defer wg.Done()
			if err := s.Terminate(ctx, agentID); err != nil {
				s.logger.Warn("shutdown_all: terminate failed", zap.String("agent_id", agentID), zap.Error(err))
			}
			return nil
		})
		if err != nil {
			wg.Done()
			s.logger.Warn("shutdown_all: pool rejected termination, running inline", zap.String("agent_id", agentID), zap.Error(err))
			if err := s.Terminate(ctx, agentID); err != nil {
				s.logger.Warn("shutdown_all: terminate failed", zap.String("agent_id", agentID), zap.Error(err))
			}
		}
	}
	wg.Wait()
}

// Live reports whether agentID currently has a tracked process.
func (s *Supervisor) Live(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processes[agentID]
	return ok
}

// Count returns the number of currently tracked processes.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processes)
}
