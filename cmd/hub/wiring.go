package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/taskhub/hub/config"
	"github.com/taskhub/hub/internal/assignment"
	"github.com/taskhub/hub/internal/audit"
	"github.com/taskhub/hub/internal/bus"
	"github.com/taskhub/hub/internal/clock"
	"github.com/taskhub/hub/internal/hub"
	"github.com/taskhub/hub/internal/kvstore"
	"github.com/taskhub/hub/internal/lease"
	"github.com/taskhub/hub/internal/metrics"
	"github.com/taskhub/hub/internal/registry"
	"github.com/taskhub/hub/internal/statemachine"
	"github.com/taskhub/hub/internal/statusserver"
	"github.com/taskhub/hub/internal/supervisor"
	hubsync "github.com/taskhub/hub/internal/sync"
	"github.com/taskhub/hub/internal/telemetry"
)

// app bundles every top-level object main and the subcommands need to
// shut down in reverse wiring order.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     kvstore.Store
	b         *bus.Bus
	h         *hub.Hub
	auditDB   *audit.Store
	telemetry *telemetry.Providers
	status    *statusserver.Manager
}

// buildApp wires every leaf package into a runnable Hub, following the
// construction order internal/hub/hub_test.go's newTestHub establishes
// for the fake-backed test double: store, bus, registry (closing over
// a not-yet-built supervisor), supervisor, assignment, state machines,
// lease manager, synchronizer, metrics, then the Hub itself.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	clk := clock.New()

	store, err := kvstore.New(ctx, cfg.KV, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("connect kv store: %w", err)
	}

	b := bus.New(store, bus.DefaultConfig(), logger)

	heartbeatTimeout := time.Duration(cfg.Hub.HeartbeatTimeoutMS) * time.Millisecond
	heartbeatInterval := time.Duration(cfg.Hub.HeartbeatIntervalMS) * time.Millisecond

	// The registry needs a crashed-agent callback that calls into the
	// supervisor, but the supervisor needs the registry to exist
	// first. sup is populated below; the closure captures it by
	// reference so the forward call is safe by the time a sweep
	// actually fires one.
	var sup *supervisor.Supervisor
	reg := registry.New(store, clk, heartbeatTimeout, func(agentID string) {
		if sup != nil {
			sup.OnAgentCrashed(agentID)
		}
	}, logger)

	sup = supervisor.New(cfg.Supervisor, supervisor.Deps{
		Clock:               clk,
		Bus:                 b,
		Registry:            reg,
		Logger:              logger,
		KVURL:               cfg.KV.URL,
		HeartbeatIntervalMS: cfg.Hub.HeartbeatIntervalMS,
		HeartbeatTimeoutMS:  cfg.Hub.HeartbeatTimeoutMS,
	})

	assign := assignment.New(cfg.Assignment, b, clk, logger)

	prMachine := statemachine.NewPRMachine(clk)
	agentMachine := statemachine.NewAgentMachine(clk)

	var auditDB *audit.Store
	if cfg.Audit.Driver != "" {
		auditDB, err = audit.Open(cfg.Audit, logger)
		if err != nil {
			logger.Warn("audit store unavailable, transition history is in-memory only", zap.Error(err))
		} else {
			prMachine.SetSink(auditDB)
			agentMachine.SetSink(auditDB)
		}
	}

	// Lease TTL reuses the same crash-detection window as hot PR
	// state: both exist to release a crashed holder's claim promptly
	// without a dedicated config knob.
	leaseTTL := heartbeatInterval * time.Duration(cfg.Hub.HotStateTTLMultiplier)
	leases := lease.New(store, clk, leaseTTL, logger)

	synchronizer := hubsync.New(store, logger)

	collector := metrics.NewCollector("hub", logger)

	telemetryProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("telemetry unavailable", zap.Error(err))
	}

	h := hub.New(cfg.Hub, hub.Deps{
		Store:              store,
		Bus:                b,
		Clock:              clk,
		Signals:            clock.RealSignals{},
		Registry:           reg,
		Supervisor:         sup,
		Assignment:         assign,
		PRMachine:          prMachine,
		AgentMachine:       agentMachine,
		Leases:             leases,
		Synchronizer:       synchronizer,
		Metrics:            collector,
		Logger:             logger,
		AssignmentStrategy: cfg.Assignment.Strategy,
	})

	var statusMgr *statusserver.Manager
	if cfg.Status.Addr != "" {
		feed, _, ferr := statusserver.NewLiveFeed(ctx, b, logger)
		if ferr != nil {
			logger.Warn("status live feed unavailable", zap.Error(ferr))
		}
		handlers := statusserver.NewHandlers(h, feed, func() bool { return h.Cycles() > 0 }, logger)
		mux := http.NewServeMux()
		handlers.Mount(mux)
		chain := statusserver.Chain(mux,
			statusserver.Recovery(logger),
			statusserver.RequestID(),
			statusserver.AccessLog(logger),
			statusserver.SecurityHeaders(),
			statusserver.Metrics(collector),
			statusserver.JWTAuth(cfg.Status, []string{"/healthz", "/readyz", "/metrics"}, logger),
		)
		statusMgr = statusserver.NewManager(chain, cfg.Status, logger)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		b:         b,
		h:         h,
		auditDB:   auditDB,
		telemetry: telemetryProviders,
		status:    statusMgr,
	}, nil
}

// shutdown tears down every component buildApp constructed, in
// reverse order, logging but not aborting on individual failures so
// every component gets a chance to close.
func (a *app) shutdown(ctx context.Context) {
	if a.status != nil {
		if err := a.status.Shutdown(ctx); err != nil {
			a.logger.Warn("status server shutdown error", zap.Error(err))
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown error", zap.Error(err))
		}
	}
	if a.auditDB != nil {
		if err := a.auditDB.Close(); err != nil {
			a.logger.Warn("audit store close error", zap.Error(err))
		}
	}
}
