// Command agent is the single binary behind every
// taskhub-agent-{planning,worker,qc,review} entry point
// internal/supervisor/launcher.go names. It reads the fixed
// environment spec §4.3 defines (AGENT_ID, AGENT_TYPE, KV_URL,
// HEARTBEAT_INTERVAL_MS, HEARTBEAT_TIMEOUT_MS), builds a pkg/agentsdk
// Agent, and supplies the two domain hooks the base runtime leaves to
// the subclass.
//
// do_work's actual domain logic (LLM-driven planning, code
// generation, QA, review) is explicitly out of scope here: the
// LLM provider adapters are "inputs" the scheduler consumes their
// output from, not something this daemon implements. What this binary
// provides is the adapter shape: do_work shells out to an
// externally-supplied command (AGENT_WORK_CMD) and reports its result,
// so any concrete planning/worker/qc/review implementation can be
// dropped in without touching the supervisor, bus, or lifecycle code.
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/taskhub/hub/config"
	"github.com/taskhub/hub/internal/bus"
	"github.com/taskhub/hub/internal/clock"
	"github.com/taskhub/hub/internal/kvstore"
	"github.com/taskhub/hub/pkg/agentsdk"
	"github.com/taskhub/hub/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	agentID := os.Getenv("AGENT_ID")
	agentType := types.AgentType(os.Getenv("AGENT_TYPE"))
	kvURL := os.Getenv("KV_URL")

	if agentID == "" || agentType == "" || kvURL == "" {
		fmt.Fprintln(os.Stderr, "agent: AGENT_ID, AGENT_TYPE, and KV_URL must be set")
		return 1
	}

	heartbeatInterval := envDurationMS("HEARTBEAT_INTERVAL_MS", 30*time.Second)
	heartbeatTimeout := envDurationMS("HEARTBEAT_TIMEOUT_MS", 90*time.Second)

	logger := buildLogger(agentID)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.New()
	store, err := kvstore.New(ctx, config.KVConfig{URL: kvURL}, clk, logger)
	if err != nil {
		logger.Error("connect kv store", zap.Error(err))
		return 1
	}

	b := bus.New(store, bus.DefaultConfig(), logger)

	hooks := &shellHooks{
		workCmd: os.Getenv("AGENT_WORK_CMD"),
		logger:  logger,
	}

	a := agentsdk.New(agentsdk.Config{
		AgentID:           agentID,
		Type:              agentType,
		Capabilities:      capabilitiesFor(agentType),
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
	}, b, clk, hooks, logger)

	if err := a.Run(ctx); err != nil {
		logger.Error("agent exited with error", zap.Error(err))
		return 1
	}
	return 0
}

func envDurationMS(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// capabilitiesFor gives each agent type a sane default ceiling; an
// operator overrides it by wrapping this binary and constructing
// agentsdk.Config directly if a deployment needs something finer.
func capabilitiesFor(t types.AgentType) types.Capabilities {
	switch t {
	case types.AgentPlanning:
		return types.Capabilities{MaxComplexity: 10, PreferredTier: "planning"}
	case types.AgentWorker:
		return types.Capabilities{MaxComplexity: 8, PreferredTier: "worker"}
	case types.AgentQC:
		return types.Capabilities{MaxComplexity: 6, PreferredTier: "qc"}
	case types.AgentReview:
		return types.Capabilities{MaxComplexity: 6, PreferredTier: "review"}
	default:
		return types.Capabilities{MaxComplexity: 5}
	}
}

func buildLogger(agentID string) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	logger, err := zapCfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger.With(zap.String("agent_id", agentID))
}

// shellHooks implements agentsdk.Hooks by shelling out to workCmd with
// the PR id as its sole argument. Exit code 0 is success; the
// command's combined stdout/stderr, truncated, becomes the failure
// message on a non-zero exit. do_work's idempotence requirement (spec
// §4.10) is the external command's responsibility: it must be safe to
// invoke again for the same pr_id.
type shellHooks struct {
	workCmd string
	logger  *zap.Logger
}

func (h *shellHooks) ValidateAssignment(a agentsdk.Assignment) bool {
	return a.PRID != ""
}

func (h *shellHooks) DoWork(ctx context.Context, a agentsdk.Assignment) (agentsdk.Result, error) {
	if h.workCmd == "" {
		h.logger.Warn("AGENT_WORK_CMD unset, reporting assignment complete without doing work", zap.String("pr_id", a.PRID))
		return agentsdk.Result{Summary: "no-op: AGENT_WORK_CMD not configured"}, nil
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, h.workCmd, a.PRID)
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return agentsdk.Result{}, fmt.Errorf("%s %s: %w: %s", h.workCmd, a.PRID, err, truncate(out.String(), 2000))
	}
	return agentsdk.Result{Summary: truncate(out.String(), 2000)}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
