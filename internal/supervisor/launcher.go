package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/taskhub/hub/types"
)

// ProcessSpec describes the child process to launch for one agent.
type ProcessSpec struct {
	AgentID             string
	AgentType           types.AgentType
	KVURL               string
	HeartbeatIntervalMS int64
	HeartbeatTimeoutMS  int64
}

// Env renders spec as the fixed environment variable set spec §4.3
// requires every agent entry point to receive.
func (s ProcessSpec) Env() []string {
	return []string{
		fmt.Sprintf("AGENT_ID=%s", s.AgentID),
		fmt.Sprintf("AGENT_TYPE=%s", s.AgentType),
		fmt.Sprintf("KV_URL=%s", s.KVURL),
		fmt.Sprintf("HEARTBEAT_INTERVAL_MS=%d", s.HeartbeatIntervalMS),
		fmt.Sprintf("HEARTBEAT_TIMEOUT_MS=%d", s.HeartbeatTimeoutMS),
	}
}

// ProcessHandle is a live or exited child process.
type ProcessHandle interface {
	PID() int
	// Done fires exactly once with the process's exit error (nil for a
	// clean exit).
	Done() <-chan error
	// Signal requests graceful shutdown.
	Signal() error
	// Kill forces termination.
	Kill() error
}

// Launcher creates child processes. Production code uses execLauncher;
// tests substitute a fake to avoid forking real processes.
type Launcher interface {
	Launch(ctx context.Context, spec ProcessSpec) (ProcessHandle, error)
}

// entryPoints is the fixed table of one binary per agent type spec
// §4.3 calls for. newExecLauncher's overrides map replaces entries per
// agent type, for deployments that install the agent binaries elsewhere.
var entryPoints = map[types.AgentType]string{
	types.AgentPlanning: "taskhub-agent-planning",
	types.AgentWorker:   "taskhub-agent-worker",
	types.AgentQC:       "taskhub-agent-qc",
	types.AgentReview:   "taskhub-agent-review",
}

// execLauncher launches real OS child processes via os/exec.
type execLauncher struct {
	entryPoints map[types.AgentType]string
}

func newExecLauncher(overrides map[types.AgentType]string) *execLauncher {
	table := make(map[types.AgentType]string, len(entryPoints))
	for k, v := range entryPoints {
		table[k] = v
	}
	for k, v := range overrides {
		table[k] = v
	}
	return &execLauncher{entryPoints: table}
}

func (l *execLauncher) Launch(ctx context.Context, spec ProcessSpec) (ProcessHandle, error) {
	entry, ok := l.entryPoints[spec.AgentType]
	if !ok {
		return nil, fmt.Errorf("no entry point registered for agent type %q", spec.AgentType)
	}

	cmd := exec.CommandContext(ctx, entry)
	cmd.Env = append(os.Environ(), spec.Env()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch %s: %w", spec.AgentID, err)
	}

	h := &execHandle{cmd: cmd, done: make(chan error, 1)}
	go func() {
		h.done <- cmd.Wait()
	}()
	return h, nil
}

type execHandle struct {
	cmd  *exec.Cmd
	done chan error

	mu     sync.Mutex
	killed bool
}

func (h *execHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Done() <-chan error {
	return h.done
}

func (h *execHandle) Signal() error {
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

func (h *execHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.killed {
		return nil
	}
	h.killed = true
	return h.cmd.Process.Kill()
}
