package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/taskhub/hub/config"
	"github.com/taskhub/hub/internal/tlsutil"
)

const daemonChildEnv = "HUB_DAEMON_CHILD"

// runStart implements `hub start`. Without --foreground it re-execs
// itself detached (Setsid, stdout/stderr redirected to hub.log under
// the work dir) and waits briefly for the child to claim the PID
// file; with --foreground (set by the user, or appended internally
// when daemonizing) it runs the server in the current process.
func runStart(args []string) int {
	fs, configPath := newFlagSet("start")
	foreground := fs.Bool("foreground", false, "Run in the current process instead of daemonizing")
	verbose := fs.Bool("verbose", false, "Force debug-level logging")
	if err := fs.Parse(args); err != nil {
		return ExitFailure
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return ExitFailure
	}

	if pid, alive := readPIDFile(cfg.Hub.WorkDir); alive {
		fmt.Printf("hub already running (pid %d)\n", pid)
		return ExitAlreadyRunning
	}

	if *foreground || os.Getenv(daemonChildEnv) == "1" {
		logger := initLogger(cfg.Log, *verbose)
		defer logger.Sync()
		return runForeground(cfg, logger)
	}

	return daemonize(cfg, *configPath, *verbose)
}

// runForeground is the actual server body: build every component,
// hydrate the manifest, claim the PID file, and block on the control
// loop until it returns (on ctx cancellation or an OS signal internal
// to hub.Run).
func runForeground(cfg *config.Config, logger *zap.Logger) int {
	if err := writePIDFile(cfg.Hub.WorkDir, os.Getpid()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return ExitAlreadyRunning
	}
	defer removePIDFile(cfg.Hub.WorkDir)

	ctx := context.Background()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build hub", zap.Error(err))
		return ExitFailure
	}
	defer a.shutdown(context.Background())

	manifestDoc, err := os.ReadFile(cfg.Hub.ManifestPath)
	if err != nil {
		logger.Error("failed to read manifest", zap.Error(err))
		return ExitFailure
	}
	if err := a.h.Hydrate(ctx, string(manifestDoc)); err != nil {
		logger.Error("failed to hydrate from manifest", zap.Error(err))
		return ExitFailure
	}

	if a.status != nil {
		if err := a.status.Start(); err != nil {
			logger.Warn("status server failed to start", zap.Error(err))
		}
	}

	logger.Info("hub started", zap.Int("pid", os.Getpid()), zap.String("work_dir", cfg.Hub.WorkDir))

	if err := a.h.Run(ctx); err != nil {
		logger.Error("hub control loop exited with error", zap.Error(err))
		return ExitFailure
	}
	logger.Info("hub stopped")
	return ExitOK
}

// daemonize spawns a detached copy of this binary with --foreground
// appended, redirects its output to hub.log, and waits up to a few
// seconds for it to claim the PID file before reporting success.
func daemonize(cfg *config.Config, configPath string, verbose bool) int {
	if err := os.MkdirAll(cfg.Hub.WorkDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create work dir: %v\n", err)
		return ExitFailure
	}

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve executable path: %v\n", err)
		return ExitFailure
	}

	logPath := filepath.Join(cfg.Hub.WorkDir, "hub.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
		return ExitFailure
	}
	defer logFile.Close()

	childArgs := []string{"start", "--foreground"}
	if configPath != "" {
		childArgs = append(childArgs, "--config", configPath)
	}
	if verbose {
		childArgs = append(childArgs, "--verbose")
	}

	cmd := exec.Command(exe, childArgs...)
	cmd.Env = append(os.Environ(), daemonChildEnv+"=1")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "start daemon: %v\n", err)
		return ExitFailure
	}
	// Release so the child survives this process exiting; the
	// terminal-attached parent is not the thing we track liveness of.
	_ = cmd.Process.Release()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pid, alive := readPIDFile(cfg.Hub.WorkDir); alive {
			fmt.Printf("hub started (pid %d)\n", pid)
			return ExitOK
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "hub did not report ready within 5s; check hub.log")
	return ExitFailure
}

// runStop implements `hub stop`.
func runStop(args []string) int {
	fs, configPath := newFlagSet("stop")
	force := fs.Bool("force", false, "Skip the graceful window, kill immediately")
	timeoutMS := fs.Int("timeout", 0, "Graceful shutdown deadline in milliseconds")
	if err := fs.Parse(args); err != nil {
		return ExitFailure
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return ExitFailure
	}

	pid, alive := readPIDFile(cfg.Hub.WorkDir)
	if !alive {
		fmt.Println("hub is not running")
		return ExitNotRunning
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "find process %d: %v\n", pid, err)
		return ExitFailure
	}

	timeout := cfg.Hub.ShutdownTimeout
	if *timeoutMS > 0 {
		timeout = time.Duration(*timeoutMS) * time.Millisecond
	}

	if *force {
		if err := proc.Signal(syscall.SIGKILL); err != nil {
			fmt.Fprintf(os.Stderr, "kill %d: %v\n", pid, err)
			return ExitFailure
		}
		removePIDFile(cfg.Hub.WorkDir)
		fmt.Println("hub stopped (forced)")
		return ExitOK
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "signal %d: %v\n", pid, err)
		return ExitFailure
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			removePIDFile(cfg.Hub.WorkDir)
			fmt.Println("hub stopped")
			return ExitOK
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(os.Stderr, "graceful shutdown timed out, force-killing")
	_ = proc.Signal(syscall.SIGKILL)
	removePIDFile(cfg.Hub.WorkDir)
	return ExitOK
}

// runRestart implements `hub restart`: stop (tolerating not-running),
// then start with the same flags.
func runRestart(args []string) int {
	fs, configPath := newFlagSet("restart")
	if err := fs.Parse(args); err != nil {
		return ExitFailure
	}

	stopArgs := []string{}
	if *configPath != "" {
		stopArgs = append(stopArgs, "--config", *configPath)
	}
	if code := runStop(stopArgs); code != ExitOK && code != ExitNotRunning {
		return code
	}
	return runStart(args)
}

// statusReport is the JSON shape for `hub status --json`.
type statusReport struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
	Ready   bool `json:"ready"`
}

// runStatus implements `hub status`. When the daemon is up it queries
// its own status API for readiness; agent/PR detail lives behind that
// same API (GET /api/v1/agents, /api/v1/prs) for a dashboard client to
// fetch directly, since duplicating that payload here would just be a
// second, divergent serializer for the same data.
func runStatus(args []string) int {
	fs, configPath := newFlagSet("status")
	asJSON := fs.Bool("json", false, "Emit machine-readable JSON")
	if err := fs.Parse(args); err != nil {
		return ExitFailure
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return ExitFailure
	}

	report := statusReport{}
	pid, alive := readPIDFile(cfg.Hub.WorkDir)
	report.Running = alive
	report.PID = pid

	if alive && cfg.Status.Addr != "" {
		tlsEnabled := cfg.Status.TLSCertFile != "" && cfg.Status.TLSKeyFile != ""
		report.Ready = probeReady(cfg.Status.Addr, tlsEnabled)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(report)
	} else if report.Running {
		fmt.Printf("hub is running (pid %d, ready=%v)\n", report.PID, report.Ready)
	} else {
		fmt.Println("hub is not running")
	}

	if !report.Running {
		return ExitNotRunning
	}
	return ExitOK
}

// probeReady checks the status server's /readyz endpoint. When the
// status server is TLS-enabled, the probe uses tlsutil's hardened
// client instead of the bare http.Client the plaintext path is fine
// with.
func probeReady(addr string, tlsEnabled bool) bool {
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}

	scheme := "http://"
	client := &http.Client{Timeout: 2 * time.Second}
	if tlsEnabled {
		scheme = "https://"
		client = tlsutil.SecureHTTPClient(2 * time.Second)
	}

	resp, err := client.Get(scheme + host + "/readyz")
	if err != nil {
		return false
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	return resp.StatusCode == http.StatusOK
}
