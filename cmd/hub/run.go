package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/taskhub/hub/internal/bus"
	"github.com/taskhub/hub/internal/conflict"
	"github.com/taskhub/hub/internal/scheduler"
	"github.com/taskhub/hub/types"
)

// runRun implements `hub run [pr_id] [--watch] [--dry-run]`: it talks
// to a freshly-hydrated hub directly (not through the status API,
// which is read-only) and either reports the schedule a dry run would
// produce, or dispatches real work and prints a ✓/✗ line per PR as it
// resolves, aggregating the final exit code per spec §7.
func runRun(args []string) int {
	fs, configPath := newFlagSet("run")
	watch := fs.Bool("watch", false, "Keep printing progress until all work completes")
	dryRun := fs.Bool("dry-run", false, "Report the schedule without dispatching it")
	if err := fs.Parse(args); err != nil {
		return ExitFailure
	}
	var targetPR string
	if fs.NArg() > 0 {
		targetPR = fs.Arg(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return ExitFailure
	}

	logger := initLogger(cfg.Log, false)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build hub: %v\n", err)
		return ExitFailure
	}
	defer a.shutdown(context.Background())

	manifestDoc, err := os.ReadFile(cfg.Hub.ManifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read manifest: %v\n", err)
		return ExitFailure
	}
	if err := a.h.Hydrate(ctx, string(manifestDoc)); err != nil {
		fmt.Fprintf(os.Stderr, "hydrate manifest: %v\n", err)
		return ExitFailure
	}

	if *dryRun {
		return reportDryRun(a)
	}

	return dispatchAndWait(ctx, a, targetPR, *watch)
}

// reportDryRun runs the MIS scheduler once over whatever is currently
// available and prints the selection without touching any state,
// mirroring the scheduler's own selected/blocked vocabulary (spec §8
// scenario 1).
func reportDryRun(a *app) int {
	available := a.h.Available()
	result := scheduler.Schedule(available, nil, len(available))

	for _, n := range result.Selected {
		fmt.Printf("would dispatch %s (priority=%s, complexity=%d)\n", n.PR.ID, n.PR.Priority, n.PR.Complexity.Score)
	}
	for _, b := range result.Blocked {
		fmt.Printf("blocked: %s (%s)\n", b.Node.PR.ID, strings.Join(b.Reasons, ", "))
	}
	fmt.Printf("density=%.2f\n", conflict.Density(available))
	return ExitOK
}

// dispatchAndWait starts the real control loop and watches the bus
// for completion/failure envelopes, printing a line per resolved PR.
// Without --watch and without a specific pr_id, it stops once no PR
// remains in a state that could still become schedulable.
func dispatchAndWait(ctx context.Context, a *app, targetPR string, watch bool) int {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runDone := make(chan error, 1)
	go func() { runDone <- a.h.Run(runCtx) }()

	type outcome struct {
		prID string
		ok   bool
	}
	results := make(chan outcome, 64)

	unsub, err := a.b.Subscribe(ctx, bus.ChannelHubMessages, func(env bus.Envelope) {
		switch env.Type {
		case bus.TypeCompleted:
			results <- outcome{prID: env.PRID, ok: true}
		case bus.TypeFailed:
			results <- outcome{prID: env.PRID, ok: false}
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "subscribe: %v\n", err)
		cancelRun()
		return ExitFailure
	}
	defer unsub()

	var succeeded, failed int
	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case o := <-results:
			if targetPR != "" && o.prID != targetPR {
				continue
			}
			if o.ok {
				fmt.Printf("✓ %s\n", o.prID)
				succeeded++
			} else {
				fmt.Printf("✗ %s\n", o.prID)
				failed++
			}
			if targetPR != "" {
				cancelRun()
			}
		case <-poll.C:
			if !watch && targetPR == "" && allSettled(a) {
				cancelRun()
			}
		case <-ctx.Done():
			cancelRun()
		case <-runDone:
			fmt.Printf("%d succeeded, %d failed\n", succeeded, failed)
			if failed > 0 {
				return ExitFailure
			}
			if ctx.Err() != nil {
				return ExitInterrupted
			}
			return ExitOK
		}
	}
}

// allSettled reports whether every known PR has left the states that
// could still produce new work (new/ready/planned): nothing left to
// wait for in a one-shot, no-target invocation.
func allSettled(a *app) bool {
	for _, pr := range a.h.PRs() {
		switch pr.ColdState {
		case types.ColdNew, types.ColdReady, types.ColdPlanned:
			return false
		}
	}
	return true
}
