package main

import (
	"fmt"
	"os"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitFailure)
	}

	switch os.Args[1] {
	case "start":
		os.Exit(runStart(os.Args[2:]))
	case "stop":
		os.Exit(runStop(os.Args[2:]))
	case "status":
		os.Exit(runStatus(os.Args[2:]))
	case "restart":
		os.Exit(runRestart(os.Args[2:]))
	case "run":
		os.Exit(runRun(os.Args[2:]))
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(ExitFailure)
	}
}

func printVersion() {
	fmt.Printf("hub %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`hub - agent orchestration daemon

Usage:
  hub <command> [options]

Commands:
  start     Start the hub daemon
  stop      Stop the running daemon
  status    Report daemon/agent/PR status
  restart   Stop then start
  run       Dispatch one PR or all available work and exit
  migrate   Audit database migration commands
  version   Show version information
  help      Show this help message

Options for 'start':
  --config PATH      Path to configuration file (YAML)
  --foreground       Run in the current process instead of daemonizing
  --verbose          Force debug-level logging

Options for 'stop':
  --force            Skip the graceful window, kill immediately
  --timeout MS       Graceful shutdown deadline (default from config)

Options for 'status':
  --json             Emit machine-readable JSON

Options for 'run':
  --watch            Keep printing progress until all work completes
  --dry-run          Report the schedule without dispatching it

Exit codes:
  0   success
  1   generic failure
  2   not running
  3   already running
  130 interrupted (SIGINT)

Examples:
  hub start --config /etc/hub/hub.yaml
  hub status --json
  hub run PR-001
  hub migrate up`)
}
