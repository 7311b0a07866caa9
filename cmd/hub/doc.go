// Command hub is the daemon entrypoint: it loads configuration, wires
// every leaf package into an internal/hub.Hub, and exposes the
// process-management surface spec §6 names (start, stop, status,
// restart, run) plus the audit schema's migrate subcommand.
//
// Usage:
//
//	hub start [--config PATH] [--foreground] [--verbose]
//	hub stop [--force] [--timeout MS]
//	hub status [--json]
//	hub restart [--config PATH]
//	hub run [pr_id] [--watch] [--dry-run]
//	hub migrate <up|down|status|version|goto|force|reset>
//	hub version
package main
