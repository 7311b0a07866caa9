// Package statusserver exposes the hub's read-only status HTTP+WS
// surface consumed by the out-of-scope CLI/dashboard: agent
// and PR snapshots, lease state, Prometheus metrics, and a websocket
// feed of bus envelopes. It depends only on the Provider interface, so
// the hub orchestrator (internal/hub) can implement it without this
// package importing back into internal/hub.
package statusserver
