// Package metrics provides the hub's Prometheus metrics, covering the
// status server's HTTP surface, the scheduler, agent lifecycle and
// restarts, assignment decisions, PR lifecycle transitions, file
// leases, and the audit store's connection pool.
//
// Collector registers every metric through promauto at construction
// time, so callers never touch the default registry directly. All
// metrics are namespaced ("hub" in cmd/hub) and labeled for
// Grafana-style dashboards and alerting.
package metrics
