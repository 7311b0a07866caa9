// Package metrics provides the hub's Prometheus collectors.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds every Prometheus metric the hub exposes, grouped by
// the subsystem that records them.
type Collector struct {
	// status server HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// scheduler metrics
	schedulerCyclesTotal   *prometheus.CounterVec
	schedulerCycleDuration prometheus.Histogram
	schedulerSelectedSize  prometheus.Histogram
	schedulerConflictDensity prometheus.Histogram

	// agent lifecycle metrics
	agentSpawnsTotal      *prometheus.CounterVec
	agentRestartsTotal    *prometheus.CounterVec
	agentStateTransitions *prometheus.CounterVec

	// assignment metrics
	assignmentsTotal    *prometheus.CounterVec
	assignmentWaitTime  *prometheus.HistogramVec
	prStateTransitions  *prometheus.CounterVec

	// lease metrics
	leaseAcquiresTotal *prometheus.CounterVec
	leaseConflicts     *prometheus.CounterVec

	// audit store (gorm) metrics
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewCollector registers every hub metric under namespace (cmd/hub
// passes "hub") and returns a Collector ready for use.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of status server HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Status server HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.schedulerCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_cycles_total",
			Help:      "Total number of scheduling cycles run",
		},
		[]string{"result"}, // result: selected, empty
	)

	c.schedulerCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_cycle_duration_seconds",
			Help:      "Time to build the ready set and run MIS selection",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	c.schedulerSelectedSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_selected_prs",
			Help:      "Number of PRs selected by a scheduling cycle",
			Buckets:   prometheus.LinearBuckets(0, 2, 10),
		},
	)

	c.schedulerConflictDensity = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_conflict_density",
			Help:      "Fraction of ready-PR pairs that conflict on files, per cycle",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	c.agentSpawnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_spawns_total",
			Help:      "Total number of agent processes spawned",
		},
		[]string{"agent_type", "result"},
	)

	c.agentRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_restarts_total",
			Help:      "Total number of supervisor-initiated agent restarts",
		},
		[]string{"agent_type", "reason"}, // reason: crash, heartbeat_timeout
	)

	c.agentStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_state_transitions_total",
			Help:      "Total number of agent lifecycle state transitions",
		},
		[]string{"agent_id", "from_state", "to_state"},
	)

	c.assignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_total",
			Help:      "Total number of PR assignments made",
		},
		[]string{"agent_type", "strategy"},
	)

	c.assignmentWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assignment_wait_seconds",
			Help:      "Time a PR spent ready before being assigned",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		},
		[]string{"agent_type"},
	)

	c.prStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pr_state_transitions_total",
			Help:      "Total number of PR lifecycle state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.leaseAcquiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_acquires_total",
			Help:      "Total number of file lease acquisition attempts",
		},
		[]string{"result"}, // result: granted, reacquired, conflict
	)

	c.leaseConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_conflicts_total",
			Help:      "Total number of file lease conflicts detected",
		},
		[]string{"agent_type"},
	)

	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open audit store database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle audit store database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Audit store query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records a status server HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordSchedulerCycle records one scheduling cycle's outcome.
func (c *Collector) RecordSchedulerCycle(selected int, conflictDensity float64, duration time.Duration) {
	result := "selected"
	if selected == 0 {
		result = "empty"
	}
	c.schedulerCyclesTotal.WithLabelValues(result).Inc()
	c.schedulerCycleDuration.Observe(duration.Seconds())
	c.schedulerSelectedSize.Observe(float64(selected))
	c.schedulerConflictDensity.Observe(conflictDensity)
}

// RecordAgentSpawn records a supervisor spawn attempt.
func (c *Collector) RecordAgentSpawn(agentType, result string) {
	c.agentSpawnsTotal.WithLabelValues(agentType, result).Inc()
}

// RecordAgentRestart records a supervisor-initiated restart.
func (c *Collector) RecordAgentRestart(agentType, reason string) {
	c.agentRestartsTotal.WithLabelValues(agentType, reason).Inc()
}

// RecordAgentStateTransition records an agent lifecycle transition.
func (c *Collector) RecordAgentStateTransition(agentID, fromState, toState string) {
	c.agentStateTransitions.WithLabelValues(agentID, fromState, toState).Inc()
}

// RecordAssignment records a completed assignment decision.
func (c *Collector) RecordAssignment(agentType, strategy string, waitTime time.Duration) {
	c.assignmentsTotal.WithLabelValues(agentType, strategy).Inc()
	c.assignmentWaitTime.WithLabelValues(agentType).Observe(waitTime.Seconds())
}

// RecordPRStateTransition records a PR lifecycle transition.
func (c *Collector) RecordPRStateTransition(fromState, toState string) {
	c.prStateTransitions.WithLabelValues(fromState, toState).Inc()
}

// RecordLeaseAcquire records the outcome of a lease acquisition attempt.
func (c *Collector) RecordLeaseAcquire(result string) {
	c.leaseAcquiresTotal.WithLabelValues(result).Inc()
}

// RecordLeaseConflict records a lease conflict for agentType.
func (c *Collector) RecordLeaseConflict(agentType string) {
	c.leaseConflicts.WithLabelValues(agentType).Inc()
}

// RecordDBConnections records the audit store's current pool occupancy.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery records one audit store query's duration.
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// statusCode buckets an HTTP status code into its class, keeping
// cardinality bounded regardless of how many distinct codes are seen.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
