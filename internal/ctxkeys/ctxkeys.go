// Package ctxkeys holds the small set of typed context keys shared
// across the hub's request-scoped plumbing (logging fields, tracing,
// status-server handlers).
package ctxkeys

import "context"

type contextKey string

const (
	traceIDKey       contextKey = "trace_id"
	agentIDKey       contextKey = "agent_id"
	prIDKey          contextKey = "pr_id"
	correlationIDKey contextKey = "correlation_id"
)

// WithTraceID attaches a trace id, propagated into every log line and
// span a request-scoped operation produces.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID retrieves the trace id set by WithTraceID, if any.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithAgentID attaches the agent id an operation is being performed
// on behalf of.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// AgentID retrieves the agent id set by WithAgentID, if any.
func AgentID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(agentIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithPRID attaches the PR id an operation is being performed on
// behalf of.
func WithPRID(ctx context.Context, prID string) context.Context {
	return context.WithValue(ctx, prIDKey, prID)
}

// PRID retrieves the PR id set by WithPRID, if any.
func PRID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(prIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithCorrelationID attaches a bus request/response correlation id,
// distinct from TraceID since one trace may span several correlated
// requests.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationID retrieves the correlation id set by WithCorrelationID,
// if any.
func CorrelationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(correlationIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
