// Package audit is the durable, gorm-backed transition-history sink
// named by SPEC_FULL.md's audit row. It implements
// internal/statemachine.Sink, so every validated PR/agent transition
// is additionally appended to a SQL table once attached via
// PRMachine.SetSink/AgentMachine.SetSink — purely additive, never the
// source of truth for InvalidTransition enumeration, which remains the
// bounded in-memory history in internal/statemachine.
package audit
