package types

import "time"

// Assignment is the message-bus payload matching a PR to an agent,
// produced by the assignment manager and consumed by exactly one
// agent.
type Assignment struct {
	PRID             string    `json:"pr_id"`
	AgentID          string    `json:"agent_id"`
	AssignedAt       time.Time `json:"assigned_at"`
	Priority         Priority  `json:"priority"`
	Complexity       int       `json:"complexity"`
	EstimatedMinutes int       `json:"estimated_duration"`
	Files            []string  `json:"files"`
}
