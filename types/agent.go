package types

import "time"

// AgentType selects which PRs an agent is eligible to receive, per the
// assignment manager's compatibility table.
type AgentType string

const (
	AgentPlanning AgentType = "planning"
	AgentWorker   AgentType = "worker"
	AgentQC       AgentType = "qc"
	AgentReview   AgentType = "review"
)

// AgentLifecycle is the agent-side state machine, distinct from a PR's
// hot/cold state.
type AgentLifecycle string

const (
	AgentInitializing  AgentLifecycle = "initializing"
	AgentIdle          AgentLifecycle = "idle"
	AgentWorking       AgentLifecycle = "working"
	AgentCompleting    AgentLifecycle = "completing"
	AgentFailed        AgentLifecycle = "failed"
	AgentShuttingDown  AgentLifecycle = "shutting_down"
	AgentStopped       AgentLifecycle = "stopped"
)

// Capabilities advertises what an agent process can take on.
type Capabilities struct {
	MaxComplexity int    `json:"max_complexity"`
	PreferredTier string `json:"preferred_tier,omitempty"`
}

// Agent is the registry's record for one live or recently-live agent
// process.
type Agent struct {
	ID            string         `json:"id"`
	Type          AgentType      `json:"type"`
	PID           int            `json:"pid"`
	StartedAt     time.Time      `json:"started_at"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	Capabilities  Capabilities   `json:"capabilities"`
	AssignedPR    string         `json:"assigned_pr,omitempty"`
	Lifecycle     AgentLifecycle `json:"lifecycle"`
}

// IsIdle reports whether a is available to receive a new assignment.
func (a *Agent) IsIdle() bool {
	return a.Lifecycle == AgentIdle && a.AssignedPR == ""
}

// eligibleAgentTypes maps a PR's cold state to the agent types allowed
// to work on it, per the assignment manager's fixed compatibility
// table (spec §4.8).
var eligibleAgentTypes = map[ColdState][]AgentType{
	ColdNew:       {AgentPlanning},
	ColdReady:     {AgentPlanning},
	ColdPlanned:   {AgentWorker},
	ColdBroken:    {AgentWorker},
	ColdCompleted: {AgentQC},
	ColdApproved:  {AgentReview},
}

// EligibleAgentTypes returns the agent types compatible with cold, or
// nil if no agent type is ever eligible for that state (e.g. blocked).
func EligibleAgentTypes(cold ColdState) []AgentType {
	return eligibleAgentTypes[cold]
}

// Compatible reports whether typ may be assigned a PR in cold state.
func Compatible(typ AgentType, cold ColdState) bool {
	for _, t := range eligibleAgentTypes[cold] {
		if t == typ {
			return true
		}
	}
	return false
}
