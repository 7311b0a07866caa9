package bus

import "fmt"

// Type discriminates the envelope payload shape. Every bus consumer
// matches on Type exhaustively; an unrecognized Type is logged and
// dropped rather than causing a panic on an `any` payload.
type Type string

const (
	TypeHeartbeat    Type = "heartbeat"
	TypeSpawned      Type = "spawned"
	TypeRegistration Type = "registration"
	TypeProgress     Type = "progress"
	TypeAssignment   Type = "assignment"
	TypeCommand      Type = "command"
	TypeResponse     Type = "response"
	TypeFailed       Type = "failed"
	TypeCompleted    Type = "completed"
	TypeAgentCrash   Type = "agentCrashed"
	TypeRestartFail  Type = "restart_failed"
	TypeRequest      Type = "request"
)

// Envelope is the single payload shape carried over every bus channel.
type Envelope struct {
	Type          Type              `json:"type"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	AgentID       string            `json:"agent_id,omitempty"`
	PRID          string            `json:"pr_id,omitempty"`
	Payload       map[string]string `json:"payload,omitempty"`
}

// ChannelHubMessages is the fixed channel agents publish to and the
// hub subscribes on.
const ChannelHubMessages = "hub:messages"

// ChannelHubRequests is the fixed channel used for hub-addressed
// request/response exchanges.
const ChannelHubRequests = "hub:requests"

// ChannelAgentAssignments returns the single-receiver channel the hub
// uses to dispatch assignments to agentID.
func ChannelAgentAssignments(agentID string) string {
	return fmt.Sprintf("agent:%s:assignments", agentID)
}

// ChannelAgentCommands returns the single-receiver channel the hub
// uses to send control commands (e.g. shutdown) to agentID.
func ChannelAgentCommands(agentID string) string {
	return fmt.Sprintf("agent:%s:commands", agentID)
}

// ChannelAgentResponses returns the channel agentID publishes
// request/response replies on.
func ChannelAgentResponses(agentID string) string {
	return fmt.Sprintf("agent:%s:responses", agentID)
}
