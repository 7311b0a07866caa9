package statusserver

import (
	"context"

	"github.com/taskhub/hub/types"
)

// Provider is the read-only view of hub state that handlers render.
// It is implemented by the hub orchestrator; defining it here (rather
// than importing the orchestrator package) keeps internal/statusserver
// a leaf package with no dependency on internal/hub.
type Provider interface {
	// Agents returns every agent the registry currently holds; an
	// agent is no longer listed once it has been deregistered.
	Agents() []*types.Agent
	// Agent returns one agent by id, or nil if unknown.
	Agent(id string) *types.Agent

	// PRs returns every PR node's current state.
	PRs() []types.PR
	// PR returns one PR by id, or the zero value and false if unknown.
	PR(id string) (types.PR, bool)

	// Leases returns every currently-held file lease.
	Leases(ctx context.Context) ([]*types.Lease, error)

	// SchedulerCycles reports how many scheduling cycles have run,
	// for the /readyz response.
	SchedulerCycles() int64
}
