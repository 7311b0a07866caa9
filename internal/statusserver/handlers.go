package statusserver

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/taskhub/hub/internal/huberr"
)

// Handlers serves the status API's read-only endpoints over a
// Provider. It never mutates hub state; the control surface (start,
// stop, restart) lives on the hub CLI, not this HTTP API.
type Handlers struct {
	provider Provider
	feed     *LiveFeed
	logger   *zap.Logger
	started  func() bool
}

// NewHandlers builds a Handlers bound to provider. started reports
// whether the hub has completed boot, for /readyz. feed may be nil, in
// which case /api/v1/live is not registered.
func NewHandlers(provider Provider, feed *LiveFeed, started func() bool, logger *zap.Logger) *Handlers {
	return &Handlers{provider: provider, feed: feed, logger: logger, started: started}
}

// Mount registers every route on mux.
func (h *Handlers) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /readyz", h.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/agents", h.handleAgents)
	mux.HandleFunc("GET /api/v1/agents/{id}", h.handleAgent)
	mux.HandleFunc("GET /api/v1/prs", h.handlePRs)
	mux.HandleFunc("GET /api/v1/prs/{id}", h.handlePR)
	mux.HandleFunc("GET /api/v1/assignments", h.handleAssignments)
	mux.HandleFunc("GET /api/v1/leases", h.handleLeases)

	if h.feed != nil {
		mux.Handle("GET /api/v1/live", h.feed)
	}
}

func (h *Handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]string{"status": "ok"})
}

func (h *Handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if h.started != nil && !h.started() {
		WriteErrorMessage(w, http.StatusServiceUnavailable, "NOT_READY", "hub has not completed boot", h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"status":           "ready",
		"scheduler_cycles": h.provider.SchedulerCycles(),
	})
}

func (h *Handlers) handleAgents(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.provider.Agents())
}

func (h *Handlers) handleAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	agent := h.provider.Agent(id)
	if agent == nil {
		WriteError(w, huberr.New(huberr.ErrUnknownAgent, "agent not found: "+id), h.logger)
		return
	}
	WriteSuccess(w, agent)
}

func (h *Handlers) handlePRs(w http.ResponseWriter, r *http.Request) {
	state := strings.TrimSpace(r.URL.Query().Get("cold_state"))
	prs := h.provider.PRs()
	if state == "" {
		WriteSuccess(w, prs)
		return
	}
	filtered := make([]any, 0, len(prs))
	for _, pr := range prs {
		if string(pr.ColdState) == state {
			filtered = append(filtered, pr)
		}
	}
	WriteSuccess(w, filtered)
}

func (h *Handlers) handlePR(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pr, ok := h.provider.PR(id)
	if !ok {
		WriteError(w, huberr.New(huberr.ErrUnknownPR, "pr not found: "+id), h.logger)
		return
	}
	WriteSuccess(w, pr)
}

// handleAssignments derives the current PR-to-agent assignment view
// from live agent state, since the assignment manager itself only
// tracks per-agent in-flight counts rather than a durable mapping.
func (h *Handlers) handleAssignments(w http.ResponseWriter, r *http.Request) {
	type assignmentView struct {
		AgentID   string `json:"agent_id"`
		AgentType string `json:"agent_type"`
		PRID      string `json:"pr_id"`
	}

	var out []assignmentView
	for _, agent := range h.provider.Agents() {
		if agent.AssignedPR == "" {
			continue
		}
		out = append(out, assignmentView{AgentID: agent.ID, AgentType: string(agent.Type), PRID: agent.AssignedPR})
	}
	WriteSuccess(w, out)
}

func (h *Handlers) handleLeases(w http.ResponseWriter, r *http.Request) {
	leases, err := h.provider.Leases(r.Context())
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, "LEASE_SCAN_FAILED", err.Error(), h.logger)
		return
	}
	WriteSuccess(w, leases)
}
