package statusserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskhub/hub/types"
)

type fakeProvider struct {
	agents  []*types.Agent
	prs     []types.PR
	leases  []*types.Lease
	cycles  int64
	leaseErr error
}

func (f *fakeProvider) Agents() []*types.Agent { return f.agents }

func (f *fakeProvider) Agent(id string) *types.Agent {
	for _, a := range f.agents {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (f *fakeProvider) PRs() []types.PR { return f.prs }

func (f *fakeProvider) PR(id string) (types.PR, bool) {
	for _, p := range f.prs {
		if p.ID == id {
			return p, true
		}
	}
	return types.PR{}, false
}

func (f *fakeProvider) Leases(ctx context.Context) ([]*types.Lease, error) {
	return f.leases, f.leaseErr
}

func (f *fakeProvider) SchedulerCycles() int64 { return f.cycles }

func newTestHandlers(p *fakeProvider, started bool) *Handlers {
	return NewHandlers(p, nil, func() bool { return started }, zap.NewNop())
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestHandleHealthz_AlwaysOK(t *testing.T) {
	mux := http.NewServeMux()
	newTestHandlers(&fakeProvider{}, false).Mount(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleReadyz_ReflectsStartedFlag(t *testing.T) {
	mux := http.NewServeMux()
	newTestHandlers(&fakeProvider{}, false).Mount(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	mux2 := http.NewServeMux()
	newTestHandlers(&fakeProvider{cycles: 3}, true).Mount(mux2)
	w2 := httptest.NewRecorder()
	mux2.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestHandleAgents_ListsAll(t *testing.T) {
	p := &fakeProvider{agents: []*types.Agent{{ID: "agent-1", Type: types.AgentWorker}}}
	mux := http.NewServeMux()
	newTestHandlers(p, true).Mount(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
}

func TestHandleAgent_NotFoundMapsToConflict(t *testing.T) {
	mux := http.NewServeMux()
	newTestHandlers(&fakeProvider{}, true).Mount(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/agents/missing", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
}

func TestHandlePRs_FiltersByColdState(t *testing.T) {
	p := &fakeProvider{prs: []types.PR{
		{ID: "PR-001", ColdState: types.ColdReady},
		{ID: "PR-002", ColdState: types.ColdCompleted},
	}}
	mux := http.NewServeMux()
	newTestHandlers(p, true).Mount(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/prs?cold_state=ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []types.PR `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "PR-001", resp.Data[0].ID)
}

func TestHandleAssignments_DerivedFromAssignedAgents(t *testing.T) {
	p := &fakeProvider{agents: []*types.Agent{
		{ID: "agent-1", Type: types.AgentWorker, AssignedPR: "PR-001"},
		{ID: "agent-2", Type: types.AgentQC},
	}}
	mux := http.NewServeMux()
	newTestHandlers(p, true).Mount(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/assignments", nil))

	var resp struct {
		Data []struct {
			AgentID string `json:"agent_id"`
			PRID    string `json:"pr_id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "agent-1", resp.Data[0].AgentID)
	assert.Equal(t, "PR-001", resp.Data[0].PRID)
}

func TestHandleLeases_PropagatesProviderError(t *testing.T) {
	p := &fakeProvider{leaseErr: assertError{}}
	mux := http.NewServeMux()
	newTestHandlers(p, true).Mount(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/leases", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

type assertError struct{}

func (assertError) Error() string { return "scan failed" }
