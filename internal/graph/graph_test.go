package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskhub/hub/types"
)

func chainPRs() []types.PR {
	return []types.PR{
		{ID: "PR-001", ColdState: types.ColdReady, Dependencies: nil},
		{ID: "PR-002", ColdState: types.ColdNew, Dependencies: []string{"PR-001"}},
		{ID: "PR-003", ColdState: types.ColdNew, Dependencies: []string{"PR-002"}},
	}
}

func ids(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.PR.ID
	}
	return out
}

func TestBuild_PopulatesDependentsReverseEdges(t *testing.T) {
	g := Build(chainPRs())

	n1 := g.Node("PR-001")
	assert.Contains(t, n1.Dependents, "PR-002")

	n2 := g.Node("PR-002")
	assert.Contains(t, n2.Dependents, "PR-003")
	assert.Contains(t, n2.Deps, "PR-001")
}

func TestAll_ReturnsEveryNode(t *testing.T) {
	g := Build(chainPRs())
	assert.ElementsMatch(t, []string{"PR-001", "PR-002", "PR-003"}, ids(g.All()))
}

func TestAvailable_ExcludesBlockedAndUnsatisfiedDeps(t *testing.T) {
	g := Build(chainPRs())

	assert.ElementsMatch(t, []string{"PR-001"}, ids(g.Available()))
}

func TestMarkComplete_UnlocksDependentChain(t *testing.T) {
	g := Build(chainPRs())

	deps := g.MarkComplete("PR-001", types.ColdCompleted)
	assert.ElementsMatch(t, []string{"PR-002"}, deps)
	assert.ElementsMatch(t, []string{"PR-002"}, ids(g.Available()))

	g.MarkComplete("PR-002", types.ColdCompleted)
	assert.ElementsMatch(t, []string{"PR-003"}, ids(g.Available()))
}

func TestAvailable_ExcludesExplicitlyBlocked(t *testing.T) {
	prs := []types.PR{{ID: "PR-001", ColdState: types.ColdBlocked}}
	g := Build(prs)
	assert.Empty(t, g.Available())
}

func TestHasCycles_DetectsCycle(t *testing.T) {
	prs := []types.PR{
		{ID: "PR-001", Dependencies: []string{"PR-002"}},
		{ID: "PR-002", Dependencies: []string{"PR-001"}},
	}
	assert.True(t, HasCycles(prs))
}

func TestHasCycles_AcyclicIsFalse(t *testing.T) {
	assert.False(t, HasCycles(chainPRs()))
}

func TestDependencyChain_TopologicalAncestors(t *testing.T) {
	g := Build(chainPRs())
	chain := g.DependencyChain("PR-003")
	assert.Equal(t, []string{"PR-001", "PR-002"}, chain)
}

func TestDependents_TransitiveClosure(t *testing.T) {
	g := Build(chainPRs())
	assert.ElementsMatch(t, []string{"PR-002", "PR-003"}, g.Dependents("PR-001"))
}
