package conflict

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskhub/hub/internal/graph"
	"github.com/taskhub/hub/types"
)

func node(id string, files ...string) *graph.Node {
	entries := make([]types.FileEntry, len(files))
	for i, f := range files {
		entries[i] = types.FileEntry{Path: f}
	}
	return &graph.Node{PR: types.PR{ID: id, Files: entries}}
}

func TestHasConflict_SharedFile(t *testing.T) {
	a := node("PR-001", "a.go")
	b := node("PR-002", "b.go")
	c := node("PR-003", "a.go")

	assert.False(t, HasConflict(a, b))
	assert.True(t, HasConflict(a, c))
}

func TestConflictingFiles_ReturnsIntersection(t *testing.T) {
	a := node("PR-001", "a.go", "shared.go")
	b := node("PR-002", "b.go", "shared.go")
	assert.Equal(t, []string{"shared.go"}, ConflictingFiles(a, b))
}

func TestDensity_ThreeIndependentOneConflict(t *testing.T) {
	p1 := node("PR-001", "a")
	p2 := node("PR-002", "b")
	p3 := node("PR-003", "a")

	// one conflicting pair (p1,p3) out of 3 total pairs
	assert.InDelta(t, 1.0/3.0, Density([]*graph.Node{p1, p2, p3}), 1e-9)
}

func TestDensity_SingleNodeIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Density([]*graph.Node{node("PR-001", "a")}))
	assert.Equal(t, 0.0, Density(nil))
}

func TestDensityConcurrent_MatchesSequentialDensity(t *testing.T) {
	// Below the batch threshold, DensityConcurrent must delegate straight
	// to Density and produce an identical result.
	p1 := node("PR-001", "a")
	p2 := node("PR-002", "b")
	p3 := node("PR-003", "a")
	nodes := []*graph.Node{p1, p2, p3}

	assert.Equal(t, Density(nodes), DensityConcurrent(context.Background(), nodes))
}

func TestDensityConcurrent_LargeBatchMatchesSequentialDensity(t *testing.T) {
	// Each run of three consecutive nodes shares one file, giving a
	// deterministic, non-trivial density to compare against.
	nodes := make([]*graph.Node, densityBatchThreshold+10)
	for i := range nodes {
		file := fmt.Sprintf("file-%d", i/3)
		nodes[i] = node(fmt.Sprintf("PR-%03d", i), file)
	}

	want := Density(nodes)
	got := DensityConcurrent(context.Background(), nodes)
	assert.InDelta(t, want, got, 1e-9)
}
