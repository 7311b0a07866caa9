package scheduler

import (
	"sort"

	"github.com/taskhub/hub/internal/graph"
)

// Blocked pairs an excluded PR with the peer id(s) it conflicted with.
type Blocked struct {
	Node    *graph.Node
	Reasons []string
}

// Result is one scheduling tick's outcome.
type Result struct {
	Selected []*graph.Node
	Blocked  []Blocked
}

// Schedule runs the MIS selection over candidates, treating the file
// sets of currentlyWorking as already forbidden, and caps the number
// selected at idleAgentCapacity.
//
// Determinism: identical candidates, currentlyWorking, and capacity
// always yield identical output, because the sort below is total
// (priority, then complexity, then id) and ties never occur.
func Schedule(candidates []*graph.Node, currentlyWorking []*graph.Node, idleAgentCapacity int) Result {
	sorted := make([]*graph.Node, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.PR.Priority.Rank() != b.PR.Priority.Rank() {
			return a.PR.Priority.Rank() > b.PR.Priority.Rank()
		}
		if a.PR.Complexity.Score != b.PR.Complexity.Score {
			return a.PR.Complexity.Score > b.PR.Complexity.Score
		}
		return a.PR.ID < b.PR.ID
	})

	chosenFiles := make(map[string]struct{})
	forbiddenBy := make(map[string]string) // file -> owning pr id, for blocked reasons
	for _, w := range currentlyWorking {
		for _, f := range w.Files() {
			chosenFiles[f] = struct{}{}
			forbiddenBy[f] = w.PR.ID
		}
	}

	var result Result
	for _, cand := range sorted {
		if len(result.Selected) >= idleAgentCapacity {
			result.Blocked = append(result.Blocked, Blocked{Node: cand, Reasons: []string{"no idle agent capacity"}})
			continue
		}

		conflicting := conflictingPeers(cand, chosenFiles, forbiddenBy)
		if len(conflicting) > 0 {
			result.Blocked = append(result.Blocked, Blocked{Node: cand, Reasons: conflicting})
			continue
		}

		result.Selected = append(result.Selected, cand)
		for _, f := range cand.Files() {
			chosenFiles[f] = struct{}{}
			forbiddenBy[f] = cand.PR.ID
		}
	}

	return result
}

// conflictingPeers returns the distinct owning PR ids whose files
// intersect cand's file set, in a stable order.
func conflictingPeers(cand *graph.Node, chosenFiles map[string]struct{}, forbiddenBy map[string]string) []string {
	seen := make(map[string]bool)
	var peers []string
	for _, f := range cand.Files() {
		if _, ok := chosenFiles[f]; !ok {
			continue
		}
		owner := forbiddenBy[f]
		if owner != "" && !seen[owner] {
			seen[owner] = true
			peers = append(peers, owner)
		}
	}
	sort.Strings(peers)
	return peers
}
