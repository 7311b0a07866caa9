package conflict

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/taskhub/hub/internal/graph"
	"github.com/taskhub/hub/internal/pool"
)

// fileSet builds a lookup set from a node's file paths.
func fileSet(n *graph.Node) map[string]struct{} {
	files := n.Files()
	set := make(map[string]struct{}, len(files))
	for _, f := range files {
		set[f] = struct{}{}
	}
	return set
}

// HasConflict reports whether a and b share any file.
func HasConflict(a, b *graph.Node) bool {
	small, large := a, b
	if len(small.Files()) > len(large.Files()) {
		small, large = large, small
	}
	largeSet := fileSet(large)
	for _, f := range small.Files() {
		if _, ok := largeSet[f]; ok {
			return true
		}
	}
	return false
}

// ConflictingFiles returns the file paths a and b both touch.
func ConflictingFiles(a, b *graph.Node) []string {
	bSet := fileSet(b)
	var out []string
	for _, f := range a.Files() {
		if _, ok := bSet[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Density returns the fraction of node pairs in nodes that conflict,
// in [0,1]. A single node (or empty set) has density 0.
func Density(nodes []*graph.Node) float64 {
	n := len(nodes)
	if n < 2 {
		return 0
	}

	total := n * (n - 1) / 2
	conflicts := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if HasConflict(nodes[i], nodes[j]) {
				conflicts++
			}
		}
	}
	return float64(conflicts) / float64(total)
}

// densityBatchThreshold is the node count at or above which DensityConcurrent
// bothers spreading rows across a goroutine pool; below it the
// per-task overhead outweighs the parallelism.
const densityBatchThreshold = 64

// DensityConcurrent is equivalent to Density but spreads the O(n^2)
// pairwise comparison across a bounded goroutine pool, for manifests
// large enough that a single ready batch can run into the thousands
// of candidate PRs.
func DensityConcurrent(ctx context.Context, nodes []*graph.Node) float64 {
	n := len(nodes)
	if n < 2 {
		return 0
	}
	if n < densityBatchThreshold {
		return Density(nodes)
	}

	total := n * (n - 1) / 2
	var conflicts atomic.Int64

	p := pool.NewGoroutinePool(pool.GoroutinePoolConfig{
		MaxWorkers:  16,
		QueueSize:   n,
		IdleTimeout: pool.DefaultGoroutinePoolConfig().IdleTimeout,
	})
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		row := i
		wg.Add(1)
		task := func(context.Context) error {
			defer wg.Done()
			for j := row + 1; j < n; j++ {
				if HasConflict(nodes[row], nodes[j]) {
					conflicts.Add(1)
				}
			}
			return nil
		}
		if err := p.Submit(ctx, task); err != nil {
			_ = task(ctx)
		}
	}
	wg.Wait()

	return float64(conflicts.Load()) / float64(total)
}
