// Copyright 2026 TaskHub Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package conflict computes the undirected file-conflict graph over a
candidate set of PRs: an edge (a, b) exists iff their file sets
intersect. Candidate sets are small (bounded by agent pool size), so a
straightforward pairwise O(n^2) comparison is sufficient.
*/
package conflict
