// Copyright 2026 TaskHub Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package graph holds the PR dependency graph: nodes keyed by pr_id,
dependency and dependent edges, and the availability/completion
operations the scheduler drives off of. The graph is built once from a
parsed manifest; MarkComplete mutates node state and the caller
re-queries Available for the next scheduling tick.
*/
package graph
