// Copyright 2026 TaskHub Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package scheduler implements the greedy, priority-biased maximum
independent set selection described in spec §4.7: sort candidates by
priority desc, complexity desc, id asc; greedily admit non-conflicting
candidates up to the idle-agent cap; everything else is blocked with
the id of a conflicting peer.

The algorithm is deliberately simple and deterministic rather than
optimal (exact MIS is NP-hard); conflict density in well-factored
manifests is expected to stay low.
*/
package scheduler
