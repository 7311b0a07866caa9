// Copyright 2026 TaskHub Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package sync implements the State Synchronizer's three duties (spec
§4.12): hydration at boot (manifest -> pr:<id>:cold_state + built
graph), crash recovery on every (re)start (clear every hot-state key
and any orphaned cache key whose pr_id left the manifest), and a
periodic display-sync no-op that exists only to refresh observability
caches.

DetectConflicts/Resolve implement the three named drift categories:
REDIS_HOT_GIT_DIFFERENT (a hot state survives a terminal/incompatible
cold state), REDIS_MISSING (a manifest PR with no cached cold state),
and REDIS_ORPHANED (a cached pr_id absent from the manifest). Every
resolution is idempotent, so calling DetectConflicts/Resolve again
after a successful resolution is a no-op.
*/
package sync
