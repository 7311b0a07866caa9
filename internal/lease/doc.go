// Copyright 2026 TaskHub Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package lease wraps types.Lease with KV-backed acquire/release/re-check
logic (spec §3/§5). A lease is a pessimistic, TTL-bounded hold on a
file path: Acquire fails with huberr.ErrLeaseHeld if another
agent/PR already holds an unexpired lease on the path, and the KV
store's own Expire releases a crashed holder's lease automatically
without any cleanup task.

Per SPEC_FULL.md's lease-pairing convention (types.NewLease's
"_test"-suffix pairing), acquiring a test file's lease is not blocked
by an unexpired lease on its parent file held by the same agent/PR —
they are the same unit of work — but is blocked if the parent is held
by a different PR.
*/
package lease
