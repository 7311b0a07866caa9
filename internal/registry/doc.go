// Copyright 2026 TaskHub Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package registry tracks live agent processes: an in-memory map mirrored
into the KV store under agent:<id>:info for cross-process observability.
A periodic sweep flags agents whose last heartbeat is older than the
configured timeout as crashed and emits agentCrashed so the supervisor
can decide whether to respawn.

Per the "cyclic references" design note, Registry is a leaf: it holds no
reference back to the supervisor or hub. Events flow upward only, via
the CrashedHandler callback registered at construction.
*/
package registry
