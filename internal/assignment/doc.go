// Copyright 2026 TaskHub Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package assignment matches scheduler-selected PRs to compatible idle
agents (spec §4.8) and publishes an `assignment` envelope to each
chosen agent's channel. The compatibility table itself lives in
types.Compatible/types.EligibleAgentTypes since every layer that
reasons about PR/agent pairing needs it; this package adds the
strategy (first_available / load_balanced), the per-agent-type
concurrency cap, and in-flight assignment bookkeeping.
*/
package assignment
