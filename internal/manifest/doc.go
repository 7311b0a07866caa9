// Copyright 2026 TaskHub Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package manifest parses and serializes the hub's durable task manifest:
a markdown document containing one or more YAML frontmatter blocks, one
per PR. Parse validates every invariant spec §6 requires (unique pr_id,
enumerated cold_state/priority, complexity bounds, resolvable
dependencies, no cycles) and fails with a huberr.Error on the first
violation, exposing no partial graph. A duplicate pr_id is an
Invariant-kind error; every other violation is Structure-kind.
*/
package manifest
