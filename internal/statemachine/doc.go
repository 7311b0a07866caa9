// Copyright 2026 TaskHub Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package statemachine implements the two fixed state machines spec §4.9
names: a PR's cold-state machine (the durable lifecycle committed to
the manifest) and an agent's lifecycle machine. Both reject an
unlisted transition with huberr.ErrInvalidTransition enumerating the
valid targets, and both keep a bounded (last 100) transition history
per entity, truncating the oldest entry on overflow.

Hot-state movement is unrestricted by comparison: any hot state may
follow any other while the PR's cold state is non-terminal, so it is
exposed here as a single predicate rather than a transition table.
*/
package statemachine
