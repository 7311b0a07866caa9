// Copyright 2026 TaskHub Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package bus implements the hub's topic-addressed messaging layer over
the kvstore pub/sub primitive. Envelopes are a tagged union: every
message carries a Type discriminator and every consumer matches
exhaustively on it, logging and dropping unknown types rather than
panicking.

Channel naming follows a fixed scheme: hub:messages (agents -> hub),
agent:<id>:assignments, agent:<id>:commands, agent:<id>:responses (hub
<-> a specific agent), and hub:requests. See Channel* helpers.
*/
package bus
