// Copyright 2026 TaskHub Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package clock abstracts time and OS signal delivery behind two small
interfaces so the supervisor, registry sweep, and hub control loop can
be driven by virtual time and virtual signals in tests instead of the
real clock and a real process.

This preserves a pattern several source components relied on for
testability: inject Clock and Signals at construction rather than
calling time.Now/time.After/signal.Notify directly.
*/
package clock
