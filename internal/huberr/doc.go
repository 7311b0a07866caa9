// Copyright 2026 TaskHub Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package huberr defines the hub's error taxonomy.

Every error the hub raises belongs to one of five kinds: Transient,
Invariant, Structure, Resource, or Fatal. The kind drives policy, not
the error's string: Transient errors are retried with backoff, Invariant
and Resource errors abort the current operation and surface to the
caller, Structure errors fail manifest load outright, and Fatal errors
shut down the offending component.
*/
package huberr
