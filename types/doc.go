// Copyright 2026 TaskHub Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package types holds the value types shared across the hub's internal
packages: PR, Agent, Assignment, and Lease. It sits at the bottom of
the dependency graph and imports nothing else under this module, so
any internal package may depend on it without risk of an import cycle.
*/
package types
