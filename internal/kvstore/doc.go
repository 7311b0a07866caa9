// Copyright 2026 TaskHub Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package kvstore adapts the hub's key-value and pub/sub needs onto a
concrete store without naming the product in the capability interface.
The current implementation is backed by go-redis.

Connection states are Disconnected, Connecting, Connected and Closed.
If the first connect in New fails, the store starts Disconnected and a
background loop retries with exponential backoff bounded by
config.KVConfig until it reaches Connected. Once Connected, the state
does not drop back to Disconnected and no reconnect loop is started: a
command that fails because the server went away returns
huberr.ErrKVDisconnected and the store stays Connected. Callers must
not buffer operations across such a failure.
*/
package kvstore
