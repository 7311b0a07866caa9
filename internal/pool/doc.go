// Package pool provides bounded-concurrency and object-reuse
// primitives shared across the hub: a goroutine pool for fan-out work
// (heartbeat sweeps, conflict density batches, shutdown_all) and
// sync.Pool-backed object pools for the hub's hot-path allocations
// (bus envelopes, byte buffers).
package pool
