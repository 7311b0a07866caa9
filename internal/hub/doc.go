// Package hub wires the leaf components (kvstore, bus, graph,
// scheduler, registry, supervisor, assignment, state machines, lease
// manager, synchronizer) into the single control loop that probes for
// schedulable work, assigns it, and reacts to agent lifecycle events
// over the message bus. It owns process-level concerns the leaves
// deliberately do not: signal handling and the shutdown sequence. The
// PID file, the audit sink and the status server are set up by cmd/hub.
package hub
