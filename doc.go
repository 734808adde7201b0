// Package clockmesh models a small set of independent, communicating
// nodes that advance Lamport logical clocks while exchanging
// timestamped messages over point-to-point TCP byte streams, each at
// a randomized per-node tick rate. It is a testbed for observing
// clock drift, message-queue buildup and causal ordering under
// asynchronous, variable-speed execution.
//
// # How it works
//
// Each `Node` owns a single logical clock mutated through exactly one
// rule: an internal or send event advances it by one, receiving a
// value r sets it to max(clock, r)+1. A listener accepts peer
// connections and spawns one handler per connection; handlers decode
// length-prefixed decimal clock values and push them into the node's
// inbound FIFO. The scheduler loop ticks at the configured rate: it
// drains at most one queued message per tick, or draws a random
// action (send to one peer, broadcast, or an internal event). Every
// event is appended to a telemetry `Sink` whose line format is
// consumed by the offline analysis tooling.
//
// Nodes are wired together by an explicit `Registry` rather than any
// process-wide state; whether they run as goroutines in one process
// or in separate processes, the engine contract is identical. All
// cross-node coordination happens on the wire.
//
// # What it is not
//
// There is no consensus, no exactly-once delivery, no total ordering
// across nodes and no authentication of peer links. Peer links that
// exhaust their dial retry budget stay down: link failure is part of
// what the testbed is for observing, not something it hides.
package clockmesh
