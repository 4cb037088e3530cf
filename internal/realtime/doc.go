// Package realtime owns the one realtime channel a client keeps to the
// media server: its connect/reconnect state machine, the backoff policy,
// and the queue of outbound events requested while disconnected.
//
// The manager is the sole writer of the connection state and the queue.
// Inbound envelopes are consumed by a single read loop and fanned out on
// the event bus under their wire names; outbound emits are acknowledged by
// the server via request IDs. Queued events are dequeued immediately before
// delivery, so a crash mid-drain can drop an entry but never double-send
// it.
package realtime
