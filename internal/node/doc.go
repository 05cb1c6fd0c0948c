// ABOUTME: Package node tracks registered gateway nodes and their liveness.
// ABOUTME: Central registry for node lookup, fan-out sends, rate limiting, and staleness eviction.

// Package node implements the registry of connected, registered participants.
//
// A node is created on register and removed on close, explicit unregister, or
// staleness eviction. The registry owns per-node liveness timestamps and a
// sliding-window message counter used for rate limiting. Sends go through the
// node's Sender, which serializes writes onto the underlying transport; the
// registry never performs blocking I/O while holding its lock.
package node
