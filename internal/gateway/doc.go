// ABOUTME: Package gateway composes the hive-gateway server.
// ABOUTME: Owns the listener, connection handling, dispatch, scheduling, and fan-out.

// Package gateway is the intersection between many clients and many sessions.
//
// A single HTTP listener serves the WebSocket endpoint, the long-poll bridge,
// and the administrative paths. Each connection becomes a Client with
// serialized outbound writes. Inbound frames are validated, authenticated
// once at handshake, and dispatched: registration updates the node and group
// registries, agent requests flow through the session scheduler, and streamed
// agent events fan out to every subscriber of the session.
//
// Scheduling guarantees: per (agentId, sessionKey) at most one invocation is
// in flight, queued requests run in arrival order, any outstanding request
// can be cancelled by its owner, and a disconnecting socket takes all of its
// outstanding work with it.
package gateway
