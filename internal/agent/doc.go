// ABOUTME: Package agent defines the invoker boundary and request routing.
// ABOUTME: Holds the agent roster, the router, and the event stream contract.

// Package agent is the seam between the gateway core and the agent runtime.
//
// The runtime itself lives outside this process boundary: the core drives it
// through the Invoker interface and consumes an opaque stream of JSON events.
// The Router resolves which roster agent should handle a request and builds
// the deterministic session key that collapses repeated requests from the
// same logical origin onto one session.
package agent
