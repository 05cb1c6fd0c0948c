// ABOUTME: Package auth implements connection-level authentication for the gateway.
// ABOUTME: Supports none, token, password, and transport-identity modes.

// Package auth evaluates the credentials presented during the connect
// handshake against the configured auth mode.
//
// Validation is pure with respect to connection state: the same credentials
// and transport identity always yield the same answer. The token set used by
// token mode is seeded at startup and may be mutated at runtime by the
// embedding process.
package auth
