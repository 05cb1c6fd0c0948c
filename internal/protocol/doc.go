// ABOUTME: Package protocol defines the JSON envelope exchanged with gateway clients.
// ABOUTME: Covers message types, payload schemas, error codes, and inbound validation.

// Package protocol defines the wire format spoken on the gateway's WebSocket
// and HTTP bridge endpoints.
//
// Every frame in either direction is a single JSON Envelope. The envelope
// carries a closed set of message types; the free-form payload field is
// interpreted per type. Inbound frames go through Parse, which rejects
// malformed JSON, unknown types, and missing required fields with structured
// protocol errors that map directly onto outbound error envelopes.
package protocol
