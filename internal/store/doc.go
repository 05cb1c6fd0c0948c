// ABOUTME: Package store persists session metadata for the gateway.
// ABOUTME: Defines the Store interface with SQLite and in-memory implementations.

// Package store is the durable record of sessions the gateway has seen.
//
// The gateway core references sessions only by session key; everything else
// here is metadata: a preview of the last user message, a running message
// count, and workspace hints. Queued agent requests are not persisted and do
// not survive a restart.
package store
