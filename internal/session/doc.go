// ABOUTME: Package session maintains the session-to-subscriber index.
// ABOUTME: Two mirrored maps give O(1) teardown when a socket disconnects.

// Package session tracks which sockets are subscribed to which sessions.
//
// The relation is many-to-many and is held as two mirrored indexes: session
// to sockets and socket to sessions. Both directions stay consistent under a
// single mutex, and ForgetSocket removes a socket from every session it was
// subscribed to in one call.
package session
