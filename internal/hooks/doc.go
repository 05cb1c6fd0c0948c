// Package hooks dispatches gateway lifecycle events to registered observers.
// Hooks run asynchronously and a panicking hook never affects the caller.
package hooks
