// Package metrics holds the gateway's Prometheus collectors on a private
// registry so tests can create independent instances.
package metrics
