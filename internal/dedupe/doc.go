// Package dedupe provides message deduplication using a time-based cache
// to suppress replayed bridge frames within a configurable window.
package dedupe
