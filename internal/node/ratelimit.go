// ABOUTME: Sliding-window per-node message rate limiting.
// ABOUTME: Ping, pong, and register are exempt and must never be counted here.

package node

import "time"

// Rate-limit policy constants. These are deliberate deployment choices, not
// part of the protocol contract: a node may send at most rateLimitMax counted
// messages within any rateLimitWindow. Ping, pong, and register frames are
// never counted or limited.
const (
	rateLimitWindow = 10 * time.Second
	rateLimitMax    = 100
)

// RecordMessage counts a non-exempt message against the node's sliding
// window. Expired entries are pruned in place.
func (r *Registry) RecordMessage(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		return
	}
	now := time.Now()
	node.window = pruneWindow(node.window, now)
	node.window = append(node.window, now)

	// Any normal message also counts as liveness.
	node.lastPing = now
}

// IsRateLimited reports whether the node has exceeded the window threshold.
func (r *Registry) IsRateLimited(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		return false
	}
	node.window = pruneWindow(node.window, time.Now())
	return len(node.window) > rateLimitMax
}

// pruneWindow drops timestamps older than the rate-limit window.
func pruneWindow(window []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-rateLimitWindow)
	i := 0
	for i < len(window) && window[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return window
	}
	return append(window[:0], window[i:]...)
}
