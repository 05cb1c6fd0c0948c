// ABOUTME: Read-only HTTP endpoints: health probe and live stats snapshot.
// ABOUTME: Served on the same listener as the WebSocket and bridge paths.

package gateway

import (
	"context"
	"net/http"

	"github.com/2389/hive-gateway/internal/node"
	"github.com/2389/hive-gateway/internal/protocol"
)

// statsResponse is the JSON shape of the /stats endpoint.
type statsResponse struct {
	Gateway gatewaySection `json:"gateway"`
	Nodes   nodeSection    `json:"nodes"`
	Groups  groupSection   `json:"groups"`
}

type gatewaySection struct {
	Version            string         `json:"version"`
	ConnectedClients   int            `json:"connectedClients"`
	SubscribedSessions int            `json:"subscribedSessions"`
	ActiveRequests     int            `json:"activeRequests"`
	QueuedRequests     int            `json:"queuedRequests"`
	Sessions           []sessionStats `json:"sessions,omitempty"`
}

type nodeSection struct {
	Count int         `json:"count"`
	Nodes []node.Info `json:"nodes"`
}

type groupSection struct {
	Count int `json:"count"`
}

type sessionStats struct {
	Key          string `json:"key"`
	AgentID      string `json:"agentId"`
	MessageCount int    `json:"messageCount"`
	Preview      string `json:"lastMessagePreview,omitempty"`
}

// handleHealth reports process liveness plus a compact stats snapshot.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	active, queued := g.sched.counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": g.version,
		"stats": map[string]int{
			"connectedClients": g.clients.count(),
			"registeredNodes":  g.nodes.Count(),
			"activeRequests":   active,
			"queuedRequests":   queued,
		},
		"timestamp": protocol.NowMillis(),
	})
}

// handleStats reports a point-in-time snapshot of gateway state.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	active, queued := g.sched.counts()
	nodes := g.nodes.AllNodes()
	resp := statsResponse{
		Gateway: gatewaySection{
			Version:            g.version,
			ConnectedClients:   g.clients.count(),
			SubscribedSessions: g.subs.SessionCount(),
			ActiveRequests:     active,
			QueuedRequests:     queued,
			Sessions:           g.sessionStats(r.Context()),
		},
		Nodes:  nodeSection{Count: len(nodes), Nodes: nodes},
		Groups: groupSection{Count: g.groups.Count()},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) sessionStats(ctx context.Context) []sessionStats {
	sessions, err := g.store.ListSessions(ctx)
	if err != nil {
		g.logger.Warn("session listing failed", "error", err)
		return nil
	}
	out := make([]sessionStats, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionStats{
			Key:          s.Key,
			AgentID:      s.AgentID,
			MessageCount: s.MessageCount,
			Preview:      s.LastMessagePreview,
		})
	}
	return out
}
