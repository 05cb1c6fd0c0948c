// ABOUTME: Router resolves agent requests to a roster agent and a session key.
// ABOUTME: Session keys are deterministic so repeated origins collapse onto one session.

package agent

import (
	"fmt"

	"github.com/2389/hive-gateway/internal/protocol"
)

// Router picks the agent for a request and derives session keys.
type Router struct {
	agents    map[string]Definition
	channels  map[string]string // "platform:channelId" -> agent id
	defaultID string
}

// NewRouter builds a router from the roster.
func NewRouter(defs []Definition) *Router {
	r := &Router{
		agents:   make(map[string]Definition, len(defs)),
		channels: make(map[string]string),
	}
	for _, d := range defs {
		r.agents[d.ID] = d
		if d.Disabled {
			continue
		}
		if d.Default && r.defaultID == "" {
			r.defaultID = d.ID
		}
		for _, ch := range d.Channels {
			r.channels[ch] = d.ID
		}
	}
	// With no explicit default, a single-agent roster routes to that agent.
	if r.defaultID == "" && len(defs) == 1 && !defs[0].Disabled {
		r.defaultID = defs[0].ID
	}
	return r
}

// Get returns the roster definition for an agent id.
func (r *Router) Get(id string) (Definition, bool) {
	d, ok := r.agents[id]
	return d, ok
}

// SelectAgent resolves the agent for a request. A named agent must exist and
// be enabled; otherwise routing hints may pin an agent, and failing that the
// roster default is used. Returns "" when nothing matches.
func (r *Router) SelectAgent(requestedID string, routing *protocol.RoutingHints) string {
	if requestedID != "" {
		d, ok := r.agents[requestedID]
		if !ok || d.Disabled {
			return ""
		}
		return requestedID
	}

	if routing != nil && routing.Platform != "" && routing.ChannelID != "" {
		key := routing.Platform + ":" + routing.ChannelID
		if id, ok := r.channels[key]; ok {
			return id
		}
	}
	return r.defaultID
}

// BuildSessionKey derives a deterministic session key from the request
// origin. It is a pure function of the routing hints; the agent id enters
// scheduling only through QueueKey.
func (r *Router) BuildSessionKey(routing *protocol.RoutingHints) string {
	if routing != nil && routing.Platform != "" && routing.ChannelID != "" {
		return fmt.Sprintf("chat:%s:%s", routing.Platform, routing.ChannelID)
	}
	if routing != nil && routing.Platform != "" && routing.PeerID != "" {
		return fmt.Sprintf("peer:%s:%s", routing.Platform, routing.PeerID)
	}
	return "main"
}

// QueueKey is the unit of scheduler serialization for a resolved request.
func QueueKey(agentID, sessionKey string) string {
	return agentID + ":" + sessionKey
}
