// ABOUTME: Event fan-out from agent streams and session mirrors to clients.
// ABOUTME: Delivery is best-effort per client; one slow reader never blocks the rest.

package gateway

import (
	"encoding/json"

	"github.com/2389/hive-gateway/internal/protocol"
)

// fanoutOptions narrows the recipient set of a broadcast.
type fanoutOptions struct {
	// exclude skips one client, typically the originator of the event.
	exclude *Client

	// clientTypes restricts delivery to the listed client classes when non-nil.
	clientTypes map[string]bool

	// skipSessionID skips clients already subscribed to the session, so a
	// client receiving the event via its subscription is not sent a mirror too.
	skipSessionID string
}

// broadcastSessionEvent delivers an envelope to every subscriber of the
// session, minus the excluded client. Returns the number of deliveries
// attempted without error.
func (g *Gateway) broadcastSessionEvent(sessionID string, env *protocol.Envelope, exclude *Client) int {
	sent := 0
	for _, c := range g.subs.Subscribers(sessionID) {
		if c == exclude {
			continue
		}
		if err := c.Send(env); err != nil {
			g.logger.Debug("session event dropped", "conn_id", c.ConnID, "session_id", sessionID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// broadcastToClients delivers an envelope to every connected client matching
// the options. Used for session mirrors that surface activity to observer
// clients which have not subscribed to the session.
func (g *Gateway) broadcastToClients(env *protocol.Envelope, opts fanoutOptions) int {
	sent := 0
	for _, c := range g.clients.all() {
		if c == opts.exclude {
			continue
		}
		if opts.clientTypes != nil && !opts.clientTypes[c.ClientType()] {
			continue
		}
		if opts.skipSessionID != "" && g.subs.IsSubscribed(c, opts.skipSessionID) {
			continue
		}
		if err := c.Send(env); err != nil {
			g.logger.Debug("broadcast dropped", "conn_id", c.ConnID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// deliverAgentEvent sends a wrapped agent event to the session's subscribers
// and to the originating client, without sending it twice.
func (g *Gateway) deliverAgentEvent(sessionID string, origin *Client, env *protocol.Envelope) {
	delivered := map[*Client]bool{}
	for _, c := range g.subs.Subscribers(sessionID) {
		delivered[c] = true
		if err := c.Send(env); err != nil {
			g.logger.Debug("agent event dropped", "conn_id", c.ConnID, "session_id", sessionID, "error", err)
		}
	}
	if origin != nil && !delivered[origin] && g.clients.contains(origin) {
		if err := origin.Send(env); err != nil {
			g.logger.Debug("agent event dropped", "conn_id", origin.ConnID, "session_id", sessionID, "error", err)
		}
	}
}

// wrapAgentEvent normalizes a raw agent stream event for the wire. Object
// events gain sessionId and agentId fields; non-object events are wrapped in
// an agent-event carrier. Returns the wrapped payload and the event type.
func wrapAgentEvent(ev json.RawMessage, sessionID, agentID string) (json.RawMessage, string) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(ev, &obj); err != nil || obj == nil {
		obj = map[string]json.RawMessage{
			"type": json.RawMessage(`"agent-event"`),
			"data": ev,
		}
	}
	obj["sessionId"] = mustMarshalRaw(sessionID)
	obj["agentId"] = mustMarshalRaw(agentID)

	eventType := ""
	if raw, ok := obj["type"]; ok {
		_ = json.Unmarshal(raw, &eventType)
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return ev, eventType
	}
	return data, eventType
}

// agentErrorEvent builds the synthesized agent-error event the gateway emits
// when an invocation fails before or outside its own stream.
func agentErrorEvent(sessionID, agentID, message string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{
		"type":      "agent-error",
		"error":     message,
		"sessionId": sessionID,
		"agentId":   agentID,
	})
	return data
}

func mustMarshalRaw(s string) json.RawMessage {
	data, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return data
}
