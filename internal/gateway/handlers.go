// ABOUTME: Inbound frame dispatch: handshake, registration, relay, and agent ops.
// ABOUTME: One entry point per connection; every branch answers the sender directly.

package gateway

import (
	"errors"

	"github.com/2389/hive-gateway/internal/auth"
	"github.com/2389/hive-gateway/internal/group"
	"github.com/2389/hive-gateway/internal/node"
	"github.com/2389/hive-gateway/internal/protocol"
)

// rateLimitExempt lists the message types that never count against a node's
// rate-limit window. Liveness and registration traffic must not be throttled.
var rateLimitExempt = map[protocol.MessageType]bool{
	protocol.TypeRegister: true,
	protocol.TypePing:     true,
	protocol.TypePong:     true,
}

// handleFrame processes one raw inbound frame from a connected client,
// WebSocket or bridge. Protocol failures are answered with error envelopes;
// the connection survives everything except a failed handshake.
func (g *Gateway) handleFrame(c *Client, data []byte) {
	env, perr := protocol.Parse(data)
	if perr != nil {
		g.metrics.MessagesTotal.WithLabelValues("invalid").Inc()
		g.sendError(c, "", perr)
		return
	}
	g.metrics.MessagesTotal.WithLabelValues(string(env.Type)).Inc()

	if env.Type == protocol.TypeConnect {
		g.handleConnect(c, env)
		return
	}
	if !c.Authenticated() {
		g.sendError(c, env.ID, protocol.NewError(protocol.CodeAuthRequired, "connect before sending messages"))
		return
	}

	if nodeID := c.NodeID(); nodeID != "" && !rateLimitExempt[env.Type] {
		g.nodes.RecordMessage(nodeID)
		if g.nodes.IsRateLimited(nodeID) {
			g.sendError(c, env.ID, protocol.NewError(protocol.CodeRateLimited, "message rate limit exceeded"))
			return
		}
	}

	switch env.Type {
	case protocol.TypeRegister:
		g.handleRegister(c, env)
	case protocol.TypeUnregister:
		g.handleUnregister(c, env)
	case protocol.TypeJoinGroup:
		g.handleJoinGroup(c, env)
	case protocol.TypeLeaveGroup:
		g.handleLeaveGroup(c, env)
	case protocol.TypeBroadcast:
		g.handleBroadcast(c, env)
	case protocol.TypeDirect:
		g.handleDirect(c, env)
	case protocol.TypePing:
		g.handlePing(c, env)
	case protocol.TypePong:
		g.handlePong(c)
	case protocol.TypeSessionSubscribe:
		g.handleSessionSubscribe(c, env)
	case protocol.TypeSessionUnsubscribe:
		g.handleSessionUnsubscribe(c, env)
	case protocol.TypeAgentRequest:
		g.handleAgentRequest(c, env)
	case protocol.TypeAgentCancel:
		g.handleAgentCancel(c, env)
	default:
		// Server-shaped types relayed back by bridge clients carry no actions
		// beyond pong, which is handled above.
		g.logger.Debug("ignoring inbound envelope", "conn_id", c.ConnID, "type", env.Type)
	}
}

// handleConnect runs the handshake. A failed handshake is answered with a
// failing res envelope and the connection is closed.
func (g *Gateway) handleConnect(c *Client, env *protocol.Envelope) {
	if perr := protocol.ValidateConnect(env); perr != nil {
		g.sendError(c, env.ID, perr)
		return
	}
	if c.Authenticated() {
		// Repeat connects are idempotent for the same instance.
		g.sendConnectOK(c, env)
		return
	}

	creds := auth.Credentials{}
	if env.Auth != nil {
		creds = auth.Credentials{
			Token:    env.Auth.Token,
			Password: env.Auth.Password,
			DeviceID: env.Auth.DeviceID,
		}
	}
	if err := g.auth.Validate(creds, c.UserIdentity()); err != nil {
		g.logger.Info("handshake rejected",
			"conn_id", c.ConnID, "client_type", env.Client.ClientType, "mode", g.auth.Mode())
		resp := protocol.NewResponse(env.ID, false, protocol.ErrorPayload{
			Code:    protocol.CodeAuthFailed,
			Message: "authentication failed",
		})
		_ = c.Send(resp)
		_ = c.Close()
		return
	}

	c.SetAuthenticated(env.Client.InstanceID, env.Client.ClientType)
	g.clients.add(c)
	g.metrics.ConnectedClients.Set(float64(g.clients.count()))
	g.logger.Info("client connected",
		"conn_id", c.ConnID,
		"client_id", env.Client.InstanceID,
		"client_type", env.Client.ClientType,
		"bridge", c.IsBridge(),
	)
	g.sendConnectOK(c, env)
}

func (g *Gateway) sendConnectOK(c *Client, env *protocol.Envelope) {
	resp := protocol.NewResponse(env.ID, true, "gateway-ready")
	resp.ClientID = c.ClientID()
	if err := c.Send(resp); err != nil {
		g.logger.Debug("handshake response dropped", "conn_id", c.ConnID, "error", err)
	}
}

// handleRegister turns a connected client into a registered node. A client
// re-registering replaces its previous node identity.
func (g *Gateway) handleRegister(c *Client, env *protocol.Envelope) {
	p, perr := env.Register()
	if perr != nil {
		g.sendError(c, env.ID, perr)
		return
	}

	if old := c.NodeID(); old != "" {
		g.nodes.Unregister(old)
		g.groups.RemoveNodeFromAllGroups(old)
	}

	n, err := g.nodes.Register(c, p.Name, p.Capabilities, p.SessionID, p.AgentName)
	if err != nil {
		if errors.Is(err, node.ErrMaxNodesReached) {
			g.sendError(c, env.ID, protocol.NewError(protocol.CodeMaxNodesReached, "node capacity reached"))
			return
		}
		g.sendError(c, env.ID, protocol.NewError(protocol.CodeInvalidMessage, err.Error()))
		return
	}
	c.SetNodeID(n.ID)
	g.metrics.RegisteredNodes.Set(float64(g.nodes.Count()))

	if err := c.Send(protocol.NewRegistered(env.ID, n.ID)); err != nil {
		g.logger.Debug("registered envelope dropped", "conn_id", c.ConnID, "error", err)
	}
}

func (g *Gateway) handleUnregister(c *Client, env *protocol.Envelope) {
	nodeID := c.NodeID()
	if nodeID == "" {
		g.sendError(c, env.ID, protocol.NewError(protocol.CodeNotRegistered, "not registered as a node"))
		return
	}
	g.nodes.Unregister(nodeID)
	g.groups.RemoveNodeFromAllGroups(nodeID)
	c.SetNodeID("")
	g.metrics.RegisteredNodes.Set(float64(g.nodes.Count()))

	g.sendAck(c, env.ID, protocol.AckPayload{Action: "unregister", NodeID: nodeID})
}

// handleJoinGroup adds the node to a group, lazily creating named groups.
func (g *Gateway) handleJoinGroup(c *Client, env *protocol.Envelope) {
	nodeID := c.NodeID()
	if nodeID == "" {
		g.sendError(c, env.ID, protocol.NewError(protocol.CodeNotRegistered, "register before joining groups"))
		return
	}
	p, perr := env.Group()
	if perr != nil {
		g.sendError(c, env.ID, perr)
		return
	}

	var grp *group.Group
	switch {
	case p.Name != "" && p.ShouldCreate():
		grp = g.groups.GetOrCreateGroup(p.Name, nodeID, p.Description)
	case p.Name != "":
		existing, ok := g.groups.GetGroupByName(p.Name)
		if !ok {
			g.sendError(c, env.ID, protocol.NewErrorf(protocol.CodeGroupNotFound, "no such group: %s", p.Name))
			return
		}
		grp = existing
	default:
		existing, ok := g.groups.GetGroup(p.GroupID)
		if !ok {
			g.sendError(c, env.ID, protocol.NewErrorf(protocol.CodeGroupNotFound, "no such group: %s", p.GroupID))
			return
		}
		grp = existing
	}
	if err := g.groups.AddNodeToGroup(grp.ID, nodeID); err != nil {
		g.sendError(c, env.ID, protocol.NewError(protocol.CodeGroupNotFound, err.Error()))
		return
	}
	g.sendAck(c, env.ID, protocol.AckPayload{Action: "join_group", GroupID: grp.ID, NodeID: nodeID})
}

func (g *Gateway) handleLeaveGroup(c *Client, env *protocol.Envelope) {
	nodeID := c.NodeID()
	if nodeID == "" {
		g.sendError(c, env.ID, protocol.NewError(protocol.CodeNotRegistered, "register before leaving groups"))
		return
	}
	p, perr := env.Group()
	if perr != nil {
		g.sendError(c, env.ID, perr)
		return
	}

	grp, ok := g.resolveGroup(p)
	if !ok {
		g.sendError(c, env.ID, protocol.NewError(protocol.CodeGroupNotFound, "no such group"))
		return
	}
	if err := g.groups.RemoveNodeFromGroup(grp.ID, nodeID); err != nil {
		g.sendError(c, env.ID, protocol.NewError(protocol.CodeGroupNotFound, err.Error()))
		return
	}
	g.sendAck(c, env.ID, protocol.AckPayload{Action: "leave_group", GroupID: grp.ID, NodeID: nodeID})
}

func (g *Gateway) resolveGroup(p *protocol.GroupPayload) (*group.Group, bool) {
	if p.GroupID != "" {
		return g.groups.GetGroup(p.GroupID)
	}
	return g.groups.GetGroupByName(p.Name)
}

// handleBroadcast relays the envelope payload to every other member of the
// group. The relayed envelope carries the sender's node id as origin.
func (g *Gateway) handleBroadcast(c *Client, env *protocol.Envelope) {
	nodeID := c.NodeID()
	if nodeID == "" {
		g.sendError(c, env.ID, protocol.NewError(protocol.CodeNotRegistered, "register before broadcasting"))
		return
	}
	if env.GroupID == "" {
		g.sendError(c, env.ID, protocol.NewError(protocol.CodeInvalidMessage, "broadcast requires groupId"))
		return
	}
	members, err := g.groups.GroupMembers(env.GroupID)
	if err != nil {
		g.sendError(c, env.ID, protocol.NewErrorf(protocol.CodeGroupNotFound, "no such group: %s", env.GroupID))
		return
	}

	targets := make([]string, 0, len(members))
	for _, id := range members {
		if id != nodeID {
			targets = append(targets, id)
		}
	}

	relay := &protocol.Envelope{
		Type:      protocol.TypeBroadcast,
		ID:        env.ID,
		NodeID:    nodeID,
		GroupID:   env.GroupID,
		Payload:   env.Payload,
		Timestamp: protocol.NowMillis(),
	}
	sent := g.nodes.BroadcastToNodes(targets, relay)
	g.sendAck(c, env.ID, protocol.AckPayload{Action: "broadcast", GroupID: env.GroupID, Count: sent})
}

// handleDirect relays the envelope payload to one target node.
func (g *Gateway) handleDirect(c *Client, env *protocol.Envelope) {
	nodeID := c.NodeID()
	if nodeID == "" {
		g.sendError(c, env.ID, protocol.NewError(protocol.CodeNotRegistered, "register before direct messaging"))
		return
	}
	if env.TargetNodeID == "" {
		g.sendError(c, env.ID, protocol.NewError(protocol.CodeInvalidMessage, "direct requires targetNodeId"))
		return
	}

	relay := &protocol.Envelope{
		Type:      protocol.TypeDirect,
		ID:        env.ID,
		NodeID:    nodeID,
		Payload:   env.Payload,
		Timestamp: protocol.NowMillis(),
	}
	if !g.nodes.SendToNode(env.TargetNodeID, relay) {
		g.sendError(c, env.ID, protocol.NewErrorf(protocol.CodeNodeNotFound, "no such node: %s", env.TargetNodeID))
		return
	}
	g.sendAck(c, env.ID, protocol.AckPayload{Action: "direct", NodeID: env.TargetNodeID})
}

// handlePing answers with a pong and counts as node liveness.
func (g *Gateway) handlePing(c *Client, env *protocol.Envelope) {
	if nodeID := c.NodeID(); nodeID != "" {
		g.nodes.UpdatePing(nodeID)
	}
	if err := c.Send(protocol.NewEnvelope(protocol.TypePong, env.ID, nil)); err != nil {
		g.logger.Debug("pong dropped", "conn_id", c.ConnID, "error", err)
	}
}

// handlePong records liveness for the node answering a server ping.
func (g *Gateway) handlePong(c *Client) {
	if nodeID := c.NodeID(); nodeID != "" {
		g.nodes.UpdatePing(nodeID)
	}
}

func (g *Gateway) handleSessionSubscribe(c *Client, env *protocol.Envelope) {
	p, perr := env.Session()
	if perr != nil {
		g.sendError(c, env.ID, perr)
		return
	}
	g.subs.Subscribe(c, p.SessionID)
	g.sendAck(c, env.ID, protocol.AckPayload{Action: "session_subscribe", SessionID: p.SessionID})
}

func (g *Gateway) handleSessionUnsubscribe(c *Client, env *protocol.Envelope) {
	p, perr := env.Session()
	if perr != nil {
		g.sendError(c, env.ID, perr)
		return
	}
	g.subs.Unsubscribe(c, p.SessionID)
	g.sendAck(c, env.ID, protocol.AckPayload{Action: "session_unsubscribe", SessionID: p.SessionID})
}

func (g *Gateway) handleAgentRequest(c *Client, env *protocol.Envelope) {
	if env.ID == "" {
		g.sendError(c, "", protocol.NewError(protocol.CodeInvalidRequest, "req:agent requires an id"))
		return
	}
	p, perr := env.AgentRequest()
	if perr != nil {
		g.sendError(c, env.ID, perr)
		return
	}
	g.sched.submit(c, env.ID, p)
}

func (g *Gateway) handleAgentCancel(c *Client, env *protocol.Envelope) {
	p, perr := env.AgentCancel()
	if perr != nil {
		g.sendError(c, env.ID, perr)
		return
	}
	g.sched.cancelRequest(c, env.ID, p.RequestID)
}

func (g *Gateway) sendAck(c *Client, id string, payload protocol.AckPayload) {
	if err := c.Send(protocol.NewAck(id, payload)); err != nil {
		g.logger.Debug("ack dropped", "conn_id", c.ConnID, "error", err)
	}
}

func (g *Gateway) sendError(c *Client, id string, perr *protocol.Error) {
	if err := c.Send(protocol.NewErrorEnvelope(id, perr)); err != nil {
		g.logger.Debug("error envelope dropped", "conn_id", c.ConnID, "error", err)
	}
}
