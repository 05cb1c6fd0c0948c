// ABOUTME: HTTP long-poll bridge for clients that cannot hold a WebSocket.
// ABOUTME: Send posts one frame; poll drains the connection's mailbox.

package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/2389/hive-gateway/internal/auth"
	"github.com/2389/hive-gateway/internal/protocol"
)

const (
	// bridgeIDHeader carries the node id a bridge client was assigned at
	// registration. Required on every poll.
	bridgeIDHeader = "X-Node-ID"

	// bridgePollTimeout is how long a poll parks before returning empty.
	bridgePollTimeout = 30 * time.Second

	// bridgeMaxBody bounds a single posted frame.
	bridgeMaxBody = 8 << 20

	// bridgeIdleTimeout evicts bridge connections with no traffic. Longer than
	// the node ping timeout so registered bridge nodes are evicted by the
	// liveness sweep first.
	bridgeIdleTimeout = 2 * time.Minute
)

// bridgeConn is one logical connection speaking through the HTTP bridge.
type bridgeConn struct {
	client *Client
	mb     *mailbox

	mu       sync.Mutex
	lastSeen time.Time
}

func (b *bridgeConn) touch() {
	b.mu.Lock()
	b.lastSeen = time.Now()
	b.mu.Unlock()
}

func (b *bridgeConn) idleSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeen
}

// bridgeSet tracks live bridge connections by node id.
type bridgeSet struct {
	mu    sync.Mutex
	conns map[string]*bridgeConn
}

func newBridgeSet() *bridgeSet {
	return &bridgeSet{conns: make(map[string]*bridgeConn)}
}

func (s *bridgeSet) get(id string) (*bridgeConn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bc, ok := s.conns[id]
	return bc, ok
}

func (s *bridgeSet) put(id string, bc *bridgeConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[id] = bc
}

func (s *bridgeSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

func (s *bridgeSet) idle(cutoff time.Time) []*bridgeConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*bridgeConn
	for _, bc := range s.conns {
		if bc.idleSince().Before(cutoff) {
			out = append(out, bc)
		}
	}
	return out
}

// handleBridgeSend accepts one inbound envelope over HTTP. A register envelope
// opens a new bridge connection and is answered synchronously with the
// registered envelope carrying the assigned node id. Every other envelope must
// carry the nodeId of an open bridge connection; replies arrive via poll.
func (g *Gateway) handleBridgeSend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, bridgeMaxBody))
	if err != nil || len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}
	env, perr := protocol.Parse(body)
	if perr != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": perr.Message})
		return
	}

	if env.Type == protocol.TypeRegister {
		g.handleBridgeRegister(w, r, env)
		return
	}

	if env.NodeID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "nodeId is required"})
		return
	}
	bc, ok := g.bridges.get(env.NodeID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown bridge node"})
		return
	}
	bc.touch()

	// Bridge clients re-send after timeouts; suppress exact replays by
	// envelope id. Re-sent agent requests pass through, the scheduler treats
	// them as a resubmit of the same request id.
	if env.ID != "" && env.Type != protocol.TypeAgentRequest {
		if g.dedupe.CheckAndMark(env.NodeID + ":" + env.ID) {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "duplicate": true})
			return
		}
	}

	g.handleFrame(bc.client, body)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleBridgeRegister authenticates the envelope, allocates a node backed by
// a mailbox, and returns the registered envelope as the HTTP response body.
func (g *Gateway) handleBridgeRegister(w http.ResponseWriter, r *http.Request, env *protocol.Envelope) {
	creds := auth.Credentials{}
	if env.Auth != nil {
		creds = auth.Credentials{
			Token:    env.Auth.Token,
			Password: env.Auth.Password,
			DeviceID: env.Auth.DeviceID,
		}
	}
	identity := r.Header.Get(identityHeader)
	if err := g.auth.Validate(creds, identity); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication failed"})
		return
	}

	mb := newMailbox()
	t := &mailboxTransport{mb: mb}
	c := newClient(t, identity, true)

	instanceID := "bridge-" + c.ConnID
	clientType := "bridge"
	if env.Client != nil {
		if env.Client.InstanceID != "" {
			instanceID = env.Client.InstanceID
		}
		if env.Client.ClientType != "" {
			clientType = env.Client.ClientType
		}
	}
	c.SetAuthenticated(instanceID, clientType)
	g.clients.add(c)
	g.metrics.ConnectedClients.Set(float64(g.clients.count()))

	g.handleRegister(c, env)

	nodeID := c.NodeID()
	if nodeID == "" {
		// Registration was refused; the error envelope sits in the mailbox.
		frames, _ := mb.poll(r.Context(), time.Second)
		g.cleanupClient(c)
		if len(frames) > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(frames[len(frames)-1])
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "registration failed"})
		return
	}

	bc := &bridgeConn{client: c, mb: mb, lastSeen: time.Now()}
	t.onClose = func() {
		g.bridges.remove(nodeID)
		g.cleanupClient(c)
	}
	g.bridges.put(nodeID, bc)
	g.logger.Info("bridge connection opened", "node_id", nodeID, "conn_id", c.ConnID)

	frames, _ := mb.poll(r.Context(), time.Second)
	if len(frames) == 0 {
		writeJSON(w, http.StatusOK, protocol.NewRegistered(env.ID, nodeID))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frames[len(frames)-1])
}

// handleBridgePoll parks until frames are available for the bridge node or
// the poll window elapses. A second poll for the same node supersedes the
// first.
func (g *Gateway) handleBridgePoll(w http.ResponseWriter, r *http.Request) {
	nodeID := r.Header.Get(bridgeIDHeader)
	if nodeID == "" {
		http.Error(w, "missing "+bridgeIDHeader+" header", http.StatusBadRequest)
		return
	}
	bc, ok := g.bridges.get(nodeID)
	if !ok {
		http.Error(w, "unknown bridge connection", http.StatusNotFound)
		return
	}
	bc.touch()

	frames, err := bc.mb.poll(r.Context(), bridgePollTimeout)
	if err != nil {
		http.Error(w, "bridge connection closed", http.StatusNotFound)
		return
	}

	messages := make([]json.RawMessage, 0, len(frames))
	for _, f := range frames {
		messages = append(messages, json.RawMessage(f))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// sweepIdleBridges closes bridge connections that have gone quiet.
func (g *Gateway) sweepIdleBridges() {
	for _, bc := range g.bridges.idle(time.Now().Add(-bridgeIdleTimeout)) {
		g.logger.Info("closing idle bridge connection", "conn_id", bc.client.ConnID)
		_ = bc.client.Close()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
