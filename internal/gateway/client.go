// ABOUTME: Client represents one connected socket and its socket-scoped state.
// ABOUTME: Writes are serialized through the transport; state is mutex-guarded.

package gateway

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/hive-gateway/internal/protocol"
)

// ErrSendBufferFull indicates the client's outbound buffer is saturated.
// The frame is dropped for this client; the fan-out path never blocks.
var ErrSendBufferFull = errors.New("send buffer full")

// transport is the outbound byte channel of a client. Implementations
// serialize writes internally (write pump for WebSocket, mailbox for bridge).
type transport interface {
	send(data []byte) error
	close() error
}

// Client is the gateway's handle for one connected peer, WebSocket or
// bridge. It exclusively owns the outbound stream and carries socket-scoped
// state: the authenticated flag, client identity from the handshake, the
// registered node id, and the transport-supplied user identity.
type Client struct {
	// ConnID identifies the connection in logs. Not the node id.
	ConnID string

	transport transport

	mu            sync.RWMutex
	authenticated bool
	clientID      string
	clientType    string
	nodeID        string
	userIdentity  string
	bridge        bool

	cleanupOnce sync.Once
}

// newClient wraps a transport in a Client.
func newClient(t transport, userIdentity string, bridge bool) *Client {
	return &Client{
		ConnID:       uuid.New().String()[:8],
		transport:    t,
		userIdentity: userIdentity,
		bridge:       bridge,
	}
}

// Send marshals the envelope and hands it to the transport. Encoding happens
// before the transport's internal lock; only the final write is serialized.
func (c *Client) Send(env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.transport.send(data)
}

// Close tears down the transport. Safe to call multiple times.
func (c *Client) Close() error {
	return c.transport.close()
}

// SetAuthenticated records a successful handshake and the client identity.
func (c *Client) SetAuthenticated(clientID, clientType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = true
	c.clientID = clientID
	c.clientType = clientType
}

// Authenticated reports whether the handshake succeeded.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// ClientID returns the instance id presented at handshake.
func (c *Client) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// ClientType returns the client class presented at handshake.
func (c *Client) ClientType() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientType
}

// SetNodeID records the node registered on this socket.
func (c *Client) SetNodeID(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodeID = nodeID
}

// NodeID returns the node registered on this socket, or "".
func (c *Client) NodeID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nodeID
}

// UserIdentity returns the transport-level identity from an upstream proxy.
func (c *Client) UserIdentity() string {
	return c.userIdentity
}

// IsBridge reports whether this client speaks through the HTTP bridge.
func (c *Client) IsBridge() bool {
	return c.bridge
}

// clientRegistry is the set of connected, authenticated clients.
type clientRegistry struct {
	mu      sync.RWMutex
	clients map[*Client]bool
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{clients: make(map[*Client]bool)}
}

func (r *clientRegistry) add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c] = true
}

func (r *clientRegistry) remove(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, c)
}

func (r *clientRegistry) contains(c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[c]
}

func (r *clientRegistry) all() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *clientRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
