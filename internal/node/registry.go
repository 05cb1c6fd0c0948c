// ABOUTME: Manages registered nodes, handles registration caps, and routes envelopes by node id.
// ABOUTME: Central coordinator for node lookup, broadcast, liveness, and rate limiting.

package node

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/hive-gateway/internal/protocol"
)

// ErrMaxNodesReached indicates the registry is at its configured capacity.
var ErrMaxNodesReached = errors.New("max nodes reached")

// ErrNodeNotFound indicates the specified node is not registered.
var ErrNodeNotFound = errors.New("node not found")

// Sender is the outbound half of a node's transport. Implementations
// serialize writes internally; Send never blocks on slow peers.
type Sender interface {
	Send(env *protocol.Envelope) error
	Close() error
}

// Node is a connected, registered participant.
type Node struct {
	ID           string
	Name         string
	Capabilities []string
	SessionID    string
	AgentName    string
	RegisteredAt time.Time

	sender Sender

	// lastPing and window are guarded by the registry mutex.
	lastPing time.Time
	window   []time.Time
}

// Sender returns the node's outbound transport.
func (n *Node) Sender() Sender {
	return n.sender
}

// Info is a read-only snapshot of a node for stats and listings.
type Info struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Capabilities []string  `json:"capabilities,omitempty"`
	SessionID    string    `json:"sessionId,omitempty"`
	AgentName    string    `json:"agentName,omitempty"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastPing     time.Time `json:"lastPing"`
}

// Registry coordinates all registered nodes.
type Registry struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	maxNodes int
	seq      atomic.Uint64
	logger   *slog.Logger
}

// NewRegistry creates a registry with the given node cap. A cap of zero or
// less disables the limit.
func NewRegistry(maxNodes int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		nodes:    make(map[string]*Node),
		maxNodes: maxNodes,
		logger:   logger.With("component", "node-registry"),
	}
}

// Register adds a node for the given sender and returns it. The node inherits
// a last-ping time of now. Returns ErrMaxNodesReached at capacity without
// allocating a node id.
func (r *Registry) Register(sender Sender, name string, capabilities []string, sessionID, agentName string) (*Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxNodes > 0 && len(r.nodes) >= r.maxNodes {
		return nil, ErrMaxNodesReached
	}

	now := time.Now()
	node := &Node{
		ID:           r.nextID(),
		Name:         name,
		Capabilities: capabilities,
		SessionID:    sessionID,
		AgentName:    agentName,
		RegisteredAt: now,
		sender:       sender,
		lastPing:     now,
	}
	r.nodes[node.ID] = node

	r.logger.Info("node registered",
		"node_id", node.ID,
		"name", name,
		"capabilities", capabilities,
		"total_nodes", len(r.nodes),
	)
	return node, nil
}

// nextID allocates a monotonic, collision-free node id. Must be called with
// the registry lock held.
func (r *Registry) nextID() string {
	return fmt.Sprintf("node-%d-%s", r.seq.Add(1), uuid.New().String()[:8])
}

// Unregister removes a node from the registry. The node's sender is not
// closed; ownership of the transport stays with the connection layer.
func (r *Registry) Unregister(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if node, ok := r.nodes[nodeID]; ok {
		delete(r.nodes, nodeID)
		r.logger.Info("node unregistered",
			"node_id", nodeID,
			"name", node.Name,
			"total_nodes", len(r.nodes),
		)
	}
}

// GetNode retrieves a node by id.
func (r *Registry) GetNode(nodeID string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[nodeID]
	return node, ok
}

// UpdatePing refreshes a node's last-ping timestamp.
func (r *Registry) UpdatePing(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if node, ok := r.nodes[nodeID]; ok {
		node.lastPing = time.Now()
	}
}

// SendToNode delivers an envelope to a node. Returns false if the node is
// unknown or the send failed. The write happens outside the registry lock.
func (r *Registry) SendToNode(nodeID string, env *protocol.Envelope) bool {
	r.mu.RLock()
	node, ok := r.nodes[nodeID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	if err := node.sender.Send(env); err != nil {
		r.logger.Warn("send to node failed", "node_id", nodeID, "error", err)
		return false
	}
	return true
}

// BroadcastToNodes delivers an envelope to each listed node and returns the
// number of successful sends.
func (r *Registry) BroadcastToNodes(nodeIDs []string, env *protocol.Envelope) int {
	r.mu.RLock()
	targets := make([]*Node, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if node, ok := r.nodes[id]; ok {
			targets = append(targets, node)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, node := range targets {
		if err := node.sender.Send(env); err != nil {
			r.logger.Warn("broadcast send failed", "node_id", node.ID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// AllNodes returns a snapshot of every registered node.
func (r *Registry) AllNodes() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.nodes))
	for _, node := range r.nodes {
		infos = append(infos, Info{
			ID:           node.ID,
			Name:         node.Name,
			Capabilities: node.Capabilities,
			SessionID:    node.SessionID,
			AgentName:    node.AgentName,
			RegisteredAt: node.RegisteredAt,
			LastPing:     node.lastPing,
		})
	}
	return infos
}

// Count returns the number of registered nodes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// RemoveStaleNodes evicts nodes whose last ping is older than timeout and
// closes their senders. Returns the number of evicted nodes. Senders are
// closed outside the lock so the sweep never blocks inbound handlers.
func (r *Registry) RemoveStaleNodes(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)

	r.mu.Lock()
	var stale []*Node
	for id, node := range r.nodes {
		if node.lastPing.Before(cutoff) {
			stale = append(stale, node)
			delete(r.nodes, id)
		}
	}
	r.mu.Unlock()

	for _, node := range stale {
		r.logger.Info("evicting stale node", "node_id", node.ID, "name", node.Name, "last_ping", node.lastPing)
		_ = node.sender.Close()
	}
	return len(stale)
}
