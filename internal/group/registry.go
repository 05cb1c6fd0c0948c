// ABOUTME: Group registry with lazy creation, membership indexes, and member listing.
// ABOUTME: Keeps group-to-members and node-to-groups maps mutually consistent.

package group

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrGroupNotFound indicates the group does not exist.
var ErrGroupNotFound = errors.New("group not found")

// Group is a named set of node ids.
type Group struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	CreatorNodeID string    `json:"creatorNodeId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Registry maintains groups and their membership.
type Registry struct {
	mu      sync.RWMutex
	groups  map[string]*Group          // group id -> group
	byName  map[string]string          // name -> group id
	members map[string]map[string]bool // group id -> node ids
	nodeIn  map[string]map[string]bool // node id -> group ids
	logger  *slog.Logger
}

// NewRegistry creates an empty group registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		groups:  make(map[string]*Group),
		byName:  make(map[string]string),
		members: make(map[string]map[string]bool),
		nodeIn:  make(map[string]map[string]bool),
		logger:  logger.With("component", "group-registry"),
	}
}

// GetOrCreateGroup returns the group with the given name, creating it lazily.
func (r *Registry) GetOrCreateGroup(name, creatorNodeID, description string) *Group {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byName[name]; ok {
		return r.groups[id]
	}

	g := &Group{
		ID:            "group-" + uuid.New().String()[:8],
		Name:          name,
		Description:   description,
		CreatorNodeID: creatorNodeID,
		CreatedAt:     time.Now(),
	}
	r.groups[g.ID] = g
	r.byName[name] = g.ID
	r.members[g.ID] = make(map[string]bool)

	r.logger.Info("group created", "group_id", g.ID, "name", name, "creator", creatorNodeID)
	return g
}

// GetGroup retrieves a group by id.
func (r *Registry) GetGroup(groupID string) (*Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[groupID]
	return g, ok
}

// GetGroupByName retrieves a group by its human name.
func (r *Registry) GetGroupByName(name string) (*Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.groups[id], true
}

// AddNodeToGroup adds a node to a group's member set.
func (r *Registry) AddNodeToGroup(groupID, nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[groupID]; !ok {
		return ErrGroupNotFound
	}
	r.members[groupID][nodeID] = true
	if r.nodeIn[nodeID] == nil {
		r.nodeIn[nodeID] = make(map[string]bool)
	}
	r.nodeIn[nodeID][groupID] = true
	return nil
}

// RemoveNodeFromGroup removes a node from a group's member set.
func (r *Registry) RemoveNodeFromGroup(groupID, nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[groupID]; !ok {
		return ErrGroupNotFound
	}
	delete(r.members[groupID], nodeID)
	if in := r.nodeIn[nodeID]; in != nil {
		delete(in, groupID)
		if len(in) == 0 {
			delete(r.nodeIn, nodeID)
		}
	}
	return nil
}

// RemoveNodeFromAllGroups removes a node from every group it belongs to.
// Used on node disconnect; empty groups persist.
func (r *Registry) RemoveNodeFromAllGroups(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for groupID := range r.nodeIn[nodeID] {
		delete(r.members[groupID], nodeID)
	}
	delete(r.nodeIn, nodeID)
}

// GroupMembers returns the node ids in a group.
func (r *Registry) GroupMembers(groupID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.members[groupID]
	if !ok {
		return nil, ErrGroupNotFound
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids, nil
}

// GroupsOf returns the group ids a node belongs to.
func (r *Registry) GroupsOf(nodeID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.nodeIn[nodeID]))
	for id := range r.nodeIn[nodeID] {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of groups.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}
