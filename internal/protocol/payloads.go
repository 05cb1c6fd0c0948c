// ABOUTME: Typed payload schemas for each inbound message type.
// ABOUTME: Decoder methods on Envelope interpret the free-form payload per type.

package protocol

import "encoding/json"

// Attachment kinds accepted on agent requests.
const (
	AttachmentImage = "image"
	AttachmentAudio = "audio"
	AttachmentFile  = "file"
)

// Attachment is a piece of user-supplied media on an agent request. Exactly
// one of DataURL or TextContent carries the content.
type Attachment struct {
	Kind        string `json:"kind"`
	MimeType    string `json:"mimeType,omitempty"`
	DataURL     string `json:"dataUrl,omitempty"`
	TextContent string `json:"textContent,omitempty"`
	FileName    string `json:"fileName,omitempty"`
}

// RoutingHints are opaque origin hints used by the router to pick an agent
// and build a stable session key for chat-platform clients.
type RoutingHints struct {
	Platform  string `json:"platform,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
	AccountID string `json:"accountId,omitempty"`
	PeerID    string `json:"peerId,omitempty"`
}

// AgentRequestPayload is the payload of a req:agent envelope.
type AgentRequestPayload struct {
	Content     string        `json:"content"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	AgentID     string        `json:"agentId,omitempty"`
	SessionKey  string        `json:"sessionKey,omitempty"`
	Routing     *RoutingHints `json:"routing,omitempty"`
	QueueIfBusy *bool         `json:"queueIfBusy,omitempty"`
}

// ShouldQueue reports whether the request opts into queueing when the session
// already has an in-flight request. Queueing is the default.
func (p *AgentRequestPayload) ShouldQueue() bool {
	return p.QueueIfBusy == nil || *p.QueueIfBusy
}

// AgentCancelPayload is the payload of a req:agent:cancel envelope.
type AgentCancelPayload struct {
	RequestID string `json:"requestId"`
}

// RegisterPayload is the payload of a register envelope.
type RegisterPayload struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities,omitempty"`
	SessionID    string   `json:"sessionId,omitempty"`
	AgentName    string   `json:"agentName,omitempty"`
}

// GroupPayload is the payload of join_group and leave_group envelopes.
// CreateIfNotExists defaults to true for name-based joins; an explicit false
// joins existing groups only.
type GroupPayload struct {
	Name              string `json:"name,omitempty"`
	GroupID           string `json:"groupId,omitempty"`
	Description       string `json:"description,omitempty"`
	CreateIfNotExists *bool  `json:"createIfNotExists,omitempty"`
}

// ShouldCreate reports whether a name-based join may create the group.
func (p *GroupPayload) ShouldCreate() bool {
	return p.CreateIfNotExists == nil || *p.CreateIfNotExists
}

// SessionPayload is the payload of session_subscribe and session_unsubscribe.
type SessionPayload struct {
	SessionID string `json:"sessionId"`
}

// RelayPayload is the payload of broadcast and direct envelopes. The content
// is opaque to the gateway and forwarded verbatim.
type RelayPayload struct {
	Content json.RawMessage `json:"content,omitempty"`
}

// AgentRequest decodes the payload of a req:agent envelope.
func (e *Envelope) AgentRequest() (*AgentRequestPayload, *Error) {
	var p AgentRequestPayload
	if perr := decodePayload(e, &p); perr != nil {
		return nil, perr
	}
	return &p, nil
}

// AgentCancel decodes the payload of a req:agent:cancel envelope.
func (e *Envelope) AgentCancel() (*AgentCancelPayload, *Error) {
	var p AgentCancelPayload
	if perr := decodePayload(e, &p); perr != nil {
		return nil, perr
	}
	if p.RequestID == "" {
		return nil, NewError(CodeInvalidRequest, "cancel requires requestId")
	}
	return &p, nil
}

// Register decodes the payload of a register envelope.
func (e *Envelope) Register() (*RegisterPayload, *Error) {
	var p RegisterPayload
	if perr := decodePayload(e, &p); perr != nil {
		return nil, perr
	}
	if p.Name == "" {
		return nil, NewError(CodeInvalidMessage, "register requires a name")
	}
	return &p, nil
}

// Group decodes the payload of a join_group or leave_group envelope.
func (e *Envelope) Group() (*GroupPayload, *Error) {
	var p GroupPayload
	if perr := decodePayload(e, &p); perr != nil {
		return nil, perr
	}
	if p.Name == "" && p.GroupID == "" {
		return nil, NewError(CodeInvalidMessage, "group operations require a name or groupId")
	}
	return &p, nil
}

// Session decodes the payload of a session_subscribe or session_unsubscribe.
func (e *Envelope) Session() (*SessionPayload, *Error) {
	var p SessionPayload
	if perr := decodePayload(e, &p); perr != nil {
		return nil, perr
	}
	if p.SessionID == "" {
		return nil, NewError(CodeInvalidMessage, "session operations require sessionId")
	}
	return &p, nil
}
