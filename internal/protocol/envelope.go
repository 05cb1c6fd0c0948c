// ABOUTME: Envelope struct and message type enum for the gateway wire protocol.
// ABOUTME: Includes constructors for the outbound envelope shapes the server emits.

package protocol

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of envelope. The set is closed; Parse
// rejects anything else with CodeUnknownMessageType.
type MessageType string

// Inbound message types.
const (
	TypeConnect            MessageType = "connect"
	TypeRegister           MessageType = "register"
	TypeUnregister         MessageType = "unregister"
	TypeSessionSubscribe   MessageType = "session_subscribe"
	TypeSessionUnsubscribe MessageType = "session_unsubscribe"
	TypeJoinGroup          MessageType = "join_group"
	TypeLeaveGroup         MessageType = "leave_group"
	TypeBroadcast          MessageType = "broadcast"
	TypeDirect             MessageType = "direct"
	TypePing               MessageType = "ping"
	TypePong               MessageType = "pong"
	TypeAgentRequest       MessageType = "req:agent"
	TypeAgentCancel        MessageType = "req:agent:cancel"
)

// Outbound message types.
const (
	TypeRes        MessageType = "res"
	TypeAck        MessageType = "ack"
	TypeRegistered MessageType = "registered"
	TypeAgentEvent MessageType = "event:agent"
	TypeError      MessageType = "error"
)

// knownTypes is the full set of types accepted by Parse. Outbound types are
// included because bridge clients relay server-shaped envelopes back through
// /bridge/send (e.g. pong responses to a server ping).
var knownTypes = map[MessageType]bool{
	TypeConnect:            true,
	TypeRegister:           true,
	TypeUnregister:         true,
	TypeSessionSubscribe:   true,
	TypeSessionUnsubscribe: true,
	TypeJoinGroup:          true,
	TypeLeaveGroup:         true,
	TypeBroadcast:          true,
	TypeDirect:             true,
	TypePing:               true,
	TypePong:               true,
	TypeAgentRequest:       true,
	TypeAgentCancel:        true,
	TypeRes:                true,
	TypeAck:                true,
	TypeRegistered:         true,
	TypeAgentEvent:         true,
	TypeError:              true,
}

// ClientInfo identifies the connecting client instance during the handshake.
type ClientInfo struct {
	InstanceID string `json:"instanceId"`
	ClientType string `json:"clientType"`
	Version    string `json:"version,omitempty"`
}

// AuthCredentials carries the credentials presented on connect.
type AuthCredentials struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
}

// Envelope is the frame exchanged with every gateway client. All fields except
// Type and Timestamp are optional; Payload is interpreted per Type.
type Envelope struct {
	Type         MessageType      `json:"type"`
	ID           string           `json:"id,omitempty"`
	Client       *ClientInfo      `json:"client,omitempty"`
	Auth         *AuthCredentials `json:"auth,omitempty"`
	OK           *bool            `json:"ok,omitempty"`
	ClientID     string           `json:"clientId,omitempty"`
	NodeID       string           `json:"nodeId,omitempty"`
	GroupID      string           `json:"groupId,omitempty"`
	TargetNodeID string           `json:"targetNodeId,omitempty"`
	Payload      json.RawMessage  `json:"payload,omitempty"`
	Timestamp    int64            `json:"timestamp"`
}

// NowMillis returns the current time as a millisecond epoch timestamp.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// mustMarshal encodes a payload, falling back to JSON null on failure.
// Outbound payloads are server-constructed types that always marshal; the
// fallback only guards against exotic values like NaN floats.
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}

// NewEnvelope builds an outbound envelope of the given type with a marshaled
// payload. A nil payload leaves the payload field empty.
func NewEnvelope(t MessageType, id string, payload any) *Envelope {
	env := &Envelope{
		Type:      t,
		ID:        id,
		Timestamp: NowMillis(),
	}
	if payload != nil {
		env.Payload = mustMarshal(payload)
	}
	return env
}

// NewResponse builds the res envelope answering a connect handshake.
func NewResponse(id string, ok bool, payload any) *Envelope {
	env := NewEnvelope(TypeRes, id, payload)
	env.OK = &ok
	return env
}

// AckPayload is the payload of every ack envelope. Action names the operation
// being acknowledged; the remaining fields are action-specific.
type AckPayload struct {
	Action    string `json:"action"`
	Status    string `json:"status,omitempty"`
	Position  int    `json:"position,omitempty"`
	Remaining *int   `json:"remaining,omitempty"`
	NodeID    string `json:"nodeId,omitempty"`
	GroupID   string `json:"groupId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Count     int    `json:"count,omitempty"`
}

// NewAck builds an ack envelope correlated to the inbound envelope id.
func NewAck(id string, payload AckPayload) *Envelope {
	return NewEnvelope(TypeAck, id, payload)
}

// NewRegistered builds the registered envelope carrying the assigned node id.
func NewRegistered(id, nodeID string) *Envelope {
	env := NewEnvelope(TypeRegistered, id, map[string]string{"nodeId": nodeID})
	env.NodeID = nodeID
	return env
}

// NewAgentEvent wraps an agent stream event. The envelope id is the request id
// the event belongs to; the payload already carries sessionId and agentId.
func NewAgentEvent(requestID string, payload any) *Envelope {
	return NewEnvelope(TypeAgentEvent, requestID, payload)
}

// NewErrorEnvelope builds an error envelope from a protocol error.
func NewErrorEnvelope(id string, perr *Error) *Envelope {
	return NewEnvelope(TypeError, id, ErrorPayload{
		Code:    perr.Code,
		Message: perr.Message,
		Details: perr.Details,
	})
}

// ErrorPayload is the payload of every error envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}
