// ABOUTME: Inbound envelope parsing and schema validation.
// ABOUTME: Returns a typed envelope or a structured protocol error.

package protocol

import "encoding/json"

// Parse decodes and validates a raw inbound frame. It returns a typed
// envelope, or a protocol error suitable for sending back to the client:
// malformed JSON or missing required fields yield CodeInvalidMessage, an
// unrecognized type yields CodeUnknownMessageType.
func Parse(data []byte) (*Envelope, *Error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, NewErrorf(CodeInvalidMessage, "malformed JSON: %v", err)
	}
	if perr := Validate(&env); perr != nil {
		return nil, perr
	}
	return &env, nil
}

// Validate schema-checks an already-decoded envelope.
func Validate(env *Envelope) *Error {
	if env.Type == "" {
		return NewError(CodeInvalidMessage, "missing required field: type")
	}
	if !knownTypes[env.Type] {
		return NewErrorf(CodeUnknownMessageType, "unknown message type: %s", env.Type)
	}
	if env.Timestamp == 0 {
		return NewError(CodeInvalidMessage, "missing required field: timestamp")
	}
	return nil
}

// ValidateConnect checks the handshake-specific fields of a connect envelope.
func ValidateConnect(env *Envelope) *Error {
	if env.Client == nil {
		return NewError(CodeInvalidConnect, "connect requires a client block")
	}
	if env.Client.InstanceID == "" {
		return NewError(CodeInvalidConnect, "connect requires client.instanceId")
	}
	if env.Client.ClientType == "" {
		return NewError(CodeInvalidConnect, "connect requires client.clientType")
	}
	return nil
}

// decodePayload unmarshals the envelope payload into dst, reporting schema
// violations as CodeInvalidMessage.
func decodePayload(env *Envelope, dst any) *Error {
	if len(env.Payload) == 0 {
		return NewErrorf(CodeInvalidMessage, "%s requires a payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return NewErrorf(CodeInvalidMessage, "malformed %s payload: %v", env.Type, err)
	}
	return nil
}
