// ABOUTME: Structured protocol error type and the closed set of error codes.
// ABOUTME: Protocol errors map one-to-one onto outbound error envelopes.

package protocol

import "fmt"

// Error codes reported to clients in error envelopes.
const (
	CodeInvalidMessage     = "INVALID_MESSAGE"
	CodeInvalidConnect     = "INVALID_CONNECT"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeAuthRequired       = "AUTH_REQUIRED"
	CodeAuthFailed         = "AUTH_FAILED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotRegistered      = "NOT_REGISTERED"
	CodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeMaxNodesReached    = "MAX_NODES_REACHED"
	CodeGroupNotFound      = "GROUP_NOT_FOUND"
	CodeNodeNotFound       = "NODE_NOT_FOUND"
)

// Error is a protocol-level failure reported to the offending client. The
// connection is preserved unless the caller decides otherwise (AUTH_FAILED
// during connect is the only code followed by a close).
type Error struct {
	Code    string
	Message string
	Details any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a protocol error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf builds a protocol error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
