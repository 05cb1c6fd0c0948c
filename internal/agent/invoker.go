// ABOUTME: Invoker interface and event stream contract for agent invocations.
// ABOUTME: Includes an echo invoker used by the standalone binary and tests.

package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/2389/hive-gateway/internal/protocol"
)

// Event is one opaque event yielded by an agent invocation. The gateway
// forwards events without interpreting them beyond the fan-out wrapping.
type Event = json.RawMessage

// InvokeRequest carries everything an invocation needs.
type InvokeRequest struct {
	AgentID     string
	Content     string
	SessionKey  string
	Attachments []protocol.Attachment
	Workdir     string
	OutputDir   string
}

// Invoker drives an agent invocation. The returned channel yields events
// until the agent finishes; cancelling ctx must terminate the invocation
// promptly and close the stream.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (<-chan Event, error)
}

// EchoInvoker is a trivial invoker that reflects the request content back as
// a single token event. It lets the gateway binary run end-to-end without an
// agent runtime attached and serves as the default in tests.
type EchoInvoker struct{}

// Invoke emits one token event echoing the content, then closes the stream.
func (EchoInvoker) Invoke(ctx context.Context, req InvokeRequest) (<-chan Event, error) {
	ch := make(chan Event, 1)
	go func() {
		defer close(ch)
		ev := mustEvent(map[string]any{
			"type": "token",
			"text": fmt.Sprintf("echo: %s", req.Content),
		})
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func mustEvent(v any) Event {
	data, err := json.Marshal(v)
	if err != nil {
		return Event(`{"type":"agent-error","error":"event marshal failure"}`)
	}
	return data
}
