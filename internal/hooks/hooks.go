// ABOUTME: Best-effort internal lifecycle hooks for the embedding process.
// ABOUTME: Hook failures are swallowed; dispatch never blocks the caller.

package hooks

import (
	"log/slog"
	"sync"
)

// Event names dispatched by the gateway core.
const (
	EventGatewayStartup  = "gateway startup"
	EventSessionStart    = "session start"
	EventMessageReceived = "message received"
)

// Payload carries the event's context fields.
type Payload struct {
	SessionKey string
	AgentID    string
	ClientType string
}

// Func is a registered hook callback.
type Func func(event string, payload Payload)

// Hooks dispatches lifecycle events to registered callbacks. Dispatch is
// asynchronous and best-effort: panics are recovered and logged at debug.
type Hooks struct {
	mu     sync.RWMutex
	funcs  []Func
	logger *slog.Logger
}

// New creates an empty hook dispatcher.
func New(logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{logger: logger.With("component", "hooks")}
}

// Register adds a callback for all lifecycle events.
func (h *Hooks) Register(fn Func) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.funcs = append(h.funcs, fn)
}

// Emit dispatches an event to every registered callback on its own goroutine.
func (h *Hooks) Emit(event string, payload Payload) {
	h.mu.RLock()
	funcs := make([]Func, len(h.funcs))
	copy(funcs, h.funcs)
	h.mu.RUnlock()

	for _, fn := range funcs {
		go h.dispatch(fn, event, payload)
	}
}

func (h *Hooks) dispatch(fn Func, event string, payload Payload) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Debug("hook panicked", "event", event, "panic", r)
		}
	}()
	fn(event, payload)
}
