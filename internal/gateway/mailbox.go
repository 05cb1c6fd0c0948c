// ABOUTME: Per-node mailbox backing the HTTP long-poll bridge.
// ABOUTME: FIFO of outbound frames plus at most one parked waiter.

package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// errMailboxClosed indicates the bridge node has been torn down.
var errMailboxClosed = errors.New("mailbox closed")

// mailbox is the HTTP long-poll equivalent of a socket's outbound stream.
// Frames pushed while a waiter is parked are delivered immediately;
// otherwise they queue until the next poll.
type mailbox struct {
	mu     sync.Mutex
	queue  [][]byte
	waiter chan [][]byte
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{}
}

// push appends a frame, waking a parked waiter if present.
func (m *mailbox) push(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errMailboxClosed
	}
	m.queue = append(m.queue, data)
	if m.waiter != nil {
		m.waiter <- m.queue
		m.queue = nil
		m.waiter = nil
	}
	return nil
}

// poll drains queued frames, or parks for up to timeout waiting for some.
// A poll arriving while another is parked replaces it: the superseded waiter
// resolves immediately with nothing. Clients are not expected to long-poll
// twice concurrently.
func (m *mailbox) poll(ctx context.Context, timeout time.Duration) ([][]byte, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errMailboxClosed
	}
	if len(m.queue) > 0 {
		msgs := m.queue
		m.queue = nil
		m.mu.Unlock()
		return msgs, nil
	}

	ch := make(chan [][]byte, 1)
	if m.waiter != nil {
		m.waiter <- nil
	}
	m.waiter = ch
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msgs := <-ch:
		return msgs, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	// Timed out or caller went away: unpark and return whatever arrived in
	// the race window.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waiter == ch {
		m.waiter = nil
	}
	select {
	case msgs := <-ch:
		return msgs, nil
	default:
	}
	msgs := m.queue
	m.queue = nil
	return msgs, nil
}

// close tears the mailbox down, releasing any parked waiter.
func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	if m.waiter != nil {
		m.waiter <- nil
		m.waiter = nil
	}
	m.queue = nil
}

// mailboxTransport adapts a mailbox to the transport interface so bridge
// nodes share the Client type with WebSocket peers.
type mailboxTransport struct {
	mb      *mailbox
	onClose func()

	closed atomic.Bool
}

func (t *mailboxTransport) send(data []byte) error {
	return t.mb.push(data)
}

// close is reentrant: onClose triggers client cleanup, which closes the
// transport again, so the flag must be settled before onClose runs.
func (t *mailboxTransport) close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mb.close()
	if t.onClose != nil {
		t.onClose()
	}
	return nil
}
