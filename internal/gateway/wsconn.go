// ABOUTME: WebSocket transport with a buffered send channel and write pump.
// ABOUTME: The write pump is the only goroutine that writes to the connection.

package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the maximum time allowed to write a frame to the peer.
	// A stalled client is disconnected rather than allowed to block the pump.
	writeWait = 10 * time.Second

	// maxMessageSize bounds inbound frames. Agent requests carry inline
	// attachments as data URLs, so the limit is generous.
	maxMessageSize = 8 << 20

	// sendBufferSize is the capacity of the per-client outbound channel.
	// When the buffer fills, frames for that client are dropped; fan-out to
	// other clients is never held up by one slow reader.
	sendBufferSize = 64
)

// wsTransport adapts a gorilla WebSocket connection to the transport
// interface. Writes go through the out channel so they are serialized onto
// the wire by a single write pump goroutine.
type wsTransport struct {
	conn *websocket.Conn
	out  chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	conn.SetReadLimit(maxMessageSize)
	return &wsTransport{
		conn: conn,
		out:  make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// send queues a frame for the write pump. Non-blocking: a full buffer drops
// the frame and reports ErrSendBufferFull.
func (t *wsTransport) send(data []byte) error {
	select {
	case <-t.done:
		return websocket.ErrCloseSent
	default:
	}

	select {
	case t.out <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// close shuts the connection down. The read loop unblocks with an error and
// runs the standard cleanup path.
func (t *wsTransport) close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.conn.Close()
	})
	return nil
}

// writePump forwards queued frames to the wire. It exits when the transport
// closes, closing the connection so the read side unblocks too.
func (t *wsTransport) writePump() {
	defer func() { _ = t.close() }()

	for {
		select {
		case data := <-t.out:
			if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-t.done:
			_ = t.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
