package coordinator

import (
	"sync"

	"github.com/meshsock/presence/src/types"
)

// Client wraps one physical connection and its message flow.
type Client struct {
	ID    string
	conn  types.Conn
	coord *Coordinator
	Send  chan types.Envelope

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

func newClient(id string, conn types.Conn, coord *Coordinator, buffer int) *Client {
	return &Client{
		ID:    id,
		conn:  conn,
		coord: coord,
		Send:  make(chan types.Envelope, buffer),
		done:  make(chan struct{}),
	}
}

// ReadPump reads frames from the connection into the coordinator until the
// connection drops, then triggers the disconnect flow.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.coord.unregister <- c:
		case <-c.coord.done:
		}
		c.conn.Close()
	}()

	for {
		raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.coord.HandleRaw(c.ID, raw)
	}
}

// WritePump writes queued envelopes to the connection. Call in a goroutine.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		select {
		case env, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// push queues an envelope without blocking. Returns false when the buffer is
// full or the client is closed.
func (c *Client) push(env types.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}

// Close signals the pumps to stop. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}
