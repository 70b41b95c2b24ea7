package ws

import (
	"context"
	"sync"

	"github.com/gofiber/websocket/v2"
)

// conn is the subset of *websocket.Conn the pumps use.
type conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client pumps one websocket connection in and out of the registry. The read
// pump feeds client messages to the registry; the write pump drains the
// session's send channel, which closes when the registry removes the session.
// Both pumps write through writeMessage: the connection allows only one
// writer at a time, and the read pump replies directly when the session is
// already gone from the registry.
type Client struct {
	registry *Registry
	conn     conn
	session  *Session
	writeMu  sync.Mutex
}

func (c *Client) writeMessage(message []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

func (c *Client) ReadPump() {
	defer func() {
		c.registry.OnDisconnect(c.session.ID)
		_ = c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		if reply := c.registry.OnMessage(context.Background(), c.session.ID, raw); reply != nil {
			if err := c.writeMessage(reply); err != nil {
				break
			}
		}
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for message := range c.session.Send() {
		if err := c.writeMessage(message); err != nil {
			return
		}
	}
}
