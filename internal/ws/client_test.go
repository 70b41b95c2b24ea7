package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
)

// pumpConn records writes and flags any two that enter concurrently.
type pumpConn struct {
	reads   chan []byte
	mu      sync.Mutex
	writes  [][]byte
	inWrite atomic.Bool
	overlap atomic.Bool
}

func (c *pumpConn) ReadMessage() (int, []byte, error) {
	raw, ok := <-c.reads
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return websocket.TextMessage, raw, nil
}

func (c *pumpConn) WriteMessage(_ int, data []byte) error {
	if !c.inWrite.CompareAndSwap(false, true) {
		c.overlap.Store(true)
	}
	time.Sleep(time.Millisecond)
	c.inWrite.Store(false)

	c.mu.Lock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

func (c *pumpConn) Close() error { return nil }

func TestClient_SingleWriterAfterSessionRemoved(t *testing.T) {
	r := newTestRegistry(nil)
	s := r.OnConnect("s1")

	cn := &pumpConn{reads: make(chan []byte, 1)}
	client := &Client{registry: r, conn: cn, session: s}

	// Queue deliveries, then remove the session: the write pump is left
	// draining a closed channel while the read pump answers the next
	// message directly, since the registry no longer knows the session.
	const queued = 16
	for i := 0; i < queued; i++ {
		s.send <- []byte(`{"type":"event"}`)
	}
	r.OnDisconnect("s1")

	cn.reads <- clientMsg(t, ActionPing, "req-1", nil)
	close(cn.reads)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		client.WritePump()
	}()
	go func() {
		defer wg.Done()
		client.ReadPump()
	}()
	wg.Wait()

	if cn.overlap.Load() {
		t.Error("concurrent writes reached the connection")
	}

	cn.mu.Lock()
	defer cn.mu.Unlock()
	if len(cn.writes) != queued+1 {
		t.Fatalf("writes = %d, want %d", len(cn.writes), queued+1)
	}

	found := false
	for _, raw := range cn.writes {
		var msg ServerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == TypeError && msg.Error != nil && msg.Error.Code == "SESSION_NOT_FOUND" {
			if msg.RequestID != "req-1" {
				t.Errorf("request_id = %q, want req-1", msg.RequestID)
			}
			found = true
		}
	}
	if !found {
		t.Error("no SESSION_NOT_FOUND reply reached the connection")
	}
}
