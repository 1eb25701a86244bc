package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// client is one websocket connection owned by a user.
type client struct {
	id     string
	userID core.UserID
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub tracks websocket clients and delivers proactive messages to the
// clients of the message's user.
type Hub struct {
	upgrader websocket.Upgrader
	clients  map[string]*client
	mu       sync.RWMutex
	wg       sync.WaitGroup
	closed   bool
	log      *logging.Logger

	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local single-user deployment
			},
		},
		clients: make(map[string]*client),
		log:     logging.Component("notifications"),
	}
}

// Publish delivers m to the user's connected clients. It satisfies the
// proactive service's publisher.
func (h *Hub) Publish(_ context.Context, m *core.ProactiveMessage) error {
	h.Deliver(m)
	return nil
}

// Deliver queues m on every client of m.UserID and returns how many
// clients it was queued on. A client whose buffer is full is dropped.
func (h *Hub) Deliver(m *core.ProactiveMessage) int {
	frame, err := json.Marshal(Event{Type: EventProactive, Payload: m, Timestamp: time.Now().UTC()})
	if err != nil {
		h.log.WithField("error", err).Error("encode proactive event")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, c := range h.clients {
		if c.userID != m.UserID {
			continue
		}
		select {
		case c.send <- frame:
			n++
			h.delivered.Add(1)
		default:
			h.dropped.Add(1)
			h.log.WithField("client_id", c.id).Warn("client too slow, disconnecting")
			c.close()
		}
	}
	return n
}

// ServeWS upgrades the request and streams the user's messages until the
// client disconnects or the hub closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID core.UserID) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.log.WithField("error", err).Debug("websocket upgrade failed")
		return
	}

	c := &client{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c.id] = c
	h.wg.Add(2)
	h.mu.Unlock()

	h.log.WithFields(map[string]interface{}{
		"client_id": c.id,
		"user_id":   userID,
	}).Info("websocket client connected")

	go h.writeLoop(c)
	go h.readLoop(c)
}

// readLoop drains control frames and notices disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.wg.Done()
	defer c.close()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(c)
		c.conn.Close()
	}()

	hello, _ := json.Marshal(Event{Type: EventHello, ClientID: c.id, Timestamp: time.Now().UTC()})
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return
	}

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	h.log.WithField("client_id", c.id).Debug("websocket client removed")
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns hub counters
func (h *Hub) Stats() HubStats {
	return HubStats{
		Clients:   h.ClientCount(),
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for _, c := range h.clients {
		c.close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}
