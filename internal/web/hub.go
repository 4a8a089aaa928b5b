package web

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/alavescortez-del/gingerai-sub000/internal/logger"
	"github.com/alavescortez-del/gingerai-sub000/internal/models"
)

// Client is one WebSocket connection belonging to an authenticated user.
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *EventHub

	mu     sync.Mutex
	closed bool
}

// EventHub fans out turn events (assistant messages, photo deliveries) to a
// user's connected clients.
type EventHub struct {
	clients    map[string]map[string]*Client // userID -> clientID -> client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	connections atomic.Int64
	log         *logger.Logger
}

func NewEventHub(log *logger.Logger) *EventHub {
	return &EventHub{
		clients:    make(map[string]map[string]*Client),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		log:        log.With("component", "hub"),
	}
}

// Run drives the hub's event loop.
func (h *EventHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

func (h *EventHub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.UserID] == nil {
		h.clients[client.UserID] = make(map[string]*Client)
	}
	h.clients[client.UserID][client.ID] = client
	h.connections.Inc()

	go client.writePump()
}

func (h *EventHub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	perUser, ok := h.clients[client.UserID]
	if !ok {
		return
	}
	if _, ok := perUser[client.ID]; ok {
		delete(perUser, client.ID)
		close(client.Send)
		h.connections.Dec()
	}
	if len(perUser) == 0 {
		delete(h.clients, client.UserID)
	}
}

// NotifyMessage pushes a newly persisted assistant message to the user's
// connected clients. Slow clients are skipped rather than blocked on.
func (h *EventHub) NotifyMessage(userID string, msg models.Message) {
	data, err := json.Marshal(map[string]interface{}{
		"type":    "message",
		"message": msg,
		"time":    time.Now().Unix(),
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients[userID] {
		select {
		case client.Send <- data:
		default:
			h.log.Warn("client send buffer full", "client_id", client.ID)
		}
	}
}

// ConnectionCount reports live WebSocket connections.
func (h *EventHub) ConnectionCount() int64 {
	return h.connections.Load()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.mu.Lock()
			if !ok {
				c.closed = true
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.mu.Unlock()
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.closed = true
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closed = true
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	}
}

// readPump drains the connection; clients send nothing meaningful, but the
// read loop is what notices a dropped connection.
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Close closes the client connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.Conn.Close()
}
