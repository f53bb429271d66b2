// Package live pushes leaderboard updates to connected websocket
// clients whenever a score submission is accepted.
package live

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Leaderboard data is public, so cross-origin subscribers are fine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one connected websocket subscriber.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans broadcast payloads out to every connected client. The hub
// never reads application data from clients; the feed is one-way.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a Hub. Call Run in its own goroutine before serving
// connections.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
	}
}

// Run owns the client set. It loops until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("live client connected", slog.Int("total", total))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("live client disconnected", slog.Int("total", total))

		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Slow consumer, drop it.
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a payload for every connected client. If the queue
// is full the payload is dropped; the next push carries fresh data
// anyway.
func (h *Hub) Broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshaling live payload failed", slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("live broadcast queue full, dropping payload")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleConnection upgrades the request and registers the connection
// with the hub.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// readPump discards inbound frames and detects disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the send queue and keeps the connection alive with
// periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
