package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"watchpost/internal/database"
	"watchpost/internal/observability"
)

const writeWait = 10 * time.Second

// client serializes writes to one connection; gorilla allows a single writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// EventHub pushes stored detection events to connected dashboards.
type EventHub struct {
	clients map[*client]bool
	mu      sync.RWMutex
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[*client]bool)}
}

func (h *EventHub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	observability.WSConnections.Set(float64(n))
	log.Printf("[WS] Client registered (total: %d)", n)
}

func (h *EventHub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		observability.WSConnections.Set(float64(n))
		log.Printf("[WS] Client unregistered (total: %d)", n)
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnEvent broadcasts ev to every client. Clients that fail a write are dropped.
func (h *EventHub) OnEvent(_ context.Context, ev *database.DetectionEvent) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(NewEventMessage(ev))
	if err != nil {
		log.Printf("[WS] Error marshaling event %d: %v", ev.ID, err)
		return
	}

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, data); err != nil {
			log.Printf("[WS] Error sending to client: %v", err)
			h.unregister(c)
			c.conn.Close()
		}
	}
}

// Close disconnects every client.
func (h *EventHub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]bool)
	h.mu.Unlock()

	for c := range clients {
		c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		c.conn.Close()
	}
	observability.WSConnections.Set(0)
}
