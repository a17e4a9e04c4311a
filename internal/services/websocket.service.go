package services

import (
	"context"
	"sync"
	"time"

	"trafficwatch/internal/models"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// WebSocketMessage is the envelope for every frame in either direction
type WebSocketMessage struct {
	Type      string          `json:"type"` // "stats", "ping", "pong", "error"
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// StatsPayload is pushed to every client once per broadcast interval
type StatsPayload struct {
	Ports     []models.PortStats   `json:"ports"`
	System    *models.SystemStatus `json:"system,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// StatsSource is the read side of the engine the hub needs
type StatsSource interface {
	AllPortStats() []models.PortStats
}

// ClientConnection is one connected dashboard. Send is closed by the hub;
// everyone else queues frames through Deliver.
type ClientConnection struct {
	ID   string
	Conn *websocket.Conn
	Send chan WebSocketMessage

	mu     sync.Mutex
	closed bool
}

// Deliver queues msg without blocking. It reports false when the frame was
// dropped because the client is slow or already closed.
func (c *ClientConnection) Deliver(msg WebSocketMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

func (c *ClientConnection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// WebSocketHub fans stats out to all connected clients
type WebSocketHub struct {
	source   StatsSource
	system   *SystemMonitor
	interval time.Duration

	clients    map[string]*ClientConnection
	broadcast  chan WebSocketMessage
	register   chan *ClientConnection
	unregister chan string
	done       chan struct{}
	mu         sync.RWMutex
}

// NewWebSocketHub creates a hub; system may be nil
func NewWebSocketHub(source StatsSource, system *SystemMonitor, interval time.Duration) *WebSocketHub {
	return &WebSocketHub{
		source:     source,
		system:     system,
		interval:   interval,
		clients:    make(map[string]*ClientConnection),
		broadcast:  make(chan WebSocketMessage, 256),
		register:   make(chan *ClientConnection),
		unregister: make(chan string),
		done:       make(chan struct{}),
	}
}

// Run manages the hub's event loop until ctx is cancelled
func (h *WebSocketHub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			count := len(h.clients)
			h.mu.Unlock()
			log.WithFields(log.Fields{"client": client.ID, "total": count}).Info("websocket client connected")

		case clientID := <-h.unregister:
			h.mu.Lock()
			if client, exists := h.clients[clientID]; exists {
				delete(h.clients, clientID)
				client.close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.WithFields(log.Fields{"client": clientID, "total": count}).Info("websocket client disconnected")

		case msg := <-h.broadcast:
			h.fanOut(msg)

		case <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			msg, err := h.statsMessage()
			if err != nil {
				log.WithError(err).Warn("could not encode stats for websocket clients")
				continue
			}
			h.fanOut(msg)
		}
	}
}

func (h *WebSocketHub) fanOut(msg WebSocketMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		// slow clients drop this frame
		client.Deliver(msg)
	}
}

func (h *WebSocketHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		client.close()
		delete(h.clients, id)
	}
}

func (h *WebSocketHub) statsMessage() (WebSocketMessage, error) {
	payload := StatsPayload{
		Ports:     h.source.AllPortStats(),
		Timestamp: time.Now(),
	}
	if h.system != nil {
		if status, err := h.system.Status(); err == nil {
			payload.System = &status
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return WebSocketMessage{}, err
	}
	return WebSocketMessage{Type: "stats", Timestamp: payload.Timestamp, Data: data}, nil
}

// Register adds a client to the hub. It reports false once the hub stopped.
func (h *WebSocketHub) Register(client *ClientConnection) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client and closes its send channel
func (h *WebSocketHub) Unregister(clientID string) {
	select {
	case h.unregister <- clientID:
	case <-h.done:
	}
}

// Broadcast queues a message for every client; it is dropped if the queue is full
func (h *WebSocketHub) Broadcast(msg WebSocketMessage) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
