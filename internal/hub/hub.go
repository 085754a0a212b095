package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/logger"

	"github.com/gorilla/websocket"
)

// Message is what every websocket client receives.
type Message struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	mu          sync.Mutex
	connections map[*websocket.Conn]bool

	// Messages to be broadcast to all connected clients
	broadcast chan Message

	// Upgrader for HTTP connections to WebSocket
	upgrader websocket.Upgrader

	writeTimeout time.Duration
}

var _ interfaces.Publisher = (*Hub)(nil)

// NewHub creates a new hub for managing WebSocket connections
func NewHub() *Hub {
	upgrader := websocket.Upgrader{
		// Allow all origins for WebSocket connections
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return &Hub{
		connections:  make(map[*websocket.Conn]bool),
		broadcast:    make(chan Message, 64),
		upgrader:     upgrader,
		writeTimeout: 5 * time.Second,
	}
}

// Run starts listening for messages to broadcast until ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg := <-h.broadcast:
			h.send(ctx, msg)
		}
	}
}

func (h *Hub) send(ctx context.Context, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.connections {
		client.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := client.WriteJSON(msg); err != nil {
			logger.Debug(ctx, "Dropping websocket client", "error", err)
			client.Close()
			delete(h.connections, client)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.connections {
		client.Close()
		delete(h.connections, client)
	}
}

// HandleWebSocket upgrades an HTTP connection to WebSocket
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(r.Context(), "Error upgrading to WebSocket", "error", err)
		return
	}

	h.mu.Lock()
	h.connections[ws] = true
	h.mu.Unlock()

	// Read messages from the client (to keep the connection alive)
	go func() {
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				h.mu.Lock()
				delete(h.connections, ws)
				h.mu.Unlock()
				return
			}
		}
	}()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// Publish queues an event for broadcast. It never blocks the caller; when
// the queue is full the event is dropped.
func (h *Hub) Publish(eventType string, payload any) {
	msg := Message{Type: eventType, Payload: payload, Timestamp: time.Now().UTC()}
	select {
	case h.broadcast <- msg:
	default:
		logger.Warn(context.Background(), "Websocket broadcast queue full, event dropped", "type", eventType)
	}
}
