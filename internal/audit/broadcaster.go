package audit

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Broadcaster fans appended audit entries out to subscribed WebSocket
// connections, giving operators a live tail of the log.
type Broadcaster struct {
	mu          sync.RWMutex
	connections map[*websocket.Conn]bool
}

// NewBroadcaster creates a new audit tail broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		connections: make(map[*websocket.Conn]bool),
	}
}

// Subscribe registers a WebSocket connection for the audit tail.
func (b *Broadcaster) Subscribe(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connections[conn] = true
}

// Unsubscribe removes a WebSocket connection.
func (b *Broadcaster) Unsubscribe(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.connections, conn)
}

// Broadcast sends an entry to all subscribers.
func (b *Broadcaster) Broadcast(e *Entry) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.connections) == 0 {
		return
	}

	// Serialize once
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("failed to marshal audit entry for broadcast", "error", err)
		return
	}

	for conn := range b.connections {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Warn("failed to send audit entry to websocket client",
				"error", err,
				"entry_id", e.ID,
			)
			// Connection will be cleaned up when the client disconnects
		}
	}
}

// CloseAll closes every subscriber connection. Used during shutdown.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.connections {
		_ = conn.Close()
		delete(b.connections, conn)
	}
}

// ConnectionCount returns the number of active subscribers.
func (b *Broadcaster) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.connections)
}
