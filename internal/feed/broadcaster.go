package feed

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alphawhale/whalefeed/internal/ranking"
)

// UpdateEvent notifies subscribed clients that a new rank snapshot has
// been published. Clients typically respond by offering a "new results
// available" refresh; their pinned session stays valid either way.
type UpdateEvent struct {
	Type       string    `json:"type"`
	Generation uint64    `json:"generation"`
	ComputedAt time.Time `json:"computed_at"`
	ItemCount  int       `json:"item_count"`
}

// UpdateEventType is the type field value for snapshot publications.
const UpdateEventType = "snapshot_published"

// Broadcaster manages WebSocket connections and pushes snapshot
// publication events to all of them.
type Broadcaster struct {
	mu sync.RWMutex
	// Each connection carries its own write mutex: gorilla/websocket
	// forbids concurrent writers on one connection, and NotifyPublished
	// can fire from both the recompute ticker and an admin refresh.
	connections map[*websocket.Conn]*sync.Mutex
	logger      *slog.Logger
}

// NewBroadcaster creates a new feed update broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		connections: make(map[*websocket.Conn]*sync.Mutex),
		logger:      logger,
	}
}

// Subscribe registers a WebSocket connection for update events.
func (b *Broadcaster) Subscribe(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.connections[conn]; !ok {
		b.connections[conn] = &sync.Mutex{}
	}
}

// Unsubscribe removes a WebSocket connection.
func (b *Broadcaster) Unsubscribe(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.connections, conn)
}

// NotifyPublished broadcasts a snapshot publication to all subscribers.
// Wire it to the recompute job's publish hook.
func (b *Broadcaster) NotifyPublished(snap *ranking.Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.connections) == 0 {
		return
	}

	event := UpdateEvent{
		Type:       UpdateEventType,
		Generation: snap.Generation,
		ComputedAt: snap.ComputedAt,
		ItemCount:  len(snap.Items),
	}

	// Serialize once for all connections
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to marshal update event", "error", err)
		return
	}

	for conn, writeMu := range b.connections {
		writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		writeMu.Unlock()
		if err != nil {
			b.logger.Warn("failed to send update to websocket client",
				"error", err,
				"generation", snap.Generation,
			)
			// Connection will be cleaned up when the client disconnects
		}
	}
}

// ConnectionCount returns the number of active WebSocket connections.
func (b *Broadcaster) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.connections)
}
