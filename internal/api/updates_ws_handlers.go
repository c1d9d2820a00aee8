// Package api provides the WebSocket endpoint for feed update subscriptions.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/alphawhale/whalefeed/internal/feed"
	"github.com/alphawhale/whalefeed/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS middleware for the rest
		// of the API; the gateway terminates untrusted origins before
		// they reach this service.
		return true
	},
}

// UpdatesWebSocketHandlers holds dependencies for the feed updates WebSocket.
type UpdatesWebSocketHandlers struct {
	broadcaster *feed.Broadcaster
}

// NewUpdatesWebSocketHandlers creates a new UpdatesWebSocketHandlers instance.
func NewUpdatesWebSocketHandlers(broadcaster *feed.Broadcaster) *UpdatesWebSocketHandlers {
	return &UpdatesWebSocketHandlers{broadcaster: broadcaster}
}

// SubscribeToUpdates handles WebSocket connections for snapshot publication events.
// GET /feed/updates
func (h *UpdatesWebSocketHandlers) SubscribeToUpdates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to upgrade websocket connection", "error", err)
		return
	}

	h.broadcaster.Subscribe(conn)

	requestID := middleware.GetRequestID(ctx)
	slog.InfoContext(ctx, "websocket client subscribed to feed updates",
		"request_id", requestID,
	)

	defer func() {
		h.broadcaster.Unsubscribe(conn)
		conn.Close()
		slog.InfoContext(ctx, "websocket client unsubscribed",
			"request_id", requestID,
		)
	}()

	// Keep the connection alive; clients don't send messages, but reading
	// is how we notice the disconnect.
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.WarnContext(ctx, "websocket connection closed unexpectedly", "error", err)
			}
			break
		}
	}
}
