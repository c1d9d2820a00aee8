package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alphawhale/whalefeed/internal/middleware"
	"github.com/alphawhale/whalefeed/internal/telemetry"
)

// MaxTelemetryBatchSize caps how many events one submission may carry.
const MaxTelemetryBatchSize = 500

// TelemetryHandlers provides the engagement telemetry ingest endpoint.
type TelemetryHandlers struct {
	store telemetry.Store
}

// NewTelemetryHandlers creates a new telemetry handler.
func NewTelemetryHandlers(store telemetry.Store) *TelemetryHandlers {
	return &TelemetryHandlers{store: store}
}

// TelemetryEvent represents a single engagement event from the frontend.
type TelemetryEvent struct {
	OpportunityID string `json:"opportunity_id"`
	Kind          string `json:"kind"`
	Timestamp     int64  `json:"timestamp,omitempty"`
}

// TelemetryEventsRequest represents the request payload for POST /telemetry/events.
type TelemetryEventsRequest struct {
	Events []TelemetryEvent `json:"events"`
}

// PostEvents handles POST /telemetry/events.
// Accepts a batch of impression/click events that feed the trending signal.
func (h *TelemetryHandlers) PostEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req TelemetryEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
		return
	}

	if len(req.Events) == 0 {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "At least one event required")
		return
	}
	if len(req.Events) > MaxTelemetryBatchSize {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation,
			fmt.Sprintf("Batch exceeds maximum of %d events", MaxTelemetryBatchSize))
		return
	}

	// Validate the whole batch before recording anything, so a rejected
	// submission leaves no partial counts behind.
	for i, event := range req.Events {
		if event.OpportunityID == "" {
			ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation,
				fmt.Sprintf("Event %d is missing opportunity_id", i))
			return
		}
		if event.Kind != telemetry.KindImpression && event.Kind != telemetry.KindClick {
			ctx = middleware.SetErrorCode(ctx, ErrCodeUnknownEventKind)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeUnknownEventKind,
				fmt.Sprintf("Event %d has unknown kind %q", i, event.Kind))
			return
		}
	}

	for _, event := range req.Events {
		if err := h.store.Record(ctx, event.OpportunityID, event.Kind); err != nil {
			if errors.Is(err, telemetry.ErrUnknownKind) {
				ctx = middleware.SetErrorCode(ctx, ErrCodeUnknownEventKind)
				WriteError(w, ctx, http.StatusBadRequest, ErrCodeUnknownEventKind, err.Error())
				return
			}
			slog.ErrorContext(ctx, "failed to record telemetry event",
				"error", err,
				"opportunity_id", event.OpportunityID,
				"kind", event.Kind,
			)
			ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to record events")
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":          "accepted",
		"events_received": len(req.Events),
	}); err != nil {
		slog.ErrorContext(ctx, "failed to encode telemetry response", "error", err)
	}
}
