// Package api provides HTTP handlers for the AlphaWhale feed API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alphawhale/whalefeed/internal/feed"
	"github.com/alphawhale/whalefeed/internal/middleware"
	"github.com/alphawhale/whalefeed/internal/opportunity"
	"github.com/alphawhale/whalefeed/internal/ranking"
)

// FeedHandlers holds dependencies for feed HTTP handlers.
type FeedHandlers struct {
	feed *feed.Service
}

// NewFeedHandlers creates a new FeedHandlers instance.
func NewFeedHandlers(svc *feed.Service) *FeedHandlers {
	return &FeedHandlers{feed: svc}
}

// FeedItem is one feed entry as returned to clients.
type FeedItem struct {
	Opportunity opportunity.Opportunity `json:"opportunity"`
	Score       float64                 `json:"score"`
	TrustScore  int                     `json:"trust_score"`
	TrustLevel  string                  `json:"trust_level"`
	Urgencies   []opportunity.Urgency   `json:"urgencies,omitempty"`
	Sponsored   bool                    `json:"sponsored,omitempty"`
}

// FeedResponse represents the response for GET /feed.
type FeedResponse struct {
	Items      []*FeedItem `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
	Count      int         `json:"count"`
	SnapshotTS string      `json:"snapshot_ts"`
}

// GetFeed handles GET /feed - returns one ranked, filtered, paginated feed page.
func (h *FeedHandlers) GetFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	query := r.URL.Query()

	trustMin := 0
	if raw := strings.TrimSpace(query.Get("trust_min")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "trust_min must be an integer")
			return
		}
		trustMin = v
	}

	filter, err := opportunity.ParseFilter(
		query["type"],
		query["chain"],
		query["difficulty"],
		query["urgency"],
		trustMin,
		strings.TrimSpace(query.Get("q")),
	)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnknownFilterValue)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeUnknownFilterValue, err.Error())
		return
	}

	pageSize := 0
	if raw := query.Get("page_size"); raw != "" {
		pageSize, err = strconv.Atoi(raw)
		if err != nil || pageSize < 1 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "page_size must be a positive integer")
			return
		}
	}

	page, err := h.feed.GetPage(r.Context(), feed.PageRequest{
		Filter:   filter,
		Cursor:   query.Get("cursor"),
		PageSize: pageSize,
	})
	if err != nil {
		if errors.Is(err, feed.ErrUnavailable) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeFeedUnavailable)
			WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeFeedUnavailable, "Feed is not ready yet")
			return
		}
		slog.ErrorContext(r.Context(), "failed to assemble feed page", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to assemble feed page")
		return
	}

	items := make([]*FeedItem, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, feedItemFromRanked(&page.Items[i]))
	}

	response := FeedResponse{
		Items:      items,
		NextCursor: page.NextCursor,
		Count:      len(items),
		SnapshotTS: page.SnapshotTS.UTC().Format(time.RFC3339Nano),
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode feed response", "error", err)
	}
}

func feedItemFromRanked(it *ranking.Item) *FeedItem {
	return &FeedItem{
		Opportunity: it.Opportunity,
		Score:       it.Score,
		TrustScore:  it.TrustScore,
		TrustLevel:  string(it.TrustLevel),
		Urgencies:   it.Urgencies,
		Sponsored:   it.Opportunity.Sponsored,
	}
}
