package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alphawhale/whalefeed/internal/middleware"
	"github.com/alphawhale/whalefeed/internal/opportunity"
	"github.com/alphawhale/whalefeed/internal/ranking"
	"github.com/alphawhale/whalefeed/internal/trust"
)

// OpportunityHandlers holds dependencies for opportunity HTTP handlers.
type OpportunityHandlers struct {
	repo      opportunity.Repository
	trust     trust.Source
	snapshots *ranking.Store
}

// NewOpportunityHandlers creates a new OpportunityHandlers instance.
func NewOpportunityHandlers(repo opportunity.Repository, trustSrc trust.Source, snapshots *ranking.Store) *OpportunityHandlers {
	return &OpportunityHandlers{
		repo:      repo,
		trust:     trustSrc,
		snapshots: snapshots,
	}
}

// OpportunityListResponse represents the response for GET /opportunities.
type OpportunityListResponse struct {
	Opportunities []*opportunity.Opportunity `json:"opportunities"`
	Count         int                        `json:"count"`
}

// ListOpportunities handles GET /opportunities - lists active catalog entries
// in catalog order, without ranking. The ranked view lives at /feed.
func (h *OpportunityHandlers) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	list, err := h.repo.List(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list opportunities", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list opportunities")
		return
	}

	response := OpportunityListResponse{
		Opportunities: list,
		Count:         len(list),
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode opportunity list", "error", err)
	}
}

// GetOpportunity handles GET /opportunities/{id}.
func (h *OpportunityHandlers) GetOpportunity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	id, rest := splitOpportunityPath(r.URL.Path)
	if id == "" || rest != "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid URL path")
		return
	}

	o, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, opportunity.ErrNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeOpportunityNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeOpportunityNotFound, "Opportunity not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to get opportunity", "error", err, "id", id)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to get opportunity")
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(o); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode opportunity", "error", err)
	}
}

// OpportunityTrustResponse represents the response for GET /opportunities/{id}/trust.
type OpportunityTrustResponse struct {
	OpportunityID string     `json:"opportunity_id"`
	Score         int        `json:"score"`
	Level         string     `json:"level"`
	ScannedAt     *time.Time `json:"scanned_at,omitempty"`
	RankScore     *float64   `json:"rank_score,omitempty"`
}

// GetOpportunityTrust handles GET /opportunities/{id}/trust - returns the
// effective trust verdict the ranker uses, plus the item's current rank
// score when it appears in the published snapshot.
func (h *OpportunityHandlers) GetOpportunityTrust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	id, rest := splitOpportunityPath(r.URL.Path)
	if id == "" || rest != "trust" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid URL path")
		return
	}

	o, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, opportunity.ErrNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeOpportunityNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeOpportunityNotFound, "Opportunity not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to get opportunity", "error", err, "id", id)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to get opportunity")
		return
	}

	score := trust.Effective(h.trust, o.ID, o.TrustScore)
	response := OpportunityTrustResponse{
		OpportunityID: o.ID,
		Score:         score,
		Level:         string(trust.LevelFor(score)),
	}

	if h.trust != nil {
		if rating, err := h.trust.Rating(o.ID); err == nil && rating != nil {
			scannedAt := rating.ScannedAt
			response.ScannedAt = &scannedAt
		}
	}

	if h.snapshots != nil {
		if snap, err := h.snapshots.Current(); err == nil {
			if idx := snap.Index(o.ID); idx >= 0 {
				rankScore := snap.Items[idx].Score
				response.RankScore = &rankScore
			}
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode trust response", "error", err)
	}
}

// splitOpportunityPath extracts the id and trailing subresource from
// /opportunities/{id}[/{rest}].
func splitOpportunityPath(path string) (id, rest string) {
	trimmed := strings.TrimPrefix(path, "/opportunities/")
	if trimmed == path {
		return "", ""
	}
	parts := strings.SplitN(trimmed, "/", 2)
	id = parts[0]
	if len(parts) == 2 {
		rest = parts[1]
	}
	return id, rest
}
