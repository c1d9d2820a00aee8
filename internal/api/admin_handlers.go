package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alphawhale/whalefeed/internal/auth"
	"github.com/alphawhale/whalefeed/internal/middleware"
	"github.com/alphawhale/whalefeed/internal/ranking"
)

// AdminHandlers provides internal operational endpoints. All of them
// require a service token with the matching scope.
type AdminHandlers struct {
	jwt       *auth.JWTService
	job       *ranking.RecomputeJob
	snapshots *ranking.Store
}

// NewAdminHandlers creates a new AdminHandlers instance.
func NewAdminHandlers(jwtSvc *auth.JWTService, job *ranking.RecomputeJob, snapshots *ranking.Store) *AdminHandlers {
	return &AdminHandlers{
		jwt:       jwtSvc,
		job:       job,
		snapshots: snapshots,
	}
}

// RankRefreshResponse represents the response for POST /internal/rank/refresh.
type RankRefreshResponse struct {
	Status     string `json:"status"`
	Generation uint64 `json:"generation"`
	ItemCount  int    `json:"item_count"`
}

// RefreshRank handles POST /internal/rank/refresh - triggers an immediate
// rank recompute outside the periodic schedule. Used by the catalog
// service after bulk updates and by operators.
func (h *AdminHandlers) RefreshRank(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	claims, err := h.authorize(r, auth.ScopeRankRefresh)
	if err != nil {
		status := http.StatusUnauthorized
		code := ErrCodeAuthFailed
		if errors.Is(err, auth.ErrMissingScope) {
			status = http.StatusForbidden
			code = ErrCodeForbidden
		}
		ctx = middleware.SetErrorCode(ctx, code)
		WriteError(w, ctx, status, code, "Invalid service token")
		return
	}

	ctx = middleware.SetActor(ctx, claims.Subject)
	middleware.UpdateResponseContext(w, ctx)

	if err := h.job.RecomputeNow(ctx); err != nil {
		slog.ErrorContext(ctx, "manual rank recompute failed",
			"error", err,
			"actor", claims.Subject,
		)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Rank recompute failed")
		return
	}

	snap, err := h.snapshots.Current()
	if err != nil {
		// Recompute succeeded but no snapshot landed; should not happen.
		slog.ErrorContext(ctx, "no snapshot after successful recompute", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Rank recompute failed")
		return
	}

	slog.InfoContext(ctx, "manual rank recompute completed",
		"actor", claims.Subject,
		"generation", snap.Generation,
		"item_count", len(snap.Items),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(RankRefreshResponse{
		Status:     "ok",
		Generation: snap.Generation,
		ItemCount:  len(snap.Items),
	}); err != nil {
		slog.ErrorContext(ctx, "failed to encode refresh response", "error", err)
	}
}

// authorize extracts and validates the bearer token, requiring the scope.
func (h *AdminHandlers) authorize(r *http.Request, scope string) (*auth.Claims, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, auth.ErrInvalidToken
	}
	return h.jwt.ValidateTokenWithScope(token, scope)
}
