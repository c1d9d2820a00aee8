package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alphawhale/whalefeed/internal/opportunity"
	"github.com/alphawhale/whalefeed/internal/ranking"
)

// Page size bounds for a single feed request.
const (
	DefaultPageSize = 12
	MaxPageSize     = 50
)

// ErrUnavailable is returned when no rank snapshot has been published
// yet, so there is nothing to serve.
var ErrUnavailable = errors.New("feed unavailable")

// PageRequest is one feed page fetch.
type PageRequest struct {
	// Filter is pre-validated at the boundary; the assembler applies
	// it as-is.
	Filter opportunity.Filter
	// Cursor is the opaque token from the previous page, or empty for
	// a fresh session.
	Cursor string
	// PageSize is the requested page length; zero means
	// DefaultPageSize, values above MaxPageSize are clamped.
	PageSize int
}

// Page is one assembled feed page.
type Page struct {
	// Items in feed order, at most PageSize of them.
	Items []ranking.Item
	// NextCursor is the token for the following page, or empty when
	// the feed is exhausted.
	NextCursor string
	// SnapshotTS is the watermark this session is pinned to,
	// echoed back to the client.
	SnapshotTS time.Time
}

// Service assembles feed pages from the published rank snapshots.
type Service struct {
	snapshots *ranking.Store
	limit     SponsoredLimit
	logger    *slog.Logger
}

// NewService creates a feed service over a snapshot store.
func NewService(snapshots *ranking.Store, limit SponsoredLimit, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		snapshots: snapshots,
		limit:     limit.normalized(),
		logger:    logger,
	}
}

// GetPage assembles one page: it resolves the session's snapshot, applies
// the filter and the watermark gate, replays the sponsored-slot limiter
// over the full candidate order, and slices the page after the cursor
// position.
//
// A malformed or expired cursor silently starts a fresh session against
// the current snapshot; the only hard failure is having no snapshot at
// all.
func (s *Service) GetPage(ctx context.Context, req PageRequest) (*Page, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	snap, cur, err := s.resolveSession(req.Cursor)
	if err != nil {
		return nil, err
	}

	watermark := snap.ComputedAt
	if cur != nil {
		watermark = cur.SnapshotTS
	}

	emitted := ApplySponsoredLimit(s.eligible(snap, req.Filter, watermark), s.limit)

	start := 0
	if cur != nil {
		idx := -1
		for i := range emitted {
			if emitted[i].Opportunity.ID == cur.ID {
				idx = i
				break
			}
		}
		if idx == -1 {
			// The cursor item fell out of the emitted sequence, which
			// means the client changed filters mid-session. Restart.
			s.logger.Debug("cursor item not in sequence, restarting session",
				"cursor_id", cur.ID)
			snap, cur = s.mustCurrent(snap)
			watermark = snap.ComputedAt
			emitted = ApplySponsoredLimit(s.eligible(snap, req.Filter, watermark), s.limit)
		} else {
			start = idx + 1
		}
	}

	end := start + pageSize
	if end > len(emitted) {
		end = len(emitted)
	}
	var items []ranking.Item
	if start < len(emitted) {
		items = emitted[start:end]
	}

	page := &Page{
		Items:      items,
		SnapshotTS: watermark,
	}

	if end < len(emitted) && len(items) > 0 {
		last := items[len(items)-1]
		token, err := EncodeCursor(Cursor{
			RankScore:  last.Score,
			TrustScore: last.TrustScore,
			ExpiresAt:  last.Opportunity.ExpiresAt,
			ID:         last.Opportunity.ID,
			SnapshotTS: watermark,
			Generation: snap.Generation,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode next cursor: %w", err)
		}
		page.NextCursor = token
	}

	return page, nil
}

// resolveSession maps a request cursor to the snapshot the session is
// pinned to. Empty, malformed, or expired cursors establish a fresh
// session on the current snapshot.
func (s *Service) resolveSession(token string) (*ranking.Snapshot, *Cursor, error) {
	if token == "" {
		snap, err := s.snapshots.Current()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return snap, nil, nil
	}

	cur, err := DecodeCursor(token)
	if err != nil {
		s.logger.Debug("invalid cursor, starting fresh session", "error", err)
		return s.freshSession()
	}

	snap, err := s.snapshots.Get(cur.Generation)
	if err != nil {
		s.logger.Debug("cursor generation unavailable, starting fresh session",
			"generation", cur.Generation,
			"error", err)
		return s.freshSession()
	}
	return snap, &cur, nil
}

func (s *Service) freshSession() (*ranking.Snapshot, *Cursor, error) {
	snap, err := s.snapshots.Current()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return snap, nil, nil
}

// mustCurrent swaps a resumed session onto the current snapshot; falls
// back to the session's snapshot if the store is somehow empty.
func (s *Service) mustCurrent(fallback *ranking.Snapshot) (*ranking.Snapshot, *Cursor) {
	snap, err := s.snapshots.Current()
	if err != nil {
		return fallback, nil
	}
	return snap, nil
}

// eligible applies the filter and the watermark gate to a snapshot's
// items, preserving their order. The gate hides items written after the
// session's watermark so an in-progress scroll never sees them move.
func (s *Service) eligible(snap *ranking.Snapshot, f opportunity.Filter, watermark time.Time) []ranking.Item {
	out := make([]ranking.Item, 0, len(snap.Items))
	for i := range snap.Items {
		it := &snap.Items[i]
		if it.Opportunity.UpdatedAt.After(watermark) {
			continue
		}
		if !f.Matches(&it.Opportunity, it.Urgencies, it.TrustScore) {
			continue
		}
		out = append(out, *it)
	}
	return out
}
