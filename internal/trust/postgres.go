package trust

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresFetcher reads Guardian scan results from the guardian_ratings
// table the scan pipeline writes to.
type PostgresFetcher struct {
	db *sql.DB
}

// NewPostgresFetcher creates a rating fetcher over an open connection.
func NewPostgresFetcher(db *sql.DB) *PostgresFetcher {
	return &PostgresFetcher{db: db}
}

const fetchSinceQuery = `
select opportunity_id, score, scanned_at
from guardian_ratings
where scanned_at > $1
order by scanned_at`

// FetchSince returns ratings scanned after the given time. A zero time
// returns the full current state.
func (f *PostgresFetcher) FetchSince(ctx context.Context, since time.Time) ([]Rating, error) {
	rows, err := f.db.QueryContext(ctx, fetchSinceQuery, since)
	if err != nil {
		return nil, fmt.Errorf("fetch guardian ratings: %w", err)
	}
	defer rows.Close()

	var out []Rating
	for rows.Next() {
		var r Rating
		if err := rows.Scan(&r.OpportunityID, &r.Score, &r.ScannedAt); err != nil {
			return nil, fmt.Errorf("scan guardian rating: %w", err)
		}
		r.Level = LevelFor(r.Score)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guardian ratings: %w", err)
	}
	return out, nil
}
