package opportunity

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepository reads the opportunity catalog from PostgreSQL.
// The catalog tables are owned by the upstream system; this repository only
// issues read queries and assumes the (published_at, expires_at) index
// shape described in migrations/.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a catalog reader over an open connection.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const listQuery = `
select id, title, protocol, type, chain, difficulty,
       reward_usd, trust_score, sponsored, featured,
       expires_at, published_at, updated_at
from opportunities
where expires_at is null or expires_at > now()`

// List returns all non-expired opportunities.
func (r *PostgresRepository) List(ctx context.Context) ([]*Opportunity, error) {
	rows, err := r.db.QueryContext(ctx, listQuery)
	if err != nil {
		return nil, fmt.Errorf("list opportunities: %w", err)
	}
	defer rows.Close()

	var out []*Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list opportunities: %w", err)
	}
	return out, nil
}

const getQuery = `
select id, title, protocol, type, chain, difficulty,
       reward_usd, trust_score, sponsored, featured,
       expires_at, published_at, updated_at
from opportunities
where id = $1`

// Get retrieves one opportunity by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Opportunity, error) {
	row := r.db.QueryRowContext(ctx, getQuery, id)
	o, err := scanOpportunity(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanOpportunity(s scanner) (*Opportunity, error) {
	var (
		o          Opportunity
		typ        string
		chain      string
		difficulty string
		rewardUSD  sql.NullFloat64
		trustScore sql.NullInt64
		expiresAt  sql.NullTime
	)
	err := s.Scan(&o.ID, &o.Title, &o.Protocol, &typ, &chain, &difficulty,
		&rewardUSD, &trustScore, &o.Sponsored, &o.Featured,
		&expiresAt, &o.PublishedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	o.Type = Type(typ)
	o.Chain = Chain(chain)
	o.Difficulty = Difficulty(difficulty)
	if rewardUSD.Valid {
		v := rewardUSD.Float64
		o.RewardUSD = &v
	}
	if trustScore.Valid {
		v := int(trustScore.Int64)
		o.TrustScore = &v
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		o.ExpiresAt = &t
	}
	o.PublishedAt = o.PublishedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}
