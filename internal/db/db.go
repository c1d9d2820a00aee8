// Package db provides database connection handling for the feed service.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const (
	// DefaultMaxOpenConns bounds the connection pool. The feed is
	// read-heavy with short queries; a small pool is enough.
	DefaultMaxOpenConns = 25

	// DefaultMaxIdleConns keeps warm connections for the recompute job
	// and catalog reads between ticks.
	DefaultMaxIdleConns = 5

	// DefaultConnMaxLifetime recycles connections so rolling database
	// restarts drain cleanly.
	DefaultConnMaxLifetime = 30 * time.Minute
)

// Open connects to PostgreSQL, applies pool settings, and verifies the
// connection with a ping before returning.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(DefaultMaxOpenConns)
	conn.SetMaxIdleConns(DefaultMaxIdleConns)
	conn.SetConnMaxLifetime(DefaultConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return conn, nil
}
