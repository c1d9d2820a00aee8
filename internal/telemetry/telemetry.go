// Package telemetry tracks the trending signal (impressions and clicks per
// opportunity) that feeds the relevance component of the ranker. The feed
// core treats it as an opaque numeric input; counters arrive from the
// frontend via the telemetry ingest endpoint.
package telemetry

import (
	"context"
	"errors"
	"sync"
)

// Event kinds accepted by the ingest endpoint.
const (
	KindImpression = "impression"
	KindClick      = "click"
)

// ErrUnknownKind is returned for event kinds outside the closed set.
var ErrUnknownKind = errors.New("unknown telemetry event kind")

// Signal is the aggregate trending signal for one opportunity.
type Signal struct {
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	CTR         float64 `json:"ctr"`
}

// ctr computes click-through rate, zero when no impressions exist.
func ctr(impressions, clicks int64) float64 {
	if impressions <= 0 {
		return 0
	}
	return float64(clicks) / float64(impressions)
}

// Store records and aggregates trending counters. Implementations must be
// safe for concurrent use; the ranker reads while the ingest endpoint
// writes.
type Store interface {
	// Record adds one event of the given kind for an opportunity.
	Record(ctx context.Context, opportunityID, kind string) error

	// Signal returns the aggregate counters for one opportunity. Unknown
	// ids return a zero Signal, not an error.
	Signal(ctx context.Context, opportunityID string) (Signal, error)

	// Signals batch-reads counters for many opportunities at once; the
	// recompute job uses it to avoid one round trip per candidate.
	Signals(ctx context.Context, opportunityIDs []string) (map[string]Signal, error)
}

// InMemoryStore is an in-memory Store for tests and single-node runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	counters map[string]*counters
}

type counters struct {
	impressions int64
	clicks      int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{counters: make(map[string]*counters)}
}

// Record adds one event for an opportunity.
func (s *InMemoryStore) Record(ctx context.Context, opportunityID, kind string) error {
	if kind != KindImpression && kind != KindClick {
		return ErrUnknownKind
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters[opportunityID]
	if c == nil {
		c = &counters{}
		s.counters[opportunityID] = c
	}
	if kind == KindImpression {
		c.impressions++
	} else {
		c.clicks++
	}
	return nil
}

// Signal returns the aggregate counters for one opportunity.
func (s *InMemoryStore) Signal(ctx context.Context, opportunityID string) (Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.counters[opportunityID]
	if c == nil {
		return Signal{}, nil
	}
	return Signal{
		Impressions: c.impressions,
		Clicks:      c.clicks,
		CTR:         ctr(c.impressions, c.clicks),
	}, nil
}

// Signals batch-reads counters for many opportunities.
func (s *InMemoryStore) Signals(ctx context.Context, opportunityIDs []string) (map[string]Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Signal, len(opportunityIDs))
	for _, id := range opportunityIDs {
		if c := s.counters[id]; c != nil {
			out[id] = Signal{
				Impressions: c.impressions,
				Clicks:      c.clicks,
				CTR:         ctr(c.impressions, c.clicks),
			}
		}
	}
	return out, nil
}
