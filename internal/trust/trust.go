// Package trust exposes the Guardian-computed trust ratings to the ranker.
// Scores are computed elsewhere; this package only reads the latest value
// and supplies the neutral default when an opportunity has not been scanned.
package trust

import (
	"errors"
	"sync"
	"time"
)

// Score bounds and the neutral default applied when no rating exists yet.
const (
	MinScore     = 0
	MaxScore     = 100
	NeutralScore = 60
)

// Level buckets a 0-100 score into the coarse labels the product shows.
type Level string

// Trust levels.
const (
	LevelHigh     Level = "high"
	LevelMedium   Level = "medium"
	LevelLow      Level = "low"
	LevelCritical Level = "critical"
)

// ErrInvalidScore is returned when a score falls outside 0-100.
var ErrInvalidScore = errors.New("trust score must be between 0 and 100")

// Rating is the Guardian's latest verdict for one opportunity.
type Rating struct {
	OpportunityID string    `json:"opportunity_id"`
	Score         int       `json:"score"`
	Level         Level     `json:"level"`
	ScannedAt     time.Time `json:"scanned_at"`
}

// LevelFor maps a score to its display level.
func LevelFor(score int) Level {
	switch {
	case score >= 80:
		return LevelHigh
	case score >= 50:
		return LevelMedium
	case score >= 25:
		return LevelLow
	default:
		return LevelCritical
	}
}

// Source supplies the latest rating per opportunity. A nil rating with a
// nil error means "never scanned"; callers fall back to the catalog value
// or the neutral default.
type Source interface {
	Rating(opportunityID string) (*Rating, error)
}

// Effective resolves the score the ranker should use: the source's rating
// when present, otherwise the catalog's stored score, otherwise neutral.
func Effective(src Source, opportunityID string, catalogScore *int) int {
	if src != nil {
		if r, err := src.Rating(opportunityID); err == nil && r != nil {
			return clampScore(r.Score)
		}
	}
	if catalogScore != nil {
		return clampScore(*catalogScore)
	}
	return NeutralScore
}

func clampScore(s int) int {
	if s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}

// InMemoryStore is an in-memory Source used in tests and local runs; in
// production the Guardian pipeline writes ratings into it via its sync
// consumer. Thread-safe via RWMutex.
type InMemoryStore struct {
	mu      sync.RWMutex
	ratings map[string]Rating
}

// NewInMemoryStore creates an empty rating store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{ratings: make(map[string]Rating)}
}

// Set stores the latest rating for an opportunity.
func (s *InMemoryStore) Set(opportunityID string, score int, scannedAt time.Time) error {
	if score < MinScore || score > MaxScore {
		return ErrInvalidScore
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings[opportunityID] = Rating{
		OpportunityID: opportunityID,
		Score:         score,
		Level:         LevelFor(score),
		ScannedAt:     scannedAt,
	}
	return nil
}

// Rating returns the latest rating, or nil when never scanned.
func (s *InMemoryStore) Rating(opportunityID string) (*Rating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.ratings[opportunityID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}
