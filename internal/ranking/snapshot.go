package ranking

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/alphawhale/whalefeed/internal/opportunity"
	"github.com/alphawhale/whalefeed/internal/trust"
)

var (
	// ErrNoSnapshot is returned before the first snapshot has been
	// published.
	ErrNoSnapshot = errors.New("no rank snapshot available")

	// ErrSnapshotExpired is returned when a requested generation has
	// been evicted from the retain ring.
	ErrSnapshotExpired = errors.New("rank snapshot generation expired")
)

// Item is a single ranked opportunity inside a snapshot. The score and
// its components are fixed at snapshot build time; readers never see a
// half-updated item.
type Item struct {
	Opportunity opportunity.Opportunity `json:"opportunity"`

	Score      float64               `json:"score"`
	Components Components            `json:"components"`
	TrustScore int                   `json:"trust_score"`
	TrustLevel trust.Level           `json:"trust_level"`
	Hot        bool                  `json:"hot"`
	ColdStart  bool                  `json:"cold_start,omitempty"`
	Urgencies  []opportunity.Urgency `json:"urgencies,omitempty"`
}

// Snapshot is an immutable ranked view of the catalog. Items are sorted
// by the feed's total order and must not be mutated after publication.
type Snapshot struct {
	Generation uint64    `json:"generation"`
	ComputedAt time.Time `json:"computed_at"`
	Items      []Item    `json:"items"`
}

// Less reports whether item i sorts before item j in the feed's total
// order: score descending, trust descending, expiry ascending with
// non-expiring items last, then id ascending as the final tiebreaker.
func Less(i, j *Item) bool {
	if i.Score != j.Score {
		return i.Score > j.Score
	}
	if i.TrustScore != j.TrustScore {
		return i.TrustScore > j.TrustScore
	}
	ie, je := i.Opportunity.ExpiresAt, j.Opportunity.ExpiresAt
	switch {
	case ie != nil && je != nil:
		if !ie.Equal(*je) {
			return ie.Before(*je)
		}
	case ie != nil:
		return true
	case je != nil:
		return false
	}
	return i.Opportunity.ID < j.Opportunity.ID
}

// SortItems orders items by the feed's total order in place.
func SortItems(items []Item) {
	sort.Slice(items, func(a, b int) bool {
		return Less(&items[a], &items[b])
	})
}

// Index returns the position of the item with the given opportunity id,
// or -1 when the snapshot does not contain it.
func (s *Snapshot) Index(id string) int {
	for i := range s.Items {
		if s.Items[i].Opportunity.ID == id {
			return i
		}
	}
	return -1
}

// DefaultRetainGenerations is how many past snapshot generations the
// store keeps alive for sessions pinned to an older watermark.
const DefaultRetainGenerations = 4

// Store holds the current snapshot plus a short ring of recent
// generations. Publishing swaps a pointer; readers pinned to an older
// generation keep a stable view until it falls off the ring.
type Store struct {
	mu     sync.RWMutex
	retain int

	current *Snapshot
	recent  []*Snapshot // oldest first, includes current
	nextGen uint64
}

// NewStore creates a snapshot store retaining the given number of
// generations. Values below 1 fall back to DefaultRetainGenerations.
func NewStore(retain int) *Store {
	if retain < 1 {
		retain = DefaultRetainGenerations
	}
	return &Store{retain: retain, nextGen: 1}
}

// Publish installs items as the next snapshot generation and returns it.
// The store takes ownership of the slice; callers must not mutate it
// afterwards. Items are sorted here so every snapshot carries the feed's
// total order.
func (s *Store) Publish(items []Item, computedAt time.Time) *Snapshot {
	SortItems(items)

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{
		Generation: s.nextGen,
		ComputedAt: computedAt.UTC(),
		Items:      items,
	}
	s.nextGen++

	s.current = snap
	s.recent = append(s.recent, snap)
	if len(s.recent) > s.retain {
		s.recent = s.recent[len(s.recent)-s.retain:]
	}
	return snap
}

// Current returns the latest snapshot, or ErrNoSnapshot before the first
// publish.
func (s *Store) Current() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return nil, ErrNoSnapshot
	}
	return s.current, nil
}

// Get returns the snapshot for a specific generation. Generations older
// than the retain ring return ErrSnapshotExpired; generations never
// published return ErrNoSnapshot.
func (s *Store) Get(generation uint64) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil || generation >= s.nextGen {
		return nil, ErrNoSnapshot
	}
	for _, snap := range s.recent {
		if snap.Generation == generation {
			return snap, nil
		}
	}
	return nil, ErrSnapshotExpired
}
