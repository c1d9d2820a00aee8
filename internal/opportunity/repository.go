package opportunity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Common errors for catalog reads.
var (
	ErrNotFound = errors.New("opportunity not found")
)

// Repository is the read side of the opportunity catalog. The rank
// recompute job lists the full live set; everything else goes through the
// rank snapshot, never back to the catalog.
type Repository interface {
	// List returns all non-expired opportunities. Order is unspecified;
	// ordering is the ranker's job.
	List(ctx context.Context) ([]*Opportunity, error)

	// Get retrieves one opportunity by id.
	Get(ctx context.Context, id string) (*Opportunity, error)
}

// InMemoryRepository is an in-memory Repository for tests and local runs.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu   sync.RWMutex
	opps map[string]*Opportunity
	now  func() time.Time
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		opps: make(map[string]*Opportunity),
		now:  time.Now,
	}
}

// Put inserts or replaces an opportunity, assigning an id and timestamps
// when absent. Intended for seeding tests and local fixtures.
func (r *InMemoryRepository) Put(o *Opportunity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	now := r.now()
	if o.PublishedAt.IsZero() {
		o.PublishedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = now
	}
	cp := *o
	r.opps[o.ID] = &cp
}

// Touch bumps an opportunity's UpdatedAt, simulating a catalog write such
// as a Guardian rescan. Used by watermark tests.
func (r *InMemoryRepository) Touch(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.opps[id]
	if !ok {
		return ErrNotFound
	}
	o.UpdatedAt = at
	return nil
}

// List returns copies of all non-expired opportunities.
func (r *InMemoryRepository) List(ctx context.Context) ([]*Opportunity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	out := make([]*Opportunity, 0, len(r.opps))
	for _, o := range r.opps {
		if o.Expired(now) {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

// Get retrieves a copy of one opportunity.
func (r *InMemoryRepository) Get(ctx context.Context, id string) (*Opportunity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.opps[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}
