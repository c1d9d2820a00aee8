package ranking

import (
	"errors"
	"testing"
	"time"

	"github.com/alphawhale/whalefeed/internal/opportunity"
)

func itemWith(id string, score float64, trustScore int, expiresAt *time.Time) Item {
	return Item{
		Opportunity: opportunity.Opportunity{ID: id, ExpiresAt: expiresAt},
		Score:       score,
		TrustScore:  trustScore,
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestSortItemsTotalOrder(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	soon := timePtr(now.Add(24 * time.Hour))
	later := timePtr(now.Add(72 * time.Hour))

	items := []Item{
		itemWith("e", 0.5, 60, nil),
		itemWith("a", 0.9, 60, nil),
		itemWith("d", 0.5, 60, later),
		itemWith("c", 0.5, 60, soon),
		itemWith("b", 0.5, 80, nil),
		itemWith("f", 0.5, 60, nil),
	}

	SortItems(items)

	want := []string{"a", "b", "c", "d", "e", "f"}
	for i, id := range want {
		if items[i].Opportunity.ID != id {
			t.Errorf("position %d = %s, want %s", i, items[i].Opportunity.ID, id)
		}
	}
}

func TestSortItemsDeterministic(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	build := func() []Item {
		return []Item{
			itemWith("c", 0.7, 70, nil),
			itemWith("a", 0.7, 70, timePtr(now.Add(time.Hour))),
			itemWith("b", 0.7, 70, timePtr(now.Add(time.Hour))),
			itemWith("d", 0.3, 50, nil),
		}
	}

	first := build()
	SortItems(first)

	for run := 0; run < 10; run++ {
		next := build()
		SortItems(next)
		for i := range first {
			if next[i].Opportunity.ID != first[i].Opportunity.ID {
				t.Fatalf("run %d: position %d = %s, want %s",
					run, i, next[i].Opportunity.ID, first[i].Opportunity.ID)
			}
		}
	}
}

func TestLessExpiryNilLast(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	expiring := itemWith("x", 0.5, 60, timePtr(now.Add(time.Hour)))
	evergreen := itemWith("y", 0.5, 60, nil)

	if !Less(&expiring, &evergreen) {
		t.Error("expiring item should sort before non-expiring item at equal score and trust")
	}
	if Less(&evergreen, &expiring) {
		t.Error("non-expiring item must not sort before expiring item")
	}
}

func TestStorePublishAndCurrent(t *testing.T) {
	store := NewStore(3)

	if _, err := store.Current(); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Current() before publish error = %v, want ErrNoSnapshot", err)
	}

	now := time.Now().UTC()
	snap := store.Publish([]Item{itemWith("a", 0.9, 60, nil)}, now)
	if snap.Generation != 1 {
		t.Errorf("first generation = %d, want 1", snap.Generation)
	}

	cur, err := store.Current()
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if cur.Generation != 1 || len(cur.Items) != 1 {
		t.Errorf("Current() = gen %d with %d items", cur.Generation, len(cur.Items))
	}
}

func TestStoreRetainRing(t *testing.T) {
	store := NewStore(2)
	now := time.Now().UTC()

	for i := 0; i < 4; i++ {
		store.Publish(nil, now)
	}

	if _, err := store.Get(4); err != nil {
		t.Errorf("Get(4) error = %v, want nil", err)
	}
	if _, err := store.Get(3); err != nil {
		t.Errorf("Get(3) error = %v, want nil", err)
	}
	if _, err := store.Get(1); !errors.Is(err, ErrSnapshotExpired) {
		t.Errorf("Get(1) error = %v, want ErrSnapshotExpired", err)
	}
	if _, err := store.Get(99); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("Get(99) error = %v, want ErrNoSnapshot", err)
	}
}

func TestStorePinnedGenerationStable(t *testing.T) {
	store := NewStore(3)
	now := time.Now().UTC()

	store.Publish([]Item{itemWith("a", 0.9, 60, nil), itemWith("b", 0.8, 60, nil)}, now)
	pinned, err := store.Get(1)
	if err != nil {
		t.Fatal(err)
	}

	// A new publish must not affect the pinned view.
	store.Publish([]Item{itemWith("b", 0.95, 60, nil), itemWith("a", 0.1, 60, nil)}, now.Add(time.Minute))

	again, err := store.Get(1)
	if err != nil {
		t.Fatalf("Get(1) after republish error = %v", err)
	}
	if again != pinned {
		t.Error("pinned generation should return the same snapshot instance")
	}
	if again.Items[0].Opportunity.ID != "a" {
		t.Errorf("pinned order changed: first item %s, want a", again.Items[0].Opportunity.ID)
	}
}

func TestSnapshotIndex(t *testing.T) {
	snap := &Snapshot{Items: []Item{
		itemWith("a", 0.9, 60, nil),
		itemWith("b", 0.8, 60, nil),
	}}

	if got := snap.Index("b"); got != 1 {
		t.Errorf("Index(b) = %d, want 1", got)
	}
	if got := snap.Index("missing"); got != -1 {
		t.Errorf("Index(missing) = %d, want -1", got)
	}
}
