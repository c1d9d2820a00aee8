package feed

import (
	"fmt"
	"testing"

	"github.com/alphawhale/whalefeed/internal/opportunity"
	"github.com/alphawhale/whalefeed/internal/ranking"
)

// makeCandidates builds an ordered candidate list. sponsored holds the
// zero-based positions that carry a sponsored placement.
func makeCandidates(n int, sponsored ...int) []ranking.Item {
	isSponsored := make(map[int]bool, len(sponsored))
	for _, p := range sponsored {
		isSponsored[p] = true
	}

	items := make([]ranking.Item, n)
	for i := range items {
		items[i] = ranking.Item{
			Opportunity: opportunity.Opportunity{
				ID:        fmt.Sprintf("opp-%03d", i),
				Sponsored: isSponsored[i],
			},
			Score:      1.0 - float64(i)/float64(n+1),
			TrustScore: 60,
		}
	}
	return items
}

// assertWindowCap verifies the density invariant over every contiguous
// window of the emitted sequence.
func assertWindowCap(t *testing.T, emitted []ranking.Item, limit SponsoredLimit) {
	t.Helper()
	for start := 0; start < len(emitted); start++ {
		end := start + limit.Window
		if end > len(emitted) {
			end = len(emitted)
		}
		n := 0
		for i := start; i < end; i++ {
			if emitted[i].Opportunity.Sponsored {
				n++
			}
		}
		if n > limit.Max {
			t.Fatalf("window [%d,%d) contains %d sponsored items, cap is %d", start, end, n, limit.Max)
		}
	}
}

func sponsoredCount(items []ranking.Item) int {
	n := 0
	for _, it := range items {
		if it.Opportunity.Sponsored {
			n++
		}
	}
	return n
}

func TestApplySponsoredLimitNoSponsored(t *testing.T) {
	candidates := makeCandidates(20)
	emitted := ApplySponsoredLimit(candidates, DefaultSponsoredLimit())

	if len(emitted) != 20 {
		t.Fatalf("emitted %d items, want 20", len(emitted))
	}
	for i := range emitted {
		if emitted[i].Opportunity.ID != candidates[i].Opportunity.ID {
			t.Errorf("position %d reordered without cause", i)
		}
	}
}

func TestApplySponsoredLimitClusteredEarly(t *testing.T) {
	// 30 items with 5 sponsored clustered at the top of the ranking.
	candidates := makeCandidates(30, 0, 1, 2, 3, 4)
	limit := DefaultSponsoredLimit()

	emitted := ApplySponsoredLimit(candidates, limit)

	if len(emitted) != 30 {
		t.Fatalf("emitted %d items, want 30: excess sponsored must be deferred, not dropped", len(emitted))
	}
	if got := sponsoredCount(emitted); got != 5 {
		t.Fatalf("emitted %d sponsored items, want all 5", got)
	}
	assertWindowCap(t, emitted, limit)

	// The first two sponsored keep their rank positions.
	if !emitted[0].Opportunity.Sponsored || !emitted[1].Opportunity.Sponsored {
		t.Error("first two sponsored items should emit at their ranked positions")
	}
	// The third sponsored item must sit outside the first window.
	for i := 2; i < limit.Window-1 && i < len(emitted); i++ {
		if emitted[i].Opportunity.Sponsored {
			t.Errorf("sponsored item at position %d violates the first window", i)
		}
	}
}

func TestApplySponsoredLimitDeferredReenterInRankOrder(t *testing.T) {
	candidates := makeCandidates(40, 0, 1, 2, 3)
	emitted := ApplySponsoredLimit(candidates, DefaultSponsoredLimit())

	// Deferred sponsored items must come back in their original relative
	// order.
	var order []string
	for _, it := range emitted {
		if it.Opportunity.Sponsored {
			order = append(order, it.Opportunity.ID)
		}
	}
	want := []string{"opp-000", "opp-001", "opp-002", "opp-003"}
	if len(order) != len(want) {
		t.Fatalf("sponsored order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("sponsored order %v, want %v", order, want)
		}
	}
}

func TestApplySponsoredLimitDropsOnlyAtFeedEnd(t *testing.T) {
	// Every candidate is sponsored: only the cap's worth can ever emit.
	candidates := makeCandidates(12, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11)
	limit := DefaultSponsoredLimit()

	emitted := ApplySponsoredLimit(candidates, limit)

	if len(emitted) != limit.Max {
		t.Fatalf("emitted %d items, want %d: no organic spacing exists", len(emitted), limit.Max)
	}
	assertWindowCap(t, emitted, limit)
}

func TestApplySponsoredLimitShortFeed(t *testing.T) {
	// Fewer candidates than the window: the cap still binds.
	candidates := makeCandidates(7, 0, 1, 2)
	limit := DefaultSponsoredLimit()

	emitted := ApplySponsoredLimit(candidates, limit)

	assertWindowCap(t, emitted, limit)
	if got := sponsoredCount(emitted); got != 2 {
		t.Errorf("emitted %d sponsored in a 7-item feed, want 2", got)
	}
}

func TestApplySponsoredLimitZeroMax(t *testing.T) {
	candidates := makeCandidates(10, 2, 5)
	emitted := ApplySponsoredLimit(candidates, SponsoredLimit{Window: 12, Max: 0})

	if got := sponsoredCount(emitted); got != 0 {
		t.Errorf("emitted %d sponsored with a zero cap", got)
	}
	if len(emitted) != 8 {
		t.Errorf("emitted %d items, want the 8 organic ones", len(emitted))
	}
}

func TestApplySponsoredLimitDeterministic(t *testing.T) {
	candidates := makeCandidates(50, 0, 1, 2, 3, 4, 10, 11, 12, 30)

	first := ApplySponsoredLimit(candidates, DefaultSponsoredLimit())
	for run := 0; run < 5; run++ {
		next := ApplySponsoredLimit(candidates, DefaultSponsoredLimit())
		if len(next) != len(first) {
			t.Fatalf("run %d: length %d, want %d", run, len(next), len(first))
		}
		for i := range first {
			if next[i].Opportunity.ID != first[i].Opportunity.ID {
				t.Fatalf("run %d: position %d = %s, want %s",
					run, i, next[i].Opportunity.ID, first[i].Opportunity.ID)
			}
		}
	}
}

func TestApplySponsoredLimitDenseSpread(t *testing.T) {
	// Sponsored every third position stresses repeated defer/re-enter.
	var sponsored []int
	for i := 0; i < 60; i += 3 {
		sponsored = append(sponsored, i)
	}
	candidates := makeCandidates(60, sponsored...)
	limit := DefaultSponsoredLimit()

	emitted := ApplySponsoredLimit(candidates, limit)
	assertWindowCap(t, emitted, limit)

	// 40 organic items always emit; sponsored fill whatever capacity
	// remains.
	organic := 0
	for _, it := range emitted {
		if !it.Opportunity.Sponsored {
			organic++
		}
	}
	if organic != 40 {
		t.Errorf("emitted %d organic items, want all 40", organic)
	}
}
