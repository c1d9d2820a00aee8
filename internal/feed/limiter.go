package feed

import (
	"github.com/alphawhale/whalefeed/internal/ranking"
)

// Sponsored-slot density defaults: at most 2 sponsored placements in any
// 12 contiguous feed positions.
const (
	DefaultSponsoredWindow = 12
	DefaultSponsoredMax    = 2
)

// SponsoredLimit is the density constraint on sponsored placements.
type SponsoredLimit struct {
	// Window is the contiguous run length the cap applies over.
	Window int
	// Max is the maximum sponsored items allowed inside one window.
	Max int
}

// DefaultSponsoredLimit returns the standard 2-per-12 constraint.
func DefaultSponsoredLimit() SponsoredLimit {
	return SponsoredLimit{Window: DefaultSponsoredWindow, Max: DefaultSponsoredMax}
}

func (l SponsoredLimit) normalized() SponsoredLimit {
	if l.Window < 1 {
		l.Window = DefaultSponsoredWindow
	}
	if l.Max < 0 {
		l.Max = DefaultSponsoredMax
	}
	return l
}

// ApplySponsoredLimit reorders an ordered candidate list so that no
// contiguous run of limit.Window emitted items contains more than
// limit.Max sponsored items.
//
// A sponsored candidate that would overfill the trailing window is
// deferred, not dropped: it re-enters the stream at the first position
// where the window has room, ahead of lower-ranked candidates. Deferred
// items still pending when the candidate list ends are appended while
// capacity lasts and dropped only when none remains.
//
// The function is pure: it depends only on the candidate order, so every
// request replaying the same snapshot computes the identical sequence
// regardless of which page it is serving.
func ApplySponsoredLimit(candidates []ranking.Item, limit SponsoredLimit) []ranking.Item {
	limit = limit.normalized()

	emitted := make([]ranking.Item, 0, len(candidates))
	var deferred []ranking.Item

	// hasRoom reports whether appending one sponsored item now keeps
	// every window ending at the new position within the cap. Only the
	// trailing Window-1 emitted items matter: all earlier windows were
	// checked when their last item was emitted.
	hasRoom := func() bool {
		start := len(emitted) - (limit.Window - 1)
		if start < 0 {
			start = 0
		}
		n := 0
		for i := start; i < len(emitted); i++ {
			if emitted[i].Opportunity.Sponsored {
				n++
			}
		}
		return n < limit.Max
	}

	for _, c := range candidates {
		// Deferred sponsored items outrank everything still in the
		// candidate list, so they re-enter first when the window frees.
		for len(deferred) > 0 && hasRoom() {
			emitted = append(emitted, deferred[0])
			deferred = deferred[1:]
		}

		if c.Opportunity.Sponsored && !hasRoom() {
			deferred = append(deferred, c)
			continue
		}
		emitted = append(emitted, c)
	}

	for len(deferred) > 0 && hasRoom() {
		emitted = append(emitted, deferred[0])
		deferred = deferred[1:]
	}

	return emitted
}
