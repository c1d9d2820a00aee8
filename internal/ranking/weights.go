package ranking

import (
	"time"

	"github.com/alphawhale/whalefeed/internal/opportunity"
	"github.com/alphawhale/whalefeed/internal/telemetry"
)

// Components is the per-opportunity score breakdown. Each component is
// independently in [0, 1], so the weighted sum is too.
type Components struct {
	Relevance float64 `json:"relevance"`
	Trust     float64 `json:"trust"`
	Freshness float64 `json:"freshness"`
}

// TrustWeight scales a 0-100 trust score to [0, 1], clamping out-of-range
// values rather than propagating them into the composite.
func TrustWeight(score int) float64 {
	w := float64(score) / 100.0
	return clamp01(w)
}

// RelevanceWeight computes the relevance component.
//
// With enough impressions the trending CTR drives relevance: CTR is
// normalized against the saturation point (a CTR at or above saturation
// means maximally relevant). Below the impression floor the signal is too
// noisy, so a cold-start proxy stands in: a fraction of the trust
// component plus bonuses for approachable difficulty and the featured
// flag, capped at 1.0.
func RelevanceWeight(sig telemetry.Signal, o *opportunity.Opportunity, trustWeighted float64, cal *Calibration) float64 {
	if cal == nil {
		cal = DefaultCalibration()
	}

	if sig.Impressions >= cal.MinImpressions && cal.CTRSaturation > 0 {
		return clamp01(sig.CTR / cal.CTRSaturation)
	}

	w := trustWeighted * cal.ColdStart.TrustProxy
	switch o.Difficulty {
	case opportunity.DifficultyBeginner:
		w += cal.ColdStart.BeginnerBonus
	case opportunity.DifficultyIntermediate:
		w += cal.ColdStart.IntermediateBonus
	}
	if o.Featured {
		w += cal.ColdStart.FeaturedBonus
	}
	return clamp01(w)
}

// Freshness decay anchors: full weight inside the first day, then decays
// to the stated values at the week and month marks.
const (
	freshFullWindow = 24 * time.Hour
	freshWeek       = 7 * 24 * time.Hour
	freshMonth      = 30 * 24 * time.Hour

	freshAtWeek  = 0.5
	freshAtMonth = 0.1
)

// FreshnessWeight computes the freshness component: an age decay from the
// publication time plus additive urgency bonuses, capped at 1.0.
func FreshnessWeight(o *opportunity.Opportunity, now time.Time, urgencies []opportunity.Urgency, cal *Calibration) float64 {
	if cal == nil {
		cal = DefaultCalibration()
	}

	w := ageDecay(now.Sub(o.PublishedAt))
	for _, u := range urgencies {
		switch u {
		case opportunity.UrgencyEndingSoon:
			w += cal.Urgency.EndingSoon
		case opportunity.UrgencyHot:
			w += cal.Urgency.Hot
		case opportunity.UrgencyNew:
			w += cal.Urgency.New
		}
	}
	return clamp01(w)
}

// ageDecay maps age since publication to [0.1, 1.0]: 1.0 inside the first
// 24h, 0.5 at 7 days, 0.1 at 30 days and beyond, linear between anchors.
func ageDecay(age time.Duration) float64 {
	switch {
	case age <= freshFullWindow:
		return 1.0
	case age >= freshMonth:
		return freshAtMonth
	case age <= freshWeek:
		// 1.0 at 1 day down to 0.5 at 7 days.
		span := float64(freshWeek - freshFullWindow)
		return 1.0 - (1.0-freshAtWeek)*float64(age-freshFullWindow)/span
	default:
		// 0.5 at 7 days down to 0.1 at 30 days.
		span := float64(freshMonth - freshWeek)
		return freshAtWeek - (freshAtWeek-freshAtMonth)*float64(age-freshWeek)/span
	}
}

// Hot reports whether the trending signal is strong enough to tag the
// opportunity as hot.
func Hot(sig telemetry.Signal, cal *Calibration) bool {
	if cal == nil {
		cal = DefaultCalibration()
	}
	return sig.Impressions >= cal.MinImpressions && sig.CTR >= cal.HotCTRThreshold
}

// CompositeScore combines the components with the calibrated weights.
func CompositeScore(c Components, w *Weights) float64 {
	if w == nil {
		w = &DefaultCalibration().Weights
	}
	return c.Relevance*w.Relevance + c.Trust*w.Trust + c.Freshness*w.Freshness
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
