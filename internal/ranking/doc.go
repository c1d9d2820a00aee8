// Package ranking computes the composite feed score for every opportunity
// and maintains the versioned rank snapshot the feed paginates over.
//
// The score combines three components, each normalized to [0, 1]:
//
//	rank_score = relevance*0.60 + trust*0.25 + freshness*0.15
//
// Relevance comes from the trending signal (click-through rate) once an
// opportunity has enough impressions; before that a cold-start proxy built
// from trust, difficulty and the featured flag stands in. Trust is the
// Guardian score scaled to [0, 1] with a neutral default for unscanned
// opportunities. Freshness decays with age from publication and is topped
// up by urgency bonuses (ending_soon, hot, new).
//
// Scores are never computed inline per request. A RecomputeJob rebuilds
// the full ordered candidate list on a fixed cadence and publishes it as
// an immutable Snapshot with a monotonically increasing generation; the
// Store swaps the current pointer atomically, so readers see either the
// old complete snapshot or the new complete one, never a partial state.
// When a recompute cycle fails the previous snapshot keeps serving.
//
// Calibration:
//
// All weights, bonuses and thresholds load from a JSON calibration file at
// startup and merge over defaults, so ranking can be tuned per deploy
// without code changes. See configs/ranking.calibration.json.
package ranking
