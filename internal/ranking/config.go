package ranking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
)

// Weights defines the composite score weights. They must sum to 1.0 so
// rank_score stays in [0, 1].
type Weights struct {
	Relevance float64 `json:"relevance"` // default: 0.60
	Trust     float64 `json:"trust"`     // default: 0.25
	Freshness float64 `json:"freshness"` // default: 0.15
}

// UrgencyBonuses are the additive freshness bonuses per urgency tag.
type UrgencyBonuses struct {
	EndingSoon float64 `json:"ending_soon"` // default: 0.30
	Hot        float64 `json:"hot"`         // default: 0.20
	New        float64 `json:"new"`         // default: 0.15
}

// ColdStart tunes the relevance proxy used before an opportunity has
// enough impressions for CTR to mean anything.
type ColdStart struct {
	TrustProxy        float64 `json:"trust_proxy"`        // default: 0.70
	FeaturedBonus     float64 `json:"featured_bonus"`     // default: 0.20
	BeginnerBonus     float64 `json:"beginner_bonus"`     // default: 0.15
	IntermediateBonus float64 `json:"intermediate_bonus"` // default: 0.05
}

// Calibration holds every tunable ranking constant.
type Calibration struct {
	Weights   Weights        `json:"weights"`
	Urgency   UrgencyBonuses `json:"urgency"`
	ColdStart ColdStart      `json:"cold_start"`

	// CTRSaturation is the click-through rate treated as maximal
	// relevance; CTR is normalized against it.
	CTRSaturation float64 `json:"ctr_saturation"` // default: 0.10

	// HotCTRThreshold is the CTR at which an opportunity is tagged hot.
	HotCTRThreshold float64 `json:"hot_ctr_threshold"` // default: 0.05

	// MinImpressions is the floor below which CTR is ignored.
	MinImpressions int64 `json:"min_impressions"` // default: 50
}

// CalibrationFile is the JSON structure of the calibration file.
type CalibrationFile struct {
	Version     string      `json:"version"`
	Calibration Calibration `json:"calibration"`
}

// weightSumTolerance allows for float rounding in hand-edited files.
const weightSumTolerance = 1e-6

// DefaultCalibration returns the default ranking calibration. The weights
// encode the product's ordering priorities: relevance dominates, trust is
// a strong secondary signal, freshness breaks the rest.
func DefaultCalibration() *Calibration {
	return &Calibration{
		Weights: Weights{
			Relevance: 0.60,
			Trust:     0.25,
			Freshness: 0.15,
		},
		Urgency: UrgencyBonuses{
			EndingSoon: 0.30,
			Hot:        0.20,
			New:        0.15,
		},
		ColdStart: ColdStart{
			TrustProxy:        0.70,
			FeaturedBonus:     0.20,
			BeginnerBonus:     0.15,
			IntermediateBonus: 0.05,
		},
		CTRSaturation:   0.10,
		HotCTRThreshold: 0.05,
		MinImpressions:  50,
	}
}

// Validate checks the invariants a calibration must hold.
func (c *Calibration) Validate() error {
	sum := c.Weights.Relevance + c.Weights.Trust + c.Weights.Freshness
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("component weights must sum to 1.0, got %.6f", sum)
	}
	if c.Weights.Relevance < 0 || c.Weights.Trust < 0 || c.Weights.Freshness < 0 {
		return fmt.Errorf("component weights must be non-negative")
	}
	if c.CTRSaturation <= 0 {
		return fmt.Errorf("ctr_saturation must be > 0")
	}
	if c.MinImpressions < 0 {
		return fmt.Errorf("min_impressions must be >= 0")
	}
	return nil
}

// LoadCalibration loads the ranking calibration from a JSON file, merging
// partial files over the defaults. On any error it returns the defaults
// alongside the error so startup degrades gracefully instead of failing.
func LoadCalibration(filePath string) (*Calibration, error) {
	if filePath == "" {
		return DefaultCalibration(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultCalibration(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var f CalibrationFile
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultCalibration(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	merged := MergeCalibration(DefaultCalibration(), &f.Calibration)
	if err := merged.Validate(); err != nil {
		slog.Warn("invalid calibration, using defaults",
			"path", filePath,
			"error", err)
		return DefaultCalibration(), fmt.Errorf("invalid calibration: %w", err)
	}

	slog.Info("loaded ranking calibration",
		"path", filePath,
		"weights_relevance", merged.Weights.Relevance,
		"weights_trust", merged.Weights.Trust,
		"weights_freshness", merged.Weights.Freshness)
	return merged, nil
}

// MergeCalibration overlays non-zero override values onto a base
// calibration, allowing partial calibration files.
func MergeCalibration(base *Calibration, override *Calibration) *Calibration {
	if base == nil {
		return DefaultCalibration()
	}
	if override == nil {
		result := *base
		return &result
	}

	result := *base

	if override.Weights.Relevance != 0 {
		result.Weights.Relevance = override.Weights.Relevance
	}
	if override.Weights.Trust != 0 {
		result.Weights.Trust = override.Weights.Trust
	}
	if override.Weights.Freshness != 0 {
		result.Weights.Freshness = override.Weights.Freshness
	}

	if override.Urgency.EndingSoon != 0 {
		result.Urgency.EndingSoon = override.Urgency.EndingSoon
	}
	if override.Urgency.Hot != 0 {
		result.Urgency.Hot = override.Urgency.Hot
	}
	if override.Urgency.New != 0 {
		result.Urgency.New = override.Urgency.New
	}

	if override.ColdStart.TrustProxy != 0 {
		result.ColdStart.TrustProxy = override.ColdStart.TrustProxy
	}
	if override.ColdStart.FeaturedBonus != 0 {
		result.ColdStart.FeaturedBonus = override.ColdStart.FeaturedBonus
	}
	if override.ColdStart.BeginnerBonus != 0 {
		result.ColdStart.BeginnerBonus = override.ColdStart.BeginnerBonus
	}
	if override.ColdStart.IntermediateBonus != 0 {
		result.ColdStart.IntermediateBonus = override.ColdStart.IntermediateBonus
	}

	if override.CTRSaturation != 0 {
		result.CTRSaturation = override.CTRSaturation
	}
	if override.HotCTRThreshold != 0 {
		result.HotCTRThreshold = override.HotCTRThreshold
	}
	if override.MinImpressions != 0 {
		result.MinImpressions = override.MinImpressions
	}

	return &result
}
