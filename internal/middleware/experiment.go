// Package middleware provides ranking experiment cohort routing and monitoring.
package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ExperimentConfig holds configuration for a ranking experiment rollout.
// The middleware assigns each request to a cohort, tags it via header and
// context, and tracks per-cohort health; handlers that want to vary
// behavior read the assignment with GetCohort.
type ExperimentConfig struct {
	Enabled          bool
	Name             string  // Experiment identifier, surfaced in headers and logs
	TrafficPercent   float64 // Percentage of traffic assigned to the experiment cohort (0-100)
	ErrorThreshold   float64 // Error rate threshold for auto-disable (0-100)
	LatencyThreshold float64 // Latency threshold in seconds for auto-disable
	AutoDisable      bool    // Disable the experiment automatically on threshold breach
}

// CohortControl and CohortExperiment are the two assignment buckets.
const (
	CohortControl    = "control"
	CohortExperiment = "experiment"
)

// CohortHeader carries the assignment to clients and downstream services.
const CohortHeader = "X-Feed-Cohort"

// cohortContextKey is the context key for the assigned cohort.
type cohortContextKey struct{}

// GetCohort returns the cohort assigned to this request, or CohortControl
// when no experiment middleware ran.
func GetCohort(ctx context.Context) string {
	if c, ok := ctx.Value(cohortContextKey{}).(string); ok {
		return c
	}
	return CohortControl
}

// cohortMetrics tracks request outcomes per cohort.
type cohortMetrics struct {
	mu sync.RWMutex

	experimentRequests   int64
	experimentErrors     int64
	experimentLatencySum float64

	controlRequests   int64
	controlErrors     int64
	controlLatencySum float64

	windowStart time.Time
}

// ExperimentRouter assigns requests to experiment cohorts and watches the
// experiment cohort's health.
type ExperimentRouter struct {
	config  ExperimentConfig
	metrics *cohortMetrics
	logger  *slog.Logger

	mu     sync.RWMutex
	active bool
}

// NewExperimentRouter creates an experiment router with the given configuration.
func NewExperimentRouter(config ExperimentConfig, logger *slog.Logger) *ExperimentRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExperimentRouter{
		config:  config,
		metrics: &cohortMetrics{windowStart: time.Now()},
		logger:  logger,
		active:  config.Enabled,
	}
}

// Middleware assigns each request to a cohort. Assignment is a
// deterministic hash of the client key, so a given client stays in the
// same cohort across requests and server replicas.
func (er *ExperimentRouter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		er.mu.RLock()
		enabled := er.active && er.config.Enabled
		er.mu.RUnlock()

		cohort := CohortControl
		if enabled {
			cohort = er.assignCohort(r)
		}

		w.Header().Set(CohortHeader, cohort)
		ctx := context.WithValue(r.Context(), cohortContextKey{}, cohort)

		start := time.Now()
		wrapped := newResponseWriter(w)
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		if !enabled {
			return
		}

		er.recordRequest(cohort, time.Since(start).Seconds(), wrapped.statusCode >= 500)
		if er.config.AutoDisable && cohort == CohortExperiment {
			er.checkDisableConditions()
		}
	})
}

// assignCohort buckets a request by hashing the client key. The hash maps
// to [0, 100); values under TrafficPercent land in the experiment cohort.
func (er *ExperimentRouter) assignCohort(r *http.Request) string {
	key := GetActor(r.Context())
	if key == "" {
		key = IPKeyFunc()(r)
	}
	// Salt with the experiment name so successive experiments draw
	// independent cohorts.
	hash := sha256.Sum256([]byte(er.config.Name + ":" + key))
	hashValue := binary.BigEndian.Uint64(hash[:8])

	percentage := float64(hashValue%10000) / 100.0
	if percentage < er.config.TrafficPercent {
		return CohortExperiment
	}
	return CohortControl
}

func (er *ExperimentRouter) recordRequest(cohort string, latency float64, isError bool) {
	er.metrics.mu.Lock()
	defer er.metrics.mu.Unlock()

	if cohort == CohortExperiment {
		er.metrics.experimentRequests++
		er.metrics.experimentLatencySum += latency
		if isError {
			er.metrics.experimentErrors++
		}
	} else {
		er.metrics.controlRequests++
		er.metrics.controlLatencySum += latency
		if isError {
			er.metrics.controlErrors++
		}
	}
}

// minExperimentSample is the number of experiment-cohort requests needed
// before health thresholds are evaluated.
const minExperimentSample = 100

// checkDisableConditions disables the experiment if its cohort is
// erroring or slowing down past the configured thresholds.
func (er *ExperimentRouter) checkDisableConditions() {
	er.metrics.mu.RLock()

	if er.metrics.experimentRequests < minExperimentSample {
		er.metrics.mu.RUnlock()
		return
	}

	errorRate := float64(er.metrics.experimentErrors) / float64(er.metrics.experimentRequests) * 100
	avgLatency := er.metrics.experimentLatencySum / float64(er.metrics.experimentRequests)

	var controlErrorRate float64
	if er.metrics.controlRequests > 0 {
		controlErrorRate = float64(er.metrics.controlErrors) / float64(er.metrics.controlRequests) * 100
	}

	er.metrics.mu.RUnlock()

	if er.config.ErrorThreshold > 0 && errorRate > er.config.ErrorThreshold {
		er.logger.Error("experiment disabled: error rate exceeded threshold",
			"experiment", er.config.Name,
			"error_rate", fmt.Sprintf("%.2f%%", errorRate),
			"threshold", fmt.Sprintf("%.2f%%", er.config.ErrorThreshold))
		er.Disable("error_rate_exceeded")
		return
	}
	if er.config.LatencyThreshold > 0 && avgLatency > er.config.LatencyThreshold {
		er.logger.Error("experiment disabled: latency exceeded threshold",
			"experiment", er.config.Name,
			"avg_latency", fmt.Sprintf("%.3fs", avgLatency),
			"threshold", fmt.Sprintf("%.3fs", er.config.LatencyThreshold))
		er.Disable("latency_exceeded")
		return
	}
	// The experiment cohort should not error materially more than control.
	if controlErrorRate > 0 && errorRate > controlErrorRate*2 {
		er.logger.Error("experiment disabled: error rate significantly higher than control",
			"experiment", er.config.Name,
			"error_rate", fmt.Sprintf("%.2f%%", errorRate),
			"control_error_rate", fmt.Sprintf("%.2f%%", controlErrorRate))
		er.Disable("relative_error_rate_high")
	}
}

// Disable turns the experiment off; every subsequent request routes to
// the control cohort.
func (er *ExperimentRouter) Disable(reason string) {
	er.mu.Lock()
	defer er.mu.Unlock()

	if !er.active {
		return
	}
	er.active = false
	er.logger.Warn("ranking experiment disabled",
		"experiment", er.config.Name,
		"reason", reason)
}

// Active reports whether the experiment is currently routing traffic.
func (er *ExperimentRouter) Active() bool {
	er.mu.RLock()
	defer er.mu.RUnlock()
	return er.active
}

// ExperimentSnapshot is a point-in-time view of experiment health.
type ExperimentSnapshot struct {
	Name                 string        `json:"name"`
	Active               bool          `json:"active"`
	ExperimentRequests   int64         `json:"experiment_requests"`
	ExperimentErrors     int64         `json:"experiment_errors"`
	ExperimentErrorRate  float64       `json:"experiment_error_rate"`
	ExperimentAvgLatency float64       `json:"experiment_avg_latency"`
	ControlRequests      int64         `json:"control_requests"`
	ControlErrors        int64         `json:"control_errors"`
	ControlErrorRate     float64       `json:"control_error_rate"`
	ControlAvgLatency    float64       `json:"control_avg_latency"`
	WindowStart          time.Time     `json:"window_start"`
	WindowDuration       time.Duration `json:"window_duration"`
}

// GetMetrics returns the current experiment metrics snapshot.
func (er *ExperimentRouter) GetMetrics() ExperimentSnapshot {
	er.metrics.mu.RLock()
	defer er.metrics.mu.RUnlock()

	snap := ExperimentSnapshot{
		Name:               er.config.Name,
		Active:             er.Active(),
		ExperimentRequests: er.metrics.experimentRequests,
		ExperimentErrors:   er.metrics.experimentErrors,
		ControlRequests:    er.metrics.controlRequests,
		ControlErrors:      er.metrics.controlErrors,
		WindowStart:        er.metrics.windowStart,
		WindowDuration:     time.Since(er.metrics.windowStart),
	}
	if snap.ExperimentRequests > 0 {
		snap.ExperimentErrorRate = float64(snap.ExperimentErrors) / float64(snap.ExperimentRequests) * 100
		snap.ExperimentAvgLatency = er.metrics.experimentLatencySum / float64(snap.ExperimentRequests)
	}
	if snap.ControlRequests > 0 {
		snap.ControlErrorRate = float64(snap.ControlErrors) / float64(snap.ControlRequests) * 100
		snap.ControlAvgLatency = er.metrics.controlLatencySum / float64(snap.ControlRequests)
	}
	return snap
}

// ResetMetrics resets the metrics window.
func (er *ExperimentRouter) ResetMetrics() {
	er.metrics.mu.Lock()
	defer er.metrics.mu.Unlock()

	*er.metrics = cohortMetrics{windowStart: time.Now()}
}
