package trust

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricTrustSyncTotal           = "trust_sync_total"
	MetricTrustSyncErrors          = "trust_sync_errors_total"
	MetricTrustSyncDuration        = "trust_sync_duration_seconds"
	MetricTrustLastSyncTimestamp   = "trust_last_sync_timestamp"
	MetricTrustLastSyncRatingCount = "trust_last_sync_rating_count"
)

// Metrics contains Prometheus metrics for guardian rating sync.
// All operations are thread-safe.
type Metrics struct {
	syncTotal           prometheus.Counter
	syncErrors          prometheus.Counter
	syncDuration        prometheus.Histogram
	lastSyncTimestamp   prometheus.Gauge
	lastSyncRatingCount prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		syncTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricTrustSyncTotal,
			Help: "Total number of guardian rating sync cycles",
		}),
		syncErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricTrustSyncErrors,
			Help: "Total number of guardian rating sync errors",
		}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricTrustSyncDuration,
			Help:    "Histogram of guardian rating sync duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
		}),
		lastSyncTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricTrustLastSyncTimestamp,
			Help: "Unix timestamp of the last guardian rating sync",
		}),
		lastSyncRatingCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricTrustLastSyncRatingCount,
			Help: "Number of ratings stored in the last guardian rating sync",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncSyncTotal increments the sync total counter.
func (m *Metrics) IncSyncTotal() {
	m.syncTotal.Inc()
}

// IncSyncErrors increments the sync errors counter.
func (m *Metrics) IncSyncErrors() {
	m.syncErrors.Inc()
}

// ObserveSyncDuration records a sync duration sample.
func (m *Metrics) ObserveSyncDuration(seconds float64) {
	m.syncDuration.Observe(seconds)
}

// SetLastSync records the timestamp and stored rating count of the last
// successful sync.
func (m *Metrics) SetLastSync(timestamp, ratingCount float64) {
	m.lastSyncTimestamp.Set(timestamp)
	m.lastSyncRatingCount.Set(ratingCount)
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.syncTotal,
		m.syncErrors,
		m.syncDuration,
		m.lastSyncTimestamp,
		m.lastSyncRatingCount,
	}
}
