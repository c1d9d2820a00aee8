package ranking

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricRankRecomputeTotal        = "rank_recompute_total"
	MetricRankRecomputeErrors       = "rank_recompute_errors_total"
	MetricRankRecomputeDuration     = "rank_recompute_duration_seconds"
	MetricRankSnapshotGeneration    = "rank_snapshot_generation"
	MetricRankSnapshotItemCount     = "rank_snapshot_item_count"
	MetricRankSnapshotTimestamp     = "rank_snapshot_timestamp"
	MetricRankSnapshotColdStartPart = "rank_snapshot_cold_start_ratio"
)

// Metrics contains Prometheus metrics for rank snapshot recomputation.
// All operations are thread-safe.
type Metrics struct {
	recomputeTotal    prometheus.Counter
	recomputeErrors   prometheus.Counter
	recomputeDuration prometheus.Histogram
	generation        prometheus.Gauge
	itemCount         prometheus.Gauge
	snapshotTimestamp prometheus.Gauge
	coldStartRatio    prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		recomputeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRankRecomputeTotal,
			Help: "Total number of rank snapshot recomputations",
		}),
		recomputeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRankRecomputeErrors,
			Help: "Total number of rank snapshot recomputation errors",
		}),
		recomputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRankRecomputeDuration,
			Help:    "Histogram of rank snapshot recomputation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricRankSnapshotGeneration,
			Help: "Generation number of the current rank snapshot",
		}),
		itemCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricRankSnapshotItemCount,
			Help: "Number of items in the current rank snapshot",
		}),
		snapshotTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricRankSnapshotTimestamp,
			Help: "Unix timestamp of the current rank snapshot",
		}),
		coldStartRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricRankSnapshotColdStartPart,
			Help: "Fraction of current snapshot items ranked without a CTR signal",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRecomputeTotal increments the recompute total counter.
func (m *Metrics) IncRecomputeTotal() {
	m.recomputeTotal.Inc()
}

// IncRecomputeErrors increments the recompute errors counter.
func (m *Metrics) IncRecomputeErrors() {
	m.recomputeErrors.Inc()
}

// ObserveRecomputeDuration records a recompute duration sample.
func (m *Metrics) ObserveRecomputeDuration(seconds float64) {
	m.recomputeDuration.Observe(seconds)
}

// SetSnapshot records the gauges for a freshly published snapshot.
func (m *Metrics) SetSnapshot(generation uint64, itemCount int, timestamp float64, coldStartRatio float64) {
	m.generation.Set(float64(generation))
	m.itemCount.Set(float64(itemCount))
	m.snapshotTimestamp.Set(timestamp)
	m.coldStartRatio.Set(coldStartRatio)
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.recomputeTotal,
		m.recomputeErrors,
		m.recomputeDuration,
		m.generation,
		m.itemCount,
		m.snapshotTimestamp,
		m.coldStartRatio,
	}
}
