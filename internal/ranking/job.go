package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alphawhale/whalefeed/internal/opportunity"
	"github.com/alphawhale/whalefeed/internal/telemetry"
	"github.com/alphawhale/whalefeed/internal/trust"
)

// Sources bundles the data a snapshot build reads from.
type Sources struct {
	// Catalog lists the live opportunities to rank.
	Catalog opportunity.Repository
	// Trust resolves scan ratings; nil ratings fall back to the catalog
	// score or the neutral default.
	Trust trust.Source
	// Telemetry provides impression and click counters for the
	// trending signal. A nil store means every item is cold-start.
	Telemetry telemetry.Store
}

// BuildSnapshot scores the live catalog and returns the ranked items in
// the feed's total order. Telemetry failures degrade to cold-start
// scoring rather than failing the build.
func BuildSnapshot(ctx context.Context, src Sources, cal *Calibration, now time.Time) ([]Item, error) {
	if cal == nil {
		cal = DefaultCalibration()
	}

	opps, err := src.Catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list opportunities: %w", err)
	}

	var signals map[string]telemetry.Signal
	if src.Telemetry != nil && len(opps) > 0 {
		ids := make([]string, len(opps))
		for i, o := range opps {
			ids[i] = o.ID
		}
		signals, err = src.Telemetry.Signals(ctx, ids)
		if err != nil {
			slog.Warn("telemetry unavailable, ranking without trending signal",
				"error", err)
			signals = nil
		}
	}

	items := make([]Item, 0, len(opps))
	for _, o := range opps {
		sig := signals[o.ID]

		score := trust.Effective(src.Trust, o.ID, o.TrustScore)
		trustW := TrustWeight(score)

		hot := Hot(sig, cal)
		urgencies := o.Urgencies(now, hot)

		c := Components{
			Relevance: RelevanceWeight(sig, o, trustW, cal),
			Trust:     trustW,
			Freshness: FreshnessWeight(o, now, urgencies, cal),
		}

		items = append(items, Item{
			Opportunity: *o,
			Score:       CompositeScore(c, &cal.Weights),
			Components:  c,
			TrustScore:  score,
			TrustLevel:  trust.LevelFor(score),
			Hot:         hot,
			ColdStart:   sig.Impressions < cal.MinImpressions,
			Urgencies:   urgencies,
		})
	}

	SortItems(items)
	return items, nil
}

// JobMetrics provides centralized background job metrics tracking.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// RecomputeJobConfig configures the rank snapshot recompute job.
type RecomputeJobConfig struct {
	// Interval is the duration between recompute cycles.
	Interval time.Duration
	// Timeout for each recompute cycle.
	Timeout time.Duration
	// Logger for job activity.
	Logger *slog.Logger
	// Metrics for ranking-specific tracking.
	Metrics *Metrics
	// JobMetrics for centralized background job tracking.
	JobMetrics JobMetrics
	// PublishHook runs after each successful publish, outside the
	// store lock. Used to notify live feed subscribers.
	PublishHook func(snap *Snapshot)
}

// DefaultRecomputeInterval is the default interval between recompute cycles.
const DefaultRecomputeInterval = 60 * time.Second

// DefaultRecomputeTimeout is the default timeout for a single recompute cycle.
const DefaultRecomputeTimeout = 30 * time.Second

const jobType = "rank_recompute"

// RecomputeJob periodically rebuilds the rank snapshot from the catalog,
// trust and telemetry sources. On failure the previous snapshot stays
// current, so readers see a stale feed rather than an empty one.
type RecomputeJob struct {
	config  RecomputeJobConfig
	sources Sources
	cal     *Calibration
	store   *Store

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRecomputeJob creates a new rank snapshot recompute job.
func NewRecomputeJob(config RecomputeJobConfig, sources Sources, cal *Calibration, store *Store) *RecomputeJob {
	if config.Interval == 0 {
		config.Interval = DefaultRecomputeInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultRecomputeTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if cal == nil {
		cal = DefaultCalibration()
	}

	return &RecomputeJob{
		config:  config,
		sources: sources,
		cal:     cal,
		store:   store,
	}
}

// Start begins the periodic recompute job.
// Returns immediately; the job runs in a background goroutine.
func (j *RecomputeJob) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop signals the recompute job to stop and waits for it to finish.
func (j *RecomputeJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *RecomputeJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// RecomputeNow runs a single recompute cycle synchronously. Used at
// startup so the first feed request never races the first tick.
func (j *RecomputeJob) RecomputeNow(ctx context.Context) error {
	return j.recompute(ctx)
}

// run is the main loop for the recompute job.
func (j *RecomputeJob) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("rank recompute job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("rank recompute job stopping due to stop signal")
			return
		case <-ticker.C:
			if err := j.recompute(ctx); err != nil {
				j.config.Logger.Error("rank recompute cycle failed, keeping previous snapshot",
					"error", err)
			}
		}
	}
}

// recompute performs one build-and-publish cycle with the configured
// timeout.
func (j *RecomputeJob) recompute(parentCtx context.Context) error {
	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	startTime := time.Now()
	now := startTime.UTC()

	items, err := BuildSnapshot(ctx, j.sources, j.cal, now)
	duration := time.Since(startTime).Seconds()

	if j.config.Metrics != nil {
		j.config.Metrics.IncRecomputeTotal()
		j.config.Metrics.ObserveRecomputeDuration(duration)
	}
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.ObserveJobDuration(jobType, duration)
	}

	if err != nil {
		if j.config.Metrics != nil {
			j.config.Metrics.IncRecomputeErrors()
		}
		if j.config.JobMetrics != nil {
			j.config.JobMetrics.IncJobsTotal(jobType, "failure")
			j.config.JobMetrics.IncJobErrors(jobType, "build_error")
		}
		return err
	}

	snap := j.store.Publish(items, now)

	if j.config.Metrics != nil {
		j.config.Metrics.SetSnapshot(snap.Generation, len(items), float64(snap.ComputedAt.Unix()), coldStartRatio(items))
	}
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(jobType, "success")
	}

	j.config.Logger.Info("published rank snapshot",
		"generation", snap.Generation,
		"items", len(snap.Items),
		"duration_seconds", duration)

	if j.config.PublishHook != nil {
		j.config.PublishHook(snap)
	}
	return nil
}

// coldStartRatio reports the fraction of items ranked with the
// cold-start relevance proxy instead of a CTR signal.
func coldStartRatio(items []Item) float64 {
	if len(items) == 0 {
		return 0
	}
	cold := 0
	for i := range items {
		if items[i].ColdStart {
			cold++
		}
	}
	return float64(cold) / float64(len(items))
}
