package trust

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Fetcher pulls the Guardian's latest scan verdicts. Implementations read
// the Guardian pipeline's export (its results table or HTTP feed).
type Fetcher interface {
	// FetchSince returns ratings scanned after the given time. A zero
	// time requests the full current state.
	FetchSince(ctx context.Context, since time.Time) ([]Rating, error)
}

// Sink receives fetched ratings. *InMemoryStore implements it.
type Sink interface {
	Set(opportunityID string, score int, scannedAt time.Time) error
}

// SyncJobConfig configures the guardian rating sync job.
type SyncJobConfig struct {
	// Interval is the duration between sync cycles.
	Interval time.Duration
	// Timeout for each sync cycle.
	Timeout time.Duration
	// Logger for job activity.
	Logger *slog.Logger
	// Metrics for sync tracking.
	Metrics *Metrics
	// JobMetrics for centralized background job tracking.
	JobMetrics JobMetrics
}

// JobMetrics provides centralized background job metrics tracking.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// DefaultSyncInterval is the default interval between sync cycles.
const DefaultSyncInterval = 30 * time.Second

// DefaultSyncTimeout is the default timeout for a single sync cycle.
const DefaultSyncTimeout = 15 * time.Second

const syncJobType = "trust_sync"

// SyncJob periodically pulls fresh Guardian ratings into the local store
// so the ranker reads recent verdicts without calling the Guardian on the
// hot path. Fetch failures leave the previous ratings in place.
type SyncJob struct {
	config  SyncJobConfig
	fetcher Fetcher
	sink    Sink

	mu       sync.Mutex
	running  bool
	lastSync time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSyncJob creates a new guardian rating sync job.
func NewSyncJob(config SyncJobConfig, fetcher Fetcher, sink Sink) *SyncJob {
	if config.Interval == 0 {
		config.Interval = DefaultSyncInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultSyncTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &SyncJob{
		config:  config,
		fetcher: fetcher,
		sink:    sink,
	}
}

// Start begins the periodic sync job.
// Returns immediately; the job runs in a background goroutine.
func (j *SyncJob) Start(ctx context.Context) error {
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

// Stop signals the sync job to stop and waits for it to finish.
func (j *SyncJob) Stop() {
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
func (j *SyncJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// SyncNow runs a single sync cycle synchronously. Used at startup to warm
// the store before the first snapshot build.
func (j *SyncJob) SyncNow(ctx context.Context) error {
	return j.sync(ctx)
}

// run is the main loop for the sync job.
func (j *SyncJob) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("trust sync job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("trust sync job stopping due to stop signal")
			return
		case <-ticker.C:
			if err := j.sync(ctx); err != nil {
				j.config.Logger.Error("trust sync cycle failed, keeping previous ratings",
					"error", err)
			}
		}
	}
}

// sync performs one fetch-and-store cycle with the configured timeout.
func (j *SyncJob) sync(parentCtx context.Context) error {
	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	j.mu.Lock()
	since := j.lastSync
	j.mu.Unlock()

	startTime := time.Now()
	ratings, err := j.fetcher.FetchSince(ctx, since)
	duration := time.Since(startTime).Seconds()

	if j.config.Metrics != nil {
		m := j.config.Metrics
		m.IncSyncTotal()
		m.ObserveSyncDuration(duration)
	}
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.ObserveJobDuration(syncJobType, duration)
	}

	if err != nil {
		if j.config.Metrics != nil {
			j.config.Metrics.IncSyncErrors()
		}
		if j.config.JobMetrics != nil {
			j.config.JobMetrics.IncJobsTotal(syncJobType, "failure")
			j.config.JobMetrics.IncJobErrors(syncJobType, "fetch_error")
		}
		return err
	}

	var stored, rejected int
	for _, r := range ratings {
		if err := j.sink.Set(r.OpportunityID, r.Score, r.ScannedAt); err != nil {
			rejected++
			j.config.Logger.Warn("rejected guardian rating",
				"opportunity_id", r.OpportunityID,
				"score", r.Score,
				"error", err)
			continue
		}
		stored++
	}

	j.mu.Lock()
	j.lastSync = startTime.UTC()
	j.mu.Unlock()

	if j.config.Metrics != nil {
		j.config.Metrics.SetLastSync(float64(time.Now().Unix()), float64(stored))
	}
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(syncJobType, "success")
	}

	if stored > 0 || rejected > 0 {
		j.config.Logger.Info("trust sync completed",
			"stored", stored,
			"rejected", rejected,
			"duration_seconds", duration)
	}
	return nil
}
