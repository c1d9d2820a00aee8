// Package archive exports published rank snapshots to S3-compatible object
// storage for offline calibration analysis and replay.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alphawhale/whalefeed/internal/ranking"
)

const archiveJobType = "snapshot_archive"

// DefaultUploadTimeout bounds a single snapshot upload.
const DefaultUploadTimeout = 30 * time.Second

// ObjectPutter is the slice of the S3 client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// JobMetrics provides centralized background job metrics tracking.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// Config holds configuration for the snapshot archiver.
type Config struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string

	// UploadTimeout bounds each upload; zero uses DefaultUploadTimeout.
	UploadTimeout time.Duration
	Logger        *slog.Logger
	JobMetrics    JobMetrics
}

// Archiver writes published snapshots as JSON objects. Failures are
// logged and counted; they never block or fail a snapshot publish.
type Archiver struct {
	client     ObjectPutter
	bucketName string
	timeout    time.Duration
	logger     *slog.Logger
	jobMetrics JobMetrics
	timeNow    func() time.Time // For testability
}

// NewArchiver creates a snapshot archiver against S3-compatible storage
// (R2 works with path-style addressing and the auto region).
func NewArchiver(cfg Config) (*Archiver, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	client := s3.New(s3.Options{
		Region: "auto",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return newArchiver(client, cfg), nil
}

// newArchiver wires an archiver over an existing client. Split out so
// tests can substitute a fake ObjectPutter.
func newArchiver(client ObjectPutter, cfg Config) *Archiver {
	timeout := cfg.UploadTimeout
	if timeout <= 0 {
		timeout = DefaultUploadTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		client:     client,
		bucketName: cfg.BucketName,
		timeout:    timeout,
		logger:     logger,
		jobMetrics: cfg.JobMetrics,
		timeNow:    time.Now,
	}
}

// ObjectKey returns the storage key for a snapshot generation.
// Pattern: snapshots/{yyyy-mm-dd}/gen-{generation}.json
func ObjectKey(snap *ranking.Snapshot) string {
	return fmt.Sprintf("snapshots/%s/gen-%d.json",
		snap.ComputedAt.UTC().Format("2006-01-02"), snap.Generation)
}

// Archive uploads one snapshot synchronously.
func (a *Archiver) Archive(ctx context.Context, snap *ranking.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	startTime := a.timeNow()

	body, err := json.Marshal(snap)
	if err != nil {
		a.recordFailure("marshal_error", startTime)
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := ObjectKey(snap)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		a.recordFailure("upload_error", startTime)
		return fmt.Errorf("put snapshot object: %w", err)
	}

	duration := time.Since(startTime).Seconds()
	if a.jobMetrics != nil {
		a.jobMetrics.IncJobsTotal(archiveJobType, "success")
		a.jobMetrics.ObserveJobDuration(archiveJobType, duration)
	}
	a.logger.Info("archived rank snapshot",
		"key", key,
		"generation", snap.Generation,
		"bytes", len(body),
		"duration_seconds", duration)
	return nil
}

// NotifyPublished archives a snapshot in the background. Wire it to the
// recompute job's publish hook; upload failures only log.
func (a *Archiver) NotifyPublished(snap *ranking.Snapshot) {
	go func() {
		if err := a.Archive(context.Background(), snap); err != nil {
			a.logger.Error("snapshot archive failed",
				"generation", snap.Generation,
				"error", err)
		}
	}()
}

func (a *Archiver) recordFailure(errorType string, startTime time.Time) {
	if a.jobMetrics == nil {
		return
	}
	a.jobMetrics.IncJobsTotal(archiveJobType, "failure")
	a.jobMetrics.IncJobErrors(archiveJobType, errorType)
	a.jobMetrics.ObserveJobDuration(archiveJobType, time.Since(startTime).Seconds())
}
