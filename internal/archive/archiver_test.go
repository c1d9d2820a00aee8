package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alphawhale/whalefeed/internal/opportunity"
	"github.com/alphawhale/whalefeed/internal/ranking"
)

type fakePutter struct {
	mu     sync.Mutex
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, params)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func archiveTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSnapshot(t *testing.T) *ranking.Snapshot {
	t.Helper()

	computedAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	store := ranking.NewStore(ranking.DefaultRetainGenerations)
	return store.Publish([]ranking.Item{
		{Opportunity: opportunity.Opportunity{ID: "op-1"}, Score: 0.9},
		{Opportunity: opportunity.Opportunity{ID: "op-2"}, Score: 0.5},
	}, computedAt)
}

func TestNewArchiver_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing bucket", Config{AccessKeyID: "k", SecretAccessKey: "s", Endpoint: "https://r2.example.com"}},
		{"missing access key", Config{BucketName: "b", SecretAccessKey: "s", Endpoint: "https://r2.example.com"}},
		{"missing secret", Config{BucketName: "b", AccessKeyID: "k", Endpoint: "https://r2.example.com"}},
		{"missing endpoint", Config{BucketName: "b", AccessKeyID: "k", SecretAccessKey: "s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewArchiver(tt.cfg); err == nil {
				t.Error("expected config validation error")
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	snap := testSnapshot(t)

	key := ObjectKey(snap)
	want := "snapshots/2026-03-14/gen-1.json"
	if key != want {
		t.Errorf("ObjectKey() = %s, want %s", key, want)
	}
}

func TestArchive_UploadsSnapshotJSON(t *testing.T) {
	putter := &fakePutter{}
	a := newArchiver(putter, Config{BucketName: "feed-archive", Logger: archiveTestLogger()})

	snap := testSnapshot(t)
	if err := a.Archive(context.Background(), snap); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	putter.mu.Lock()
	defer putter.mu.Unlock()
	if len(putter.inputs) != 1 {
		t.Fatalf("PutObject calls = %d, want 1", len(putter.inputs))
	}

	input := putter.inputs[0]
	if *input.Bucket != "feed-archive" {
		t.Errorf("Bucket = %s, want feed-archive", *input.Bucket)
	}
	if *input.Key != ObjectKey(snap) {
		t.Errorf("Key = %s, want %s", *input.Key, ObjectKey(snap))
	}
	if *input.ContentType != "application/json" {
		t.Errorf("ContentType = %s, want application/json", *input.ContentType)
	}

	var decoded ranking.Snapshot
	if err := json.Unmarshal(putter.bodies[0], &decoded); err != nil {
		t.Fatalf("uploaded body is not valid snapshot JSON: %v", err)
	}
	if decoded.Generation != snap.Generation {
		t.Errorf("Generation = %d, want %d", decoded.Generation, snap.Generation)
	}
	if len(decoded.Items) != 2 {
		t.Errorf("Items = %d, want 2", len(decoded.Items))
	}
}

func TestArchive_UploadError(t *testing.T) {
	putter := &fakePutter{err: errors.New("access denied")}
	a := newArchiver(putter, Config{BucketName: "feed-archive", Logger: archiveTestLogger()})

	if err := a.Archive(context.Background(), testSnapshot(t)); err == nil {
		t.Fatal("expected upload error to propagate")
	}
}

func TestNotifyPublished_DoesNotBlock(t *testing.T) {
	putter := &fakePutter{}
	a := newArchiver(putter, Config{BucketName: "feed-archive", Logger: archiveTestLogger()})

	snap := testSnapshot(t)
	a.NotifyPublished(snap)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		putter.mu.Lock()
		n := len(putter.inputs)
		putter.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for background archive")
}
