package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key layout: one hash per opportunity with impression/click fields.
const (
	redisKeyPrefix   = "telemetry:opp:"
	fieldImpressions = "impressions"
	fieldClicks      = "clicks"

	// counterTTL bounds unattended growth; trending is a rolling signal,
	// so counters older than this are worthless anyway.
	counterTTL = 14 * 24 * time.Hour
)

// RedisStore is a Store backed by Redis hashes, shared across API
// replicas. Reads fail open to a zero Signal so a Redis outage degrades
// relevance to cold-start instead of failing rank recomputation.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Store over an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(opportunityID string) string {
	return redisKeyPrefix + opportunityID
}

// Record adds one event for an opportunity.
func (s *RedisStore) Record(ctx context.Context, opportunityID, kind string) error {
	var field string
	switch kind {
	case KindImpression:
		field = fieldImpressions
	case KindClick:
		field = fieldClicks
	default:
		return ErrUnknownKind
	}

	key := redisKey(opportunityID)
	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, key, field, 1)
	pipe.Expire(ctx, key, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record telemetry event: %w", err)
	}
	return nil
}

// Signal returns the aggregate counters for one opportunity.
func (s *RedisStore) Signal(ctx context.Context, opportunityID string) (Signal, error) {
	vals, err := s.client.HGetAll(ctx, redisKey(opportunityID)).Result()
	if err != nil {
		return Signal{}, fmt.Errorf("read telemetry counters: %w", err)
	}
	return signalFromHash(vals), nil
}

// Signals batch-reads counters for many opportunities with one pipeline.
func (s *RedisStore) Signals(ctx context.Context, opportunityIDs []string) (map[string]Signal, error) {
	if len(opportunityIDs) == 0 {
		return map[string]Signal{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(opportunityIDs))
	for i, id := range opportunityIDs {
		cmds[i] = pipe.HGetAll(ctx, redisKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read telemetry counters: %w", err)
	}

	out := make(map[string]Signal, len(opportunityIDs))
	for i, id := range opportunityIDs {
		vals, err := cmds[i].Result()
		if err != nil {
			continue
		}
		if sig := signalFromHash(vals); sig.Impressions > 0 || sig.Clicks > 0 {
			out[id] = sig
		}
	}
	return out, nil
}

func signalFromHash(vals map[string]string) Signal {
	var sig Signal
	if v, ok := vals[fieldImpressions]; ok {
		sig.Impressions, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := vals[fieldClicks]; ok {
		sig.Clicks, _ = strconv.ParseInt(v, 10, 64)
	}
	sig.CTR = ctr(sig.Impressions, sig.Clicks)
	return sig
}
