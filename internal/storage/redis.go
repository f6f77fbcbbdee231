package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"tracel-engine/internal/model"

	"github.com/redis/go-redis/v9"
)

const defaultRetention = time.Hour

// RedisStore persists classified records in a per-owner sorted set keyed by
// timestamp, trimmed to a retention window on every write.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, retention time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	if retention <= 0 {
		retention = defaultRetention
	}
	return &RedisStore{client: client, retention: retention}, nil
}

func recordKey(owner string) string {
	return "tracel:packets:" + owner
}

// Append adds the record to the owner's time series and drops entries that
// fell out of the retention window.
func (s *RedisStore) Append(ctx context.Context, rec model.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	key := recordKey(rec.OwnerID)
	score := float64(rec.Timestamp.UnixMilli())
	cutoff := float64(time.Now().Add(-s.retention).UnixMilli())

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: string(data)})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatFloat(cutoff, 'f', 0, 64))
	pipe.Expire(ctx, key, s.retention)
	_, err = pipe.Exec(ctx)
	return err
}

// Query reads newest-first from the owner's sorted set. Anomaly and
// source-IP narrowing happen client side, so the scan may walk past the
// limit before collecting enough matches.
func (s *RedisStore) Query(ctx context.Context, f Filter) ([]model.Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	min := "-inf"
	if !f.Since.IsZero() {
		min = strconv.FormatInt(f.Since.UnixMilli(), 10)
	}

	raw, err := s.client.ZRevRangeByScore(ctx, recordKey(f.Owner), &redis.ZRangeBy{
		Min: min,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	result := make([]model.Record, 0, limit)
	for _, member := range raw {
		if len(result) >= limit {
			break
		}

		var rec model.Record
		if err := json.Unmarshal([]byte(member), &rec); err != nil {
			continue
		}
		if f.AnomaliesOnly && !rec.IsAnomaly {
			continue
		}
		if f.SourceIP != "" && rec.SourceIP != f.SourceIP {
			continue
		}
		result = append(result, rec)
	}

	return result, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
