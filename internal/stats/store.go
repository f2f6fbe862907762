// Package stats persists job history and system snapshots in Redis so the
// bot process can report on what the worker did.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wapuda/clipsaver/internal/metrics"
	"github.com/wapuda/clipsaver/internal/video"
)

const (
	keyHistory  = "stats:jobs"
	keySnapshot = "stats:snapshot"
)

// RedisStore keeps the newest records first, capped at max entries.
type RedisStore struct {
	rdb redis.Cmdable
	max int64
}

func NewRedisStore(rdb redis.Cmdable, max int) *RedisStore {
	if max <= 0 {
		max = 1000
	}
	return &RedisStore{rdb: rdb, max: int64(max)}
}

// Record implements tracker.Sink.
func (s *RedisStore) Record(ctx context.Context, rec video.JobRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, keyHistory, b)
	pipe.LTrim(ctx, keyHistory, 0, s.max-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store job %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns up to n records, newest first. n <= 0 means all kept.
func (s *RedisStore) Recent(ctx context.Context, n int) ([]video.JobRecord, error) {
	stop := int64(-1)
	if n > 0 {
		stop = int64(n) - 1
	}
	raw, err := s.rdb.LRange(ctx, keyHistory, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]video.JobRecord, 0, len(raw))
	for _, r := range raw {
		var rec video.JobRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) SaveSnapshot(ctx context.Context, snap metrics.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, keySnapshot, b, 0).Err()
}

// LatestSnapshot reports false when the worker has not written one yet.
func (s *RedisStore) LatestSnapshot(ctx context.Context) (metrics.Snapshot, bool, error) {
	b, err := s.rdb.Get(ctx, keySnapshot).Bytes()
	if errors.Is(err, redis.Nil) {
		return metrics.Snapshot{}, false, nil
	}
	if err != nil {
		return metrics.Snapshot{}, false, err
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return metrics.Snapshot{}, false, err
	}
	return snap, true, nil
}
