package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/punchamoorthee/fundsgate/internal/domain"
	"github.com/punchamoorthee/fundsgate/internal/store"
)

const redisKeyPrefix = "fundsgate:bucket:"

// RedisBucketStore keeps bucket state in Redis hashes and uses WATCH/MULTI
// for the version check. Writes are not part of the ledger transaction.
type RedisBucketStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisBucketStore expires idle buckets after ttl. A bucket that has been
// idle for capacity/leak seconds is empty anyway.
func NewRedisBucketStore(rdb *redis.Client, ttl time.Duration) *RedisBucketStore {
	return &RedisBucketStore{rdb: rdb, ttl: ttl}
}

// IdleTTL is the time after which a bucket of opts has fully drained.
func IdleTTL(opts Options) time.Duration {
	secs := float64(opts.Capacity) / opts.LeakPerSecond
	return time.Duration(secs*float64(time.Second)) + time.Minute
}

func redisKey(subject string) string {
	return redisKeyPrefix + subject
}

func (s *RedisBucketStore) GetBucket(ctx context.Context, subject string) (*domain.BucketState, error) {
	return readBucket(ctx, s.rdb, subject)
}

func readBucket(ctx context.Context, c redis.Cmdable, subject string) (*domain.BucketState, error) {
	fields, err := c.HGetAll(ctx, redisKey(subject)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	level, err := strconv.ParseFloat(fields["level"], 64)
	if err != nil {
		return nil, err
	}
	lastLeak, err := strconv.ParseInt(fields["last_leak_ms"], 10, 64)
	if err != nil {
		return nil, err
	}
	updated, err := strconv.ParseInt(fields["updated_ms"], 10, 64)
	if err != nil {
		return nil, err
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, err
	}
	return &domain.BucketState{
		Subject:    subject,
		WaterLevel: level,
		LastLeakAt: time.UnixMilli(lastLeak).UTC(),
		UpdatedAt:  time.UnixMilli(updated).UTC(),
		Version:    version,
	}, nil
}

func (s *RedisBucketStore) InsertBucket(ctx context.Context, b *domain.BucketState) error {
	key := redisKey(b.Subject)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrDuplicate
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			writeBucket(ctx, p, key, b, 0, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return store.ErrDuplicate
	}
	if err != nil {
		return err
	}
	b.Version = 0
	return nil
}

func (s *RedisBucketStore) UpdateBucket(ctx context.Context, b *domain.BucketState) error {
	key := redisKey(b.Subject)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "version").Int64()
		if errors.Is(err, redis.Nil) {
			return store.ErrVersionConflict
		}
		if err != nil {
			return err
		}
		if current != b.Version {
			return store.ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			writeBucket(ctx, p, key, b, b.Version+1, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return store.ErrVersionConflict
	}
	if err != nil {
		return err
	}
	b.Version++
	return nil
}

func writeBucket(ctx context.Context, p redis.Pipeliner, key string, b *domain.BucketState, version int64, ttl time.Duration) {
	p.HSet(ctx, key,
		"level", strconv.FormatFloat(b.WaterLevel, 'f', -1, 64),
		"last_leak_ms", b.LastLeakAt.UnixMilli(),
		"updated_ms", b.UpdatedAt.UnixMilli(),
		"version", version,
	)
	if ttl > 0 {
		p.PExpire(ctx, key, ttl)
	}
}
