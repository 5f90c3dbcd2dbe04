package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"credrep/internal/ratelimit/models"
)

const keyPrefix = "credrep:ratelimit:"

// RedisBucketStore shares sliding windows across instances with one sorted
// set per key, scored by request time in microseconds.
type RedisBucketStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisBucketStore(client redis.UniversalClient) *RedisBucketStore {
	return &RedisBucketStore{client: client, now: time.Now}
}

// Allow trims the window, counts it and adds the request in one transaction.
// A rejected request is removed again so it does not consume budget.
func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	now := s.now()
	rkey := keyPrefix + key
	member := uuid.NewString()
	score := float64(now.UnixMicro())
	cutoff := strconv.FormatInt(now.Add(-window).UnixMicro(), 10)

	var (
		count  *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, rkey, "-inf", cutoff)
		p.ZAdd(ctx, rkey, redis.Z{Score: score, Member: member})
		count = p.ZCard(ctx, rkey)
		oldest = p.ZRangeWithScores(ctx, rkey, 0, 0)
		p.PExpire(ctx, rkey, window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit window %s: %w", key, err)
	}

	resetAt := now.Add(window)
	if zs := oldest.Val(); len(zs) > 0 {
		resetAt = time.UnixMicro(int64(zs[0].Score)).Add(window)
	}
	n := int(count.Val())
	if n <= limit {
		return &models.RateLimitResult{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - n,
			ResetAt:   resetAt,
		}, nil
	}
	if err := s.client.ZRem(ctx, rkey, member).Err(); err != nil {
		return nil, fmt.Errorf("rate limit rollback %s: %w", key, err)
	}
	return &models.RateLimitResult{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter(now, resetAt),
	}, nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}
