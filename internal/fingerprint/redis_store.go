package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of *redis.Client used here.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// RedisStore keeps fingerprints in Redis. A ttl of zero keeps them forever;
// otherwise an entry expires ttl after it was last written.
type RedisStore struct {
	rdb redisClient
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func redisKey(userID, hash string) string {
	return fmt.Sprintf("fingerprint:%s:%s", userID, hash)
}

func (s *RedisStore) Get(ctx context.Context, userID, hash string) (*Record, error) {
	var rec Record
	err := s.rdb.Get(ctx, redisKey(userID, hash)).Scan(&rec)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get fingerprint: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	key := redisKey(rec.UserID, rec.Hash)

	created, err := s.rdb.SetNX(ctx, key, rec, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to put fingerprint: %w", err)
	}
	if created {
		return nil
	}

	cp := *rec
	if existing, err := s.Get(ctx, rec.UserID, rec.Hash); err == nil {
		cp.FirstSeenAt = existing.FirstSeenAt
	}
	if err := s.rdb.Set(ctx, key, &cp, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to update fingerprint: %w", err)
	}
	return nil
}
