// Package ratelimit guards the gateway against bursts from a single user,
// independently of the monthly tier quotas.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter is a thin wrapper around github.com/vnmchuo/ratelimiter keyed by
// user id.
type Limiter struct {
	store extratelimit.Limiter
}

// NewLimiter allows each user tokensPerMinute estimated tokens per sliding
// minute.
func NewLimiter(rdb *redis.Client, tokensPerMinute int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(tokensPerMinute)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store}
}

// New wraps an existing limiter store.
func New(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func key(userID string) string {
	return fmt.Sprintf("ratelimit:user:%s", userID)
}

// Allow spends tokens from the user's budget. Requests costing nothing are
// charged one token.
func (l *Limiter) Allow(ctx context.Context, userID string, tokens int) (bool, error) {
	if tokens < 1 {
		tokens = 1
	}
	res, err := l.store.AllowN(ctx, key(userID), tokens)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, userID string) (*extratelimit.Result, error) {
	return l.store.Status(ctx, key(userID))
}
