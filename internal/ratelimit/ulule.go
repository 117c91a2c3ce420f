package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// StoreLimiter adapts a ulule limiter store to the Allower interface. The
// per-call window and max override the store defaults, so one store serves
// every configured endpoint.
type StoreLimiter struct {
	Store limiter.Store
}

// NewStore wires a rate limiter store backed by Redis.
func NewStore(rdb *redis.Client) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{
		Prefix: "ratelimit",
	})
}

// Allow consumes one unit for the key and reports whether it stayed within
// the limit.
func (s StoreLimiter) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if s.Store == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	rate := limiter.Rate{Period: window, Limit: int64(max)}
	lim := limiter.New(s.Store, rate)
	lctx, err := lim.Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	reset := time.Unix(lctx.Reset, 0)
	return !lctx.Reached, int(lctx.Remaining), reset, nil
}
