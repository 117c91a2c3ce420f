package promo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const activeSnapshotKey = "promo:active"

// Cache holds a short-lived JSON snapshot of the active promotion set so the
// applicability scan does not hit Postgres on every cart preview. Per-user
// ledger counts are never cached; they are attached fresh on each scan.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper. A nil client degrades to a no-op so the
// service keeps working without Redis.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetActive returns the cached snapshot. It reports whether the key existed.
func (c *Cache) GetActive(ctx context.Context) ([]*Promotion, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	data, err := c.client.Get(ctx, activeSnapshotKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	var out []*Promotion
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// SetActive stores the snapshot with the configured TTL.
func (c *Cache) SetActive(ctx context.Context, promotions []*Promotion) error {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := json.Marshal(promotions)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, activeSnapshotKey, data, c.ttl).Err()
}

// Invalidate drops the snapshot. Called after every admin write and every
// settlement so the next scan sees fresh definitions and counters.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, activeSnapshotKey).Err()
}
