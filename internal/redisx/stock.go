package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StockCache memoizes derived flash sale availability for a short TTL so
// countdown polling does not hit the database on every tick. It is never
// consulted by a write path.
type StockCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStockCache(rdb redis.Cmdable, ttl time.Duration) *StockCache {
	return &StockCache{rdb: rdb, ttl: ttl}
}

func (c *StockCache) Get(ctx context.Context, flashSaleID string) (int, bool, error) {
	n, err := c.rdb.Get(ctx, fmt.Sprintf(KeyFlashSaleStock, flashSaleID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (c *StockCache) Set(ctx context.Context, flashSaleID string, available int) error {
	return c.rdb.Set(ctx, fmt.Sprintf(KeyFlashSaleStock, flashSaleID), available, c.ttl).Err()
}

func (c *StockCache) Invalidate(ctx context.Context, flashSaleIDs ...string) error {
	if len(flashSaleIDs) == 0 {
		return nil
	}
	keys := make([]string, len(flashSaleIDs))
	for i, id := range flashSaleIDs {
		keys[i] = fmt.Sprintf(KeyFlashSaleStock, id)
	}
	return c.rdb.Del(ctx, keys...).Err()
}
