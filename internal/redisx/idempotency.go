package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Idempotency maps a client idempotency key to the order it produced. The
// database unique constraint on orders.external_id stays authoritative; this
// is a shortcut that skips opening a transaction on replays.
type Idempotency struct {
	rdb redis.Cmdable
}

func NewIdempotency(rdb redis.Cmdable) *Idempotency { return &Idempotency{rdb: rdb} }

func (i *Idempotency) Lookup(ctx context.Context, key string) (string, bool, error) {
	id, err := i.rdb.Get(ctx, fmt.Sprintf(KeyIdemOrderSettle, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (i *Idempotency) Remember(ctx context.Context, key, orderID string) error {
	return i.rdb.SetNX(ctx, fmt.Sprintf(KeyIdemOrderSettle, key), orderID, TTLIdempotency).Err()
}

// FirstSeen marks an event id as processed for service and reports whether
// this call was the first to do so.
func (i *Idempotency) FirstSeen(ctx context.Context, service, eventID string) (bool, error) {
	return i.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, eventID), 1, TTLDedup).Result()
}

// Forget clears a FirstSeen mark so a redelivered event is processed again.
func (i *Idempotency) Forget(ctx context.Context, service, eventID string) error {
	return i.rdb.Del(ctx, fmt.Sprintf(KeyDedup, service, eventID)).Err()
}
