package redisx

import "time"

const (
	// Settlement idempotency: idem:order:settle:{idempotency_key} -> order_id
	KeyIdemOrderSettle = "idem:order:settle:%s"

	// Derived flash sale availability: stock:flashsale:{flash_sale_id} -> int
	KeyFlashSaleStock = "stock:flashsale:%s"

	// Dedup consumed events: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Leader lock for periodic jobs: lock:{job}
	KeyLock = "lock:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)
