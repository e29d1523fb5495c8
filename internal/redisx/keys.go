package redisx

import "time"

const (
	// Idempotent create: idem:order:create:{external_id} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Status cache: order_status:{order_id} -> {"order_id": "...", "status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Event dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	// Terminal statuses never change, so their cache entries may live
	// much longer.
	TTLStatusTerminal = 24 * time.Hour
	TTLDedup          = 48 * time.Hour
)
