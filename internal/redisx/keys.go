package redisx

import "time"

const (
	// Per-order payment initiation guard: idem:payment:init:{order_id} -> key value
	KeyIdemPaymentInit = "idem:payment:init:%s"

	// Gateway checkout URL stash: payment:checkout:{txn_id} -> url
	KeyCheckoutURL = "payment:checkout:%s"

	// Cache of order status for the read path: order_status:{order_id} -> json
	KeyOrderStatus = "order_status:%s"

	// Webhook delivery dedup: dedup:{scope}:{id} (id = txn_id:status)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
