package redisx

import "time"

const (
	// Fast-path replay of a completed POST /orders: idem:order:place:{key} -> response JSON.
	// The durable ledger stays the source of truth; this only short-circuits the hot path.
	KeyIdemPlaceOrder = "idem:order:place:%s"

	// Cache of GET /orders/{id}: order_status:{order_id} -> {"order_id":"...","status":"..."}
	KeyOrderStatus = "order_status:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
)
