package redisx

import "time"

const (
	// Dedup of payment notifications: dedup:{scope}:{handle}:{status}
	KeyDedup = "dedup:%s:%s"

	// Cache of terminal order status: order_status:{order_reference} -> approved|released
	KeyOrderStatus = "order_status:%s"
)

var (
	TTLDedup       = 48 * time.Hour
	TTLStatusCache = 48 * time.Hour
)
