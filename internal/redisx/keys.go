package redisx

import "time"

const (
	// Cart per owner: cart:{owner_id} -> JSON document
	KeyCart = "cart:%s"

	// Checkout session sebelum jadi order: checkout:{checkout_id} -> JSON
	KeyCheckoutSession = "checkout:%s"

	// Idempotency start checkout: idem:checkout:{owner_id}:{idempotency_key} -> checkout_id
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event_id atau order_id:phase)
	KeyDedup = "dedup:%s:%s"

	// Lock per order: lock:order:{order_id} -> token
	KeyOrderLock = "lock:order:%s"
)

var (
	TTLCart        = 30 * 24 * time.Hour
	TTLIdempotency = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)
