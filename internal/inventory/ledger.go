// Package inventory is the pricing and stock ledger: the authoritative view of
// variant prices and available quantity, with time-bounded reservations.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("variant not found")
	ErrReservationExpired = errors.New("reservation expired")
	ErrInvalidVariant     = errors.New("invalid variant")
)

// InsufficientStockError names the first variant that could not be held.
type InsufficientStockError struct {
	VariantID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %s: requested %d, available %d", e.VariantID, e.Requested, e.Available)
}

type Variant struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	Size        string `json:"size,omitempty"`
	Color       string `json:"color,omitempty"`
	PriceCents  int64  `json:"price_cents"`
	PromoCents  *int64 `json:"promo_cents,omitempty"`
	Stock       int    `json:"stock"`
	Available   int    `json:"available"` // stock - hold aktif
	WeightGrams int    `json:"weight_grams"`
}

// EffectivePrice returns the promotional price when it is set and lower than
// the base price.
func (v Variant) EffectivePrice() int64 {
	if v.PromoCents != nil && *v.PromoCents > 0 && *v.PromoCents < v.PriceCents {
		return *v.PromoCents
	}
	return v.PriceCents
}

func (v Variant) Validate() error {
	switch {
	case v.ID == "" || v.ProductID == "":
		return fmt.Errorf("%w: id and product id are required", ErrInvalidVariant)
	case v.PriceCents <= 0:
		return fmt.Errorf("%w: price must be positive", ErrInvalidVariant)
	case v.PromoCents != nil && *v.PromoCents > v.PriceCents:
		return fmt.Errorf("%w: promotional price above base price", ErrInvalidVariant)
	case v.Stock < 0:
		return fmt.Errorf("%w: negative stock", ErrInvalidVariant)
	}
	return nil
}

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationCommitted ReservationStatus = "COMMITTED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

type ItemQty struct {
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
}

type Reservation struct {
	ID        string            `json:"id"`
	Items     []ItemQty         `json:"items"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Ledger is implemented by MemoryLedger and the Postgres Repo.
type Ledger interface {
	GetVariant(ctx context.Context, productID, size, color string) (Variant, error)
	ListVariants(ctx context.Context) ([]Variant, error)
	UpsertVariant(ctx context.Context, v Variant) error
	// Reserve holds every item or none of them.
	Reserve(ctx context.Context, items []ItemQty) (Reservation, error)
	// Release is a no-op for reservations that are no longer active.
	Release(ctx context.Context, reservationID string) error
	Commit(ctx context.Context, reservationID string) error
	SweepExpired(ctx context.Context) (int, error)
}

// merge menjumlahkan qty untuk variant yang sama dan menolak qty <= 0.
func mergeItems(items []ItemQty) ([]ItemQty, error) {
	idx := map[string]int{}
	out := make([]ItemQty, 0, len(items))
	for _, it := range items {
		if it.Qty <= 0 {
			return nil, fmt.Errorf("invalid qty %d for variant %s", it.Qty, it.VariantID)
		}
		if i, ok := idx[it.VariantID]; ok {
			out[i].Qty += it.Qty
			continue
		}
		idx[it.VariantID] = len(out)
		out = append(out, it)
	}
	if len(out) == 0 {
		return nil, errors.New("empty reservation")
	}
	return out, nil
}
