package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type variantKey struct{ productID, size, color string }

// MemoryLedger keeps the whole ledger behind one mutex, which makes every
// Reserve trivially atomic across variants.
type MemoryLedger struct {
	Now func() time.Time

	mu           sync.Mutex
	ttl          time.Duration
	variants     map[string]*Variant
	byKey        map[variantKey]string
	reservations map[string]*Reservation
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		Now:          time.Now,
		ttl:          ttl,
		variants:     map[string]*Variant{},
		byKey:        map[variantKey]string{},
		reservations: map[string]*Reservation{},
	}
}

func (l *MemoryLedger) UpsertVariant(_ context.Context, v Variant) error {
	if err := v.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if old, ok := l.variants[v.ID]; ok {
		delete(l.byKey, variantKey{old.ProductID, old.Size, old.Color})
	}
	cp := v
	cp.Available = 0
	l.variants[v.ID] = &cp
	l.byKey[variantKey{v.ProductID, v.Size, v.Color}] = v.ID
	return nil
}

func (l *MemoryLedger) GetVariant(_ context.Context, productID, size, color string) (Variant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := l.byKey[variantKey{productID, size, color}]
	if !ok {
		return Variant{}, fmt.Errorf("%w: product=%s size=%s color=%s", ErrNotFound, productID, size, color)
	}
	holds, _ := l.activeHoldsLocked()
	v := *l.variants[id]
	v.Available = v.Stock - holds[id]
	return v, nil
}

func (l *MemoryLedger) ListVariants(_ context.Context) ([]Variant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	holds, _ := l.activeHoldsLocked()
	out := make([]Variant, 0, len(l.variants))
	for _, v := range l.variants {
		cp := *v
		cp.Available = cp.Stock - holds[cp.ID]
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *MemoryLedger) Reserve(_ context.Context, items []ItemQty) (Reservation, error) {
	merged, err := mergeItems(items)
	if err != nil {
		return Reservation{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	holds, _ := l.activeHoldsLocked()
	// cek semua dulu, baru tulis: tidak ada hold parsial
	for _, it := range merged {
		v, ok := l.variants[it.VariantID]
		if !ok {
			return Reservation{}, fmt.Errorf("%w: %s", ErrNotFound, it.VariantID)
		}
		if avail := v.Stock - holds[it.VariantID]; avail < it.Qty {
			return Reservation{}, &InsufficientStockError{VariantID: it.VariantID, Requested: it.Qty, Available: avail}
		}
	}

	now := l.Now()
	res := &Reservation{
		ID:        uuid.NewString(),
		Items:     merged,
		Status:    ReservationActive,
		CreatedAt: now,
		ExpiresAt: now.Add(l.ttl),
	}
	l.reservations[res.ID] = res
	return *res, nil
}

func (l *MemoryLedger) Release(_ context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if res, ok := l.reservations[reservationID]; ok && res.Status == ReservationActive {
		res.Status = ReservationReleased
	}
	return nil
}

func (l *MemoryLedger) Commit(_ context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[reservationID]
	if !ok {
		return fmt.Errorf("%w: reservation %s", ErrNotFound, reservationID)
	}
	switch res.Status {
	case ReservationCommitted:
		return nil
	case ReservationReleased, ReservationExpired:
		return ErrReservationExpired
	}
	if !l.Now().Before(res.ExpiresAt) {
		res.Status = ReservationExpired
		return ErrReservationExpired
	}
	for _, it := range res.Items {
		l.variants[it.VariantID].Stock -= it.Qty
	}
	res.Status = ReservationCommitted
	return nil
}

func (l *MemoryLedger) SweepExpired(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, expired := l.activeHoldsLocked()
	return expired, nil
}

// Reservation returns a copy of a reservation, mainly for inspection.
func (l *MemoryLedger) Reservation(id string) (Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.reservations[id]
	if !ok {
		return Reservation{}, false
	}
	return *r, true
}

// activeHoldsLocked menandai reservation kadaluarsa (lazy) dan menghitung
// qty yang masih ditahan per variant.
func (l *MemoryLedger) activeHoldsLocked() (map[string]int, int) {
	now := l.Now()
	holds := map[string]int{}
	expired := 0
	for _, r := range l.reservations {
		if r.Status != ReservationActive {
			continue
		}
		if !now.Before(r.ExpiresAt) {
			r.Status = ReservationExpired
			expired++
			continue
		}
		for _, it := range r.Items {
			holds[it.VariantID] += it.Qty
		}
	}
	return holds, expired
}
