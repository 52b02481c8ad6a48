package orders

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu        sync.RWMutex
	orders    map[string]*Order
	byRef     map[string]string // transaction ref -> order id
	conflicts []Conflict
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: map[string]*Order{}, byRef: map[string]string{}}
}

func (s *MemoryStore) Create(_ context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return ErrAlreadyExists
	}
	c := clone(o)
	if n := len(c.History); n > 0 {
		c.Status = c.History[n-1].Status
	}
	s.orders[o.ID] = &c
	for _, a := range c.Attempts {
		if a.TransactionRef != "" {
			s.byRef[a.TransactionRef] = o.ID
		}
	}
	return nil
}

func (s *MemoryStore) AppendStatus(_ context.Context, orderID string, ch StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if err := checkTransition(o.Status, ch.Status); err != nil {
		return err
	}
	o.Status = ch.Status
	o.History = append(o.History, ch)
	o.UpdatedAt = ch.At
	return nil
}

func (s *MemoryStore) Get(_ context.Context, orderID string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return clone(*o), nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Order
	for _, o := range s.orders {
		if o.OwnerID == ownerID {
			out = append(out, clone(*o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SavePaymentAttempt(_ context.Context, a PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[a.OrderID]
	if !ok {
		return ErrNotFound
	}
	if a.TransactionRef != "" {
		s.byRef[a.TransactionRef] = a.OrderID
	}
	for i := range o.Attempts {
		if o.Attempts[i].ID == a.ID {
			o.Attempts[i] = a
			return nil
		}
	}
	o.Attempts = append(o.Attempts, a)
	return nil
}

func (s *MemoryStore) FindByTransactionRef(ctx context.Context, ref string) (Order, error) {
	s.mu.RLock()
	id, ok := s.byRef[ref]
	s.mu.RUnlock()
	if !ok {
		return Order{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, updatedBefore time.Time, limit int) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Order
	for _, o := range s.orders {
		if o.Status == status && !o.UpdatedAt.After(updatedBefore) {
			out = append(out, clone(*o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateReservation(_ context.Context, orderID, reservationID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.ReservationID = reservationID
	o.ReservationExpiresAt = expiresAt
	return nil
}

func (s *MemoryStore) RecordConflict(_ context.Context, c Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[c.OrderID]
	if !ok {
		return ErrNotFound
	}
	o.NeedsReconciliation = true
	for _, x := range s.conflicts {
		if x.OrderID == c.OrderID && x.TransactionRef == c.TransactionRef {
			return nil
		}
	}
	s.conflicts = append(s.conflicts, c)
	return nil
}

func (s *MemoryStore) ListConflicts(_ context.Context) ([]Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Conflict(nil), s.conflicts...), nil
}

func clone(o Order) Order {
	o.Items = append([]LineItem(nil), o.Items...)
	o.History = append([]StatusChange(nil), o.History...)
	o.Attempts = append([]PaymentAttempt(nil), o.Attempts...)
	return o
}
