package cart

import (
	"context"
	"time"
)

// Store loads and atomically rewrites one owner's cart.
type Store interface {
	Get(ctx context.Context, owner string) (*Cart, error)
	// Update runs fn on the current cart and saves the result. fn may be
	// called more than once when a concurrent writer wins.
	Update(ctx context.Context, owner string, fn func(*Cart) error) (*Cart, error)
	Delete(ctx context.Context, owner string) error
}

type Service struct {
	Store Store
	Now   func() time.Time
}

func NewService(s Store) *Service {
	return &Service{Store: s, Now: time.Now}
}

func (s *Service) AddItem(ctx context.Context, owner, productID, size, color string, qty int) (*Cart, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	k := LineKey{ProductID: productID, Size: size, Color: color}
	return s.mutate(ctx, owner, func(c *Cart) error { return c.add(k, qty) })
}

// UpdateQuantity sets the quantity of a line; zero removes it.
func (s *Service) UpdateQuantity(ctx context.Context, owner string, k LineKey, qty int) (*Cart, error) {
	if qty < 0 {
		return nil, ErrInvalidQuantity
	}
	return s.mutate(ctx, owner, func(c *Cart) error { return c.set(k, qty) })
}

func (s *Service) RemoveItem(ctx context.Context, owner string, k LineKey) (*Cart, error) {
	return s.mutate(ctx, owner, func(c *Cart) error { return c.remove(k) })
}

func (s *Service) Snapshot(ctx context.Context, owner string) (*Cart, error) {
	return s.Store.Get(ctx, owner)
}

func (s *Service) Clear(ctx context.Context, owner string) error {
	return s.Store.Delete(ctx, owner)
}

func (s *Service) mutate(ctx context.Context, owner string, fn func(*Cart) error) (*Cart, error) {
	return s.Store.Update(ctx, owner, func(c *Cart) error {
		if err := fn(c); err != nil {
			return err
		}
		c.UpdatedAt = s.Now().UTC()
		return nil
	})
}
