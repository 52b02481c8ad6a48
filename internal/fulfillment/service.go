// Package fulfillment consumes order.paid: it mails the receipt once per
// order and closes the order.
package fulfillment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-realtime-checkout/internal/kafka"
	"github.com/ariefcatur/go-realtime-checkout/internal/logx"
	"github.com/ariefcatur/go-realtime-checkout/internal/notify"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/ariefcatur/go-realtime-checkout/internal/redisx"
)

type OrderReader interface {
	Get(ctx context.Context, orderID string) (orders.Order, error)
}

type Completer interface {
	CompleteFulfillment(ctx context.Context, orderID string) error
}

// Dedup remembers side effects that already happened.
type Dedup interface {
	// Claim returns true for the first caller of key.
	Claim(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type Service struct {
	Orders   OrderReader
	Checkout Completer
	Mailer   notify.Mailer
	Store    notify.Store
	Dedup    Dedup
	Log      *slog.Logger
}

// HandleOrderPaid dipasang sebagai handler consumer topic order.paid.
func (s *Service) HandleOrderPaid(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		return err
	}
	if env.EventType != orders.EventOrderPaid {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.OrderPaidPayload](env.Payload)
	if err != nil {
		return err
	}
	ctx = logx.With(ctx, slog.String("order_id", p.OrderID), slog.String("event_id", env.EventID))

	ord, err := s.Orders.Get(ctx, p.OrderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", p.OrderID, err)
	}

	// receipt dikirim sekali per order, walau event di-redeliver
	key := fmt.Sprintf(redisx.KeyDedup, "receipt", p.OrderID)
	first, err := s.Dedup.Claim(ctx, key)
	if err != nil {
		return fmt.Errorf("dedup: %w", err)
	}
	if first {
		if err := s.sendReceipt(ctx, ord); err != nil {
			_ = s.Dedup.Forget(context.WithoutCancel(ctx), key)
			return err
		}
	} else {
		s.Log.InfoContext(ctx, "receipt already sent")
	}

	if err := s.Checkout.CompleteFulfillment(ctx, p.OrderID); err != nil {
		return fmt.Errorf("complete order %s: %w", p.OrderID, err)
	}
	s.Log.InfoContext(ctx, "order fulfilled")
	return nil
}

func (s *Service) sendReceipt(ctx context.Context, ord orders.Order) error {
	r, err := notify.Render(s.Store, ord)
	if err != nil {
		return err
	}
	if err := s.Mailer.Send(ctx, r); err != nil {
		return fmt.Errorf("send receipt: %w", err)
	}
	return nil
}

// RedisDedup claims keys with SETNX so every worker replica sees them.
type RedisDedup struct {
	RDB redis.Cmdable
	TTL time.Duration
}

func (d RedisDedup) Claim(ctx context.Context, key string) (bool, error) {
	ttl := d.TTL
	if ttl <= 0 {
		ttl = redisx.TTLDedup
	}
	return redisx.Once(ctx, d.RDB, key, ttl)
}

func (d RedisDedup) Forget(ctx context.Context, key string) error {
	return d.RDB.Del(ctx, key).Err()
}

type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemoryDedup() *MemoryDedup { return &MemoryDedup{seen: map[string]bool{}} }

func (d *MemoryDedup) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func (d *MemoryDedup) Forget(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}
