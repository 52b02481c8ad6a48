package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/ariefcatur/go-realtime-checkout/internal/redisx"
	"github.com/ariefcatur/go-realtime-checkout/internal/shipping"
)

// Session is a checkout before it has an order: priced lines, destination
// and the shipping quote. Its id becomes the order id.
type Session struct {
	ID            string                `json:"id"`
	OwnerID       string                `json:"owner_id"`
	Status        orders.Status         `json:"status"`
	Items         []orders.LineItem     `json:"items"`
	SubtotalCents int64                 `json:"subtotal_cents"`
	Destination   shipping.Address      `json:"destination"`
	Options       []shipping.Option     `json:"shipping_options"`
	Selected      shipping.Option       `json:"selected_shipping"`
	History       []orders.StatusChange `json:"history"`
	CreatedAt     time.Time             `json:"created_at"`
	ExpiresAt     time.Time             `json:"expires_at"`
	OrderCreated  bool                  `json:"order_created"`
	Replayed      bool                  `json:"replayed,omitempty"` // hanya di response, tidak disimpan true
}

func (s Session) TotalCents() int64 { return s.SubtotalCents + s.Selected.CostCents }

type SessionStore interface {
	Save(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	// ClaimKey binds an idempotency key to checkoutID. When the key is
	// already bound it returns the existing id and false.
	ClaimKey(ctx context.Context, owner, key, checkoutID string) (string, bool, error)
	ReleaseKey(ctx context.Context, owner, key string) error
}

type MemorySessionStore struct {
	mu       sync.Mutex
	Now      func() time.Time
	sessions map[string]Session
	keys     map[string]string
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{Now: time.Now, sessions: map[string]Session{}, keys: map[string]string{}}
}

func (m *MemorySessionStore) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrCheckoutNotFound
	}
	if !s.ExpiresAt.IsZero() && m.Now().After(s.ExpiresAt) {
		delete(m.sessions, id)
		return Session{}, ErrCheckoutNotFound
	}
	return s, nil
}

func (m *MemorySessionStore) ClaimKey(_ context.Context, owner, key, checkoutID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := owner + ":" + key
	if id, ok := m.keys[k]; ok {
		return id, false, nil
	}
	m.keys[k] = checkoutID
	return checkoutID, true, nil
}

func (m *MemorySessionStore) ReleaseKey(_ context.Context, owner, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, owner+":"+key)
	return nil
}

// RedisSessionStore keeps sessions as JSON with the session TTL.
type RedisSessionStore struct {
	RDB *redis.Client
	TTL time.Duration
}

func (r *RedisSessionStore) Save(ctx context.Context, s Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.RDB.Set(ctx, fmt.Sprintf(redisx.KeyCheckoutSession, s.ID), b, r.TTL).Err()
}

func (r *RedisSessionStore) Get(ctx context.Context, id string) (Session, error) {
	b, err := r.RDB.Get(ctx, fmt.Sprintf(redisx.KeyCheckoutSession, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrCheckoutNotFound
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return s, nil
}

func (r *RedisSessionStore) ClaimKey(ctx context.Context, owner, key, checkoutID string) (string, bool, error) {
	k := fmt.Sprintf(redisx.KeyIdemCheckout, owner, key)
	ok, err := r.RDB.SetNX(ctx, k, checkoutID, redisx.TTLIdempotency).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return checkoutID, true, nil
	}
	id, err := r.RDB.Get(ctx, k).Result()
	if err != nil {
		return "", false, err
	}
	return id, false, nil
}

func (r *RedisSessionStore) ReleaseKey(ctx context.Context, owner, key string) error {
	return r.RDB.Del(ctx, fmt.Sprintf(redisx.KeyIdemCheckout, owner, key)).Err()
}
