package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-realtime-checkout/internal/redisx"
)

type MemoryStore struct {
	mu    sync.Mutex
	carts map[string]*Cart
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: map[string]*Cart{}}
}

func (s *MemoryStore) Get(_ context.Context, owner string) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.carts[owner]; ok {
		return c.clone(), nil
	}
	return newCart(owner), nil
}

func (s *MemoryStore) Update(_ context.Context, owner string, fn func(*Cart) error) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := newCart(owner)
	if cur, ok := s.carts[owner]; ok {
		c = cur.clone()
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	s.carts[owner] = c
	return c.clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, owner)
	return nil
}

// RedisStore keeps one JSON document per owner and updates it with
// WATCH/MULTI so concurrent tabs don't lose lines.
type RedisStore struct {
	RDB        *redis.Client
	TTL        time.Duration
	MaxRetries int
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{RDB: rdb, TTL: redisx.TTLCart, MaxRetries: 5}
}

func (s *RedisStore) Get(ctx context.Context, owner string) (*Cart, error) {
	return load(ctx, s.RDB, owner)
}

func (s *RedisStore) Update(ctx context.Context, owner string, fn func(*Cart) error) (*Cart, error) {
	key := fmt.Sprintf(redisx.KeyCart, owner)
	var out *Cart

	txf := func(tx *redis.Tx) error {
		c, err := load(ctx, tx, owner)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		b, err := json.Marshal(c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, b, s.TTL)
			return nil
		})
		if err == nil {
			out = c
		}
		return err
	}

	for i := 0; i <= s.MaxRetries; i++ {
		err := s.RDB.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue // ada writer lain, ulangi
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("cart %s: too many concurrent updates", owner)
}

func (s *RedisStore) Delete(ctx context.Context, owner string) error {
	return s.RDB.Del(ctx, fmt.Sprintf(redisx.KeyCart, owner)).Err()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func load(ctx context.Context, rdb getter, owner string) (*Cart, error) {
	b, err := rdb.Get(ctx, fmt.Sprintf(redisx.KeyCart, owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return newCart(owner), nil
	}
	if err != nil {
		return nil, err
	}
	var c Cart
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	c.OwnerID = owner
	return &c, nil
}
