package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/ariefcatur/go-realtime-checkout/internal/shipping"
)

func sampleSession(now time.Time) Session {
	return Session{
		ID:            "c1",
		OwnerID:       "u1",
		Status:        orders.StatusQuoted,
		Items:         []orders.LineItem{{VariantID: "v1", ProductID: "p1", Qty: 2, UnitPriceCents: 4990}},
		SubtotalCents: 9980,
		Destination:   home,
		Options:       []shipping.Option{{Method: "ship-1", Name: "PAC", CostCents: 1990}},
		Selected:      shipping.Option{Method: "ship-1", Name: "PAC", CostCents: 1990},
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
	}
}

func TestMemorySessionStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	s := NewMemorySessionStore()
	s.Now = func() time.Time { return now }

	require.NoError(t, s.Save(ctx, sampleSession(now)))
	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(11970), got.TotalCents())

	id, fresh, err := s.ClaimKey(ctx, "u1", "k", "c1")
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, "c1", id)
	id, fresh, err = s.ClaimKey(ctx, "u1", "k", "c2")
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, "c1", id)

	now = now.Add(2 * time.Hour)
	_, err = s.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrCheckoutNotFound)
}

func TestRedisSessionStore(t *testing.T) {
	// Setup
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	s := &RedisSessionStore{RDB: rdb, TTL: time.Hour}
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	// Execute
	require.NoError(t, s.Save(ctx, sampleSession(now)))
	got, err := s.Get(ctx, "c1")

	// Verify
	require.NoError(t, err)
	assert.Equal(t, orders.StatusQuoted, got.Status)
	assert.Equal(t, "ship-1", got.Selected.Method)
	assert.Equal(t, home, got.Destination)
	assert.True(t, mr.Exists("checkout:c1"))

	id, fresh, err := s.ClaimKey(ctx, "u1", "k", "c1")
	require.NoError(t, err)
	assert.True(t, fresh)
	id2, fresh, err := s.ClaimKey(ctx, "u1", "k", "c2")
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, id, id2)

	require.NoError(t, s.ReleaseKey(ctx, "u1", "k"))
	_, fresh, err = s.ClaimKey(ctx, "u1", "k", "c3")
	require.NoError(t, err)
	assert.True(t, fresh)

	mr.FastForward(2 * time.Hour)
	_, err = s.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrCheckoutNotFound)
}
