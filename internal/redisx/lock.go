package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockTimeout = errors.New("lock: timed out waiting")

// hapus key hanya kalau token masih milik kita
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Lock is a per-key mutex shared by every replica talking to the same Redis.
type Lock struct {
	RDB   redis.Cmdable
	TTL   time.Duration // lease; harus lebih lama dari critical section
	Retry time.Duration
}

func NewLock(rdb redis.Cmdable, ttl time.Duration) *Lock {
	return &Lock{RDB: rdb, TTL: ttl, Retry: 25 * time.Millisecond}
}

// Acquire blocks until the lock for id is held or ctx is done.
func (l *Lock) Acquire(ctx context.Context, id string) (func(), error) {
	key := fmt.Sprintf(KeyOrderLock, id)
	token := uuid.NewString()
	t := time.NewTicker(l.Retry)
	defer t.Stop()

	for {
		ok, err := l.RDB.SetNX(ctx, key, token, l.TTL).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("lock %s: %w", id, err)
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = unlockScript.Run(ctx, l.RDB, []string{key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, id)
		case <-t.C:
		}
	}
}
