package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Locks serializes capture attempts per order. Two workers confirming
// the same payment race only up to SetNX; the loser backs off and the
// winner's result is replayed to the loser's caller by the store guard.
type Locks struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewLocks(client *redis.Client, ttl time.Duration) *Locks {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locks{Client: client, TTL: ttl}
}

func captureKey(orderID string) string {
	return "capture_lock:" + orderID
}

// AcquireCapture takes the per-order capture lock. Returns false when
// another worker already holds it.
func (l *Locks) AcquireCapture(ctx context.Context, orderID, holder string) (bool, error) {
	return l.Client.SetNX(ctx, captureKey(orderID), holder, l.TTL).Result()
}

// ReleaseCapture drops the lock if this holder still owns it. A lock
// that expired and was re-taken by someone else is left alone.
func (l *Locks) ReleaseCapture(ctx context.Context, orderID, holder string) error {
	key := captureKey(orderID)
	val, err := l.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val == holder {
		_, err = l.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}
