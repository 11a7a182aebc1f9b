package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const deliveryKeyPrefix = "webhook:delivered:"

// DeliveryTracker remembers gateway message ids that were already applied so
// redelivered webhooks short-circuit before touching Postgres. The database
// unique index on messages.external_id stays the source of truth.
type DeliveryTracker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewDeliveryTracker builds a tracker keeping ids for ttl.
func NewDeliveryTracker(client redis.UniversalClient, ttl time.Duration) *DeliveryTracker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DeliveryTracker{client: client, ttl: ttl}
}

// Seen reports whether key was marked.
func (t *DeliveryTracker) Seen(ctx context.Context, key string) (bool, error) {
	if t == nil || t.client == nil {
		return false, nil
	}
	_, err := t.client.Get(ctx, deliveryKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Mark records key. It reports false when the key was already present.
func (t *DeliveryTracker) Mark(ctx context.Context, key string) (bool, error) {
	if t == nil || t.client == nil {
		return true, nil
	}
	return t.client.SetNX(ctx, deliveryKeyPrefix+key, time.Now().Unix(), t.ttl).Result()
}
