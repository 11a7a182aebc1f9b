package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryTracker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tracker := NewDeliveryTracker(client, time.Hour)
	ctx := context.Background()

	seen, err := tracker.Seen(ctx, "inst-1:ABC")
	require.NoError(t, err)
	assert.False(t, seen)

	fresh, err := tracker.Mark(ctx, "inst-1:ABC")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = tracker.Mark(ctx, "inst-1:ABC")
	require.NoError(t, err)
	assert.False(t, fresh)

	seen, err = tracker.Seen(ctx, "inst-1:ABC")
	require.NoError(t, err)
	assert.True(t, seen)

	mr.FastForward(2 * time.Hour)
	seen, err = tracker.Seen(ctx, "inst-1:ABC")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestDeliveryTrackerUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	_, err := NewDeliveryTracker(client, 0).Seen(context.Background(), "k")
	assert.Error(t, err)

	var nilTracker *DeliveryTracker
	seen, err := nilTracker.Seen(context.Background(), "k")
	assert.NoError(t, err)
	assert.False(t, seen)
}
