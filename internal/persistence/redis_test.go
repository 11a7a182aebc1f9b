package persistence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/whatsapp-helpdesk/internal/config"
)

func TestRedisTrackerUsesConfiguredWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedis(config.RedisConfig{Addr: mr.Addr(), DedupeTTLHours: 2}, zap.NewNop())
	t.Cleanup(r.Close)
	ctx := context.Background()

	require.NoError(t, r.Ping(ctx))

	fresh, err := r.DeliveryTracker().Mark(ctx, "inst-1:XYZ")
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, "2h0m0s", mr.TTL(deliveryKeyPrefix+"inst-1:XYZ").String())
}

func TestNilRedisDegrades(t *testing.T) {
	var r *Redis
	assert.Error(t, r.Ping(context.Background()))

	fresh, err := r.DeliveryTracker().Mark(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, fresh)
}
