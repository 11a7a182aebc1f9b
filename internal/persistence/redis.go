package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/whatsapp-helpdesk/internal/config"
)

// Redis holds the client shared by the delivery tracker and the realtime
// publisher. Both degrade when Redis is down; Postgres stays authoritative.
type Redis struct {
	Client *redis.Client
	cfg    config.RedisConfig
}

// NewRedis builds the client. An unreachable server is logged, not fatal.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable; dedupe falls back to postgres and realtime is paused",
			zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	}

	return &Redis{Client: client, cfg: cfg}
}

// DeliveryTracker returns a tracker using the configured dedupe window.
func (r *Redis) DeliveryTracker() *DeliveryTracker {
	if r == nil || r.Client == nil {
		return NewDeliveryTracker(nil, 0)
	}
	return NewDeliveryTracker(r.Client, r.cfg.DedupeTTL())
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping is used by the readiness probe.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}
