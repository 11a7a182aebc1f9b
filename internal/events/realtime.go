package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// TicketChannel is the pub/sub channel live ticket views subscribe to.
func TicketChannel(ticketID string) string {
	return "messages:" + ticketID
}

// RedisPublisher pushes ticket scoped events to Redis pub/sub so open
// dashboard sessions can refresh without polling.
type RedisPublisher struct {
	client redis.UniversalClient
}

// NewRedisPublisher builds a publisher.
func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Handle is an EventHandler publishing event on its ticket channel.
func (p *RedisPublisher) Handle(ctx context.Context, event Event) error {
	if p == nil || p.client == nil || event.TicketID == "" {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, TicketChannel(event.TicketID), body).Err()
}

// Subscribe opens a subscription on a ticket channel.
func (p *RedisPublisher) Subscribe(ctx context.Context, ticketID string) *redis.PubSub {
	return p.client.Subscribe(ctx, TicketChannel(ticketID))
}
