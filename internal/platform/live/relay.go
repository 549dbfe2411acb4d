package live

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel is the Redis pub/sub channel events travel on between the
// worker and API processes.
const DefaultChannel = "medbook:live"

// RedisPublisher publishes events on a Redis channel so that every API
// process relays them to its own sockets.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Relay forwards events from the Redis channel into hub until ctx is done.
func Relay(ctx context.Context, client *redis.Client, channel string, hub *Hub, logger zerolog.Logger) error {
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	logger.Info().Str("channel", channel).Msg("live relay started")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			relayMessage(hub, []byte(msg.Payload), logger)
		}
	}
}

func relayMessage(hub *Hub, payload []byte, logger zerolog.Logger) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		logger.Warn().Err(err).Msg("drop malformed live event")
		return
	}
	hub.deliver(event.Topic, payload)
}
