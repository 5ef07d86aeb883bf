package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
)

// DefaultRedisChannel carries change events between API replicas.
const DefaultRedisChannel = "wyshkit:events"

// RedisSink publishes encoded envelopes on a channel that every replica's realtime hub
// subscribes to.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisSink wraps client. An empty channel uses DefaultRedisChannel.
func NewRedisSink(client redis.UniversalClient, channel string) (*RedisSink, error) {
	if client == nil {
		return nil, errors.New("redis sink: client is required")
	}
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{client: client, channel: channel}, nil
}

func (r *RedisSink) Name() string { return "redis" }

// Channel names the channel published to.
func (r *RedisSink) Channel() string { return r.channel }

func (r *RedisSink) Publish(ctx context.Context, event domain.OutboxEvent) error {
	data, err := Encode(event)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis sink: publish %s: %w", event.ID, err)
	}
	return nil
}

// Subscribe decodes events arriving on the channel and hands them to deliver until ctx ends.
// Undecodable messages are passed to onError and skipped.
func (r *RedisSink) Subscribe(ctx context.Context, deliver func(domain.OutboxEvent), onError func(error)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis sink: subscribe %s: %w", r.channel, err)
	}
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			event, err := Decode([]byte(msg.Payload))
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			deliver(event)
		}
	}
}
