package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"streamchat/internal/domain"
	"streamchat/internal/observability"
)

const (
	// RoomEventsChannel is the pub/sub channel carrying room events
	RoomEventsChannel = "chat:events"

	backendRedis = "redis"
)

// RedisBus carries room events over Redis pub/sub
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus connects to redisURL and verifies the connection
func NewRedisBus(ctx context.Context, redisURL string) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBus{client: client}, nil
}

// PublishRoomEvent announces a confirmed message to every subscriber
func (b *RedisBus) PublishRoomEvent(ctx context.Context, event domain.RoomEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal room event: %w", err)
	}
	if err := b.client.Publish(ctx, RoomEventsChannel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish room event: %w", err)
	}
	observability.RoomEventsTotal.WithLabelValues("published", backendRedis).Inc()
	return nil
}

// Subscribe delivers decoded events until ctx is done
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan domain.RoomEvent, error) {
	pubsub := b.client.Subscribe(ctx, RoomEventsChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", RoomEventsChannel, err)
	}

	slog.Info("started consuming room events", slog.String("channel", RoomEventsChannel))

	msgs := pubsub.Channel()
	out := make(chan domain.RoomEvent, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("room events channel closed")
					return
				}
				event, ok := decodeRoomEvent([]byte(msg.Payload))
				if !ok {
					continue
				}
				observability.RoomEventsTotal.WithLabelValues("received", backendRedis).Inc()
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Ping checks the Redis connection
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (b *RedisBus) Close() error {
	return b.client.Close()
}
