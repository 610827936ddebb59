package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"streamchat/internal/domain"
	"streamchat/internal/observability"
)

const (
	// RoomEventsExchange fans room events out to every chat server
	RoomEventsExchange = "chat.events"

	backendRabbitMQ = "rabbitmq"
)

type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	rmq := &RabbitMQ{
		conn:    conn,
		channel: ch,
	}

	if err := rmq.Setup(); err != nil {
		rmq.Close()
		return nil, err
	}

	return rmq, nil
}

// NewRabbitMQWithRetry keeps dialing until it succeeds or ctx is done
func NewRabbitMQWithRetry(ctx context.Context, url string) (*RabbitMQ, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		rmq, err := NewRabbitMQ(url)
		if err == nil {
			return rmq, nil
		}
		slog.Warn("rabbitmq not ready, retrying",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", attempt, err)
		case <-ticker.C:
		}
	}
}

func (r *RabbitMQ) Setup() error {
	if err := r.channel.ExchangeDeclare(
		RoomEventsExchange, // name
		"fanout",           // type
		true,               // durable
		false,              // auto-deleted
		false,              // internal
		false,              // no-wait
		nil,                // arguments
	); err != nil {
		return fmt.Errorf("failed to declare events exchange: %w", err)
	}

	slog.Info("rabbitmq setup completed successfully")
	return nil
}

// PublishRoomEvent announces a confirmed message to every subscriber
func (r *RabbitMQ) PublishRoomEvent(ctx context.Context, event domain.RoomEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal room event: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		RoomEventsExchange,
		"",
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.UnixMilli(event.Timestamp),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish room event: %w", err)
	}

	observability.RoomEventsTotal.WithLabelValues("published", backendRabbitMQ).Inc()
	slog.Debug("published room event",
		slog.String("room_id", event.RoomID.Hex()),
		slog.String("tx_hash", event.TxHash))
	return nil
}

// Subscribe binds a private, auto-deleted queue to the events exchange and
// delivers decoded events until ctx is done.
func (r *RabbitMQ) Subscribe(ctx context.Context) (<-chan domain.RoomEvent, error) {
	queue, err := r.channel.QueueDeclare(
		"",    // auto-generated name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare events queue: %w", err)
	}

	if err := r.channel.QueueBind(
		queue.Name,         // queue name
		"",                 // routing key
		RoomEventsExchange, // exchange
		false,
		nil,
	); err != nil {
		return nil, fmt.Errorf("failed to bind events queue: %w", err)
	}

	msgs, err := r.channel.Consume(
		queue.Name, // queue
		"",         // consumer
		true,       // auto-ack
		true,       // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	slog.Info("started consuming room events",
		slog.String("queue", queue.Name),
		slog.String("exchange", RoomEventsExchange))

	out := make(chan domain.RoomEvent, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("room events channel closed")
					return
				}
				event, ok := decodeRoomEvent(msg.Body)
				if !ok {
					continue
				}
				observability.RoomEventsTotal.WithLabelValues("received", backendRabbitMQ).Inc()
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

// Ping reports whether the connection is usable
func (r *RabbitMQ) Ping(_ context.Context) error {
	if r.IsClosed() {
		return fmt.Errorf("connection closed")
	}
	return nil
}

func (r *RabbitMQ) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func decodeRoomEvent(body []byte) (domain.RoomEvent, bool) {
	var event domain.RoomEvent
	if err := json.Unmarshal(body, &event); err != nil {
		slog.Error("error unmarshaling room event",
			slog.String("error", err.Error()),
			slog.String("body", string(body)))
		return event, false
	}
	return event, true
}
