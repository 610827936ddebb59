package messaging

import (
	"context"
	"log/slog"

	"streamchat/internal/domain"
)

// Bus publishes and subscribes to room events
type Bus interface {
	PublishRoomEvent(ctx context.Context, event domain.RoomEvent) error
	Subscribe(ctx context.Context) (<-chan domain.RoomEvent, error)
	Ping(ctx context.Context) error
	Close() error
}

// RoomNotifier is told which room has new messages
type RoomNotifier interface {
	NotifyRoom(roomID domain.RoomID) int
}

// EventConsumer forwards room events from a Bus to a RoomNotifier
type EventConsumer struct {
	bus      Bus
	notifier RoomNotifier
}

func NewEventConsumer(bus Bus, notifier RoomNotifier) *EventConsumer {
	return &EventConsumer{
		bus:      bus,
		notifier: notifier,
	}
}

// Start subscribes and processes events in the background until ctx is done
func (c *EventConsumer) Start(ctx context.Context) error {
	events, err := c.bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("stopping room event consumer")
				return
			case event, ok := <-events:
				if !ok {
					slog.Warn("room event consumer channel closed")
					return
				}
				c.processEvent(event)
			}
		}
	}()

	return nil
}

func (c *EventConsumer) processEvent(event domain.RoomEvent) {
	refreshed := c.notifier.NotifyRoom(event.RoomID)
	slog.Debug("processed room event",
		slog.String("room_id", event.RoomID.Hex()),
		slog.String("tx_hash", event.TxHash),
		slog.Int("subscriptions_refreshed", refreshed))
}

// NoopBus drops published events and never delivers any
type NoopBus struct{}

func (NoopBus) PublishRoomEvent(context.Context, domain.RoomEvent) error { return nil }

func (NoopBus) Subscribe(ctx context.Context) (<-chan domain.RoomEvent, error) {
	out := make(chan domain.RoomEvent)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

func (NoopBus) Ping(context.Context) error { return nil }

func (NoopBus) Close() error { return nil }
