package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"streamchat/internal/domain"
	"streamchat/internal/observability"
	"streamchat/internal/streams"
)

// StreamsWriter is the part of the streams service the write path needs
type StreamsWriter interface {
	streams.SchemaRegistry
	streams.Writer
	streams.ReceiptWaiter
}

// RoomNotifier announces new messages to other processes
type RoomNotifier interface {
	PublishRoomEvent(ctx context.Context, event domain.RoomEvent) error
}

// SendResult is returned once a message has been confirmed
type SendResult struct {
	TxHash    streams.Hash  `json:"txHash"`
	DataID    streams.Hash  `json:"dataId"`
	RoomID    domain.RoomID `json:"roomId"`
	Timestamp int64         `json:"timestamp"`
}

// SenderOption configures a Sender
type SenderOption func(*Sender)

// WithNotifier publishes a room event after each confirmed message
func WithNotifier(n RoomNotifier) SenderOption {
	return func(s *Sender) {
		s.notifier = n
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) SenderOption {
	return func(s *Sender) {
		s.now = now
	}
}

// Sender publishes chat messages. The chat data schema is registered lazily
// on the first send and remembered once confirmed.
type Sender struct {
	client   StreamsWriter
	encoder  *streams.SchemaEncoder
	schemaID streams.Hash
	account  domain.Address
	notifier RoomNotifier
	now      func() time.Time

	schemaMu    sync.Mutex
	schemaReady bool
}

// NewSender creates a Sender writing as account
func NewSender(client StreamsWriter, account domain.Address, opts ...SenderOption) (*Sender, error) {
	encoder, err := streams.NewSchemaEncoder(streams.ChatSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to build chat encoder: %w", err)
	}

	s := &Sender{
		client:   client,
		encoder:  encoder,
		schemaID: streams.ComputeSchemaID(streams.ChatSchema),
		account:  account,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Send validates, encodes and writes one message and waits for its receipt
func (s *Sender) Send(ctx context.Context, room, content, senderName string) (*SendResult, error) {
	result, err := s.send(ctx, room, content, senderName)
	if err != nil {
		observability.MessagesSentTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	observability.MessagesSentTotal.WithLabelValues("success").Inc()
	return result, nil
}

func (s *Sender) send(ctx context.Context, room, content, senderName string) (*SendResult, error) {
	if room == "" || content == "" {
		return nil, domain.ErrMissingFields
	}
	roomID, err := domain.RoomIDFromName(room)
	if err != nil {
		return nil, err
	}

	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	now := s.now().UnixMilli()
	data, err := s.encoder.EncodeData([]streams.Field{
		{Name: "timestamp", Type: "uint64", Value: uint64(now)},
		{Name: "roomId", Type: "bytes32", Value: roomID},
		{Name: "content", Type: "string", Value: content},
		{Name: "senderName", Type: "string", Value: senderName},
		{Name: "sender", Type: "address", Value: s.account},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	dataID := DataID(room, now)
	txHash, err := s.client.Set(ctx, s.account, []streams.DataStream{
		{ID: dataID, SchemaID: s.schemaID, Data: data},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPublishFailed, err)
	}
	if txHash.IsZero() {
		return nil, domain.ErrPublishFailed
	}

	if _, err := s.client.WaitForTransactionReceipt(ctx, txHash); err != nil {
		return nil, fmt.Errorf("failed to confirm message: %w", err)
	}

	slog.Info("chat message published",
		slog.String("room", room),
		slog.String("tx_hash", txHash.Hex()))

	s.notify(ctx, domain.RoomEvent{RoomID: roomID, TxHash: txHash.Hex(), Timestamp: now})

	return &SendResult{
		TxHash:    txHash,
		DataID:    dataID,
		RoomID:    roomID,
		Timestamp: now,
	}, nil
}

// notify is best effort; polling picks the message up regardless
func (s *Sender) notify(ctx context.Context, event domain.RoomEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishRoomEvent(ctx, event); err != nil {
		slog.Warn("failed to publish room event",
			slog.String("room_id", event.RoomID.Hex()),
			slog.String("error", err.Error()))
	}
}

// EnsureSchema registers the chat data schema if the service does not know
// it yet and waits for the registration to be confirmed.
func (s *Sender) EnsureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()

	if s.schemaReady {
		return nil
	}

	registered, err := s.client.IsDataSchemaRegistered(ctx, s.schemaID)
	if err != nil {
		return fmt.Errorf("failed to check schema registration: %w", err)
	}

	if !registered {
		txHash, err := s.client.RegisterDataSchemas(ctx, []streams.DataSchemaRegistration{
			{ID: streams.ChatSchemaName, Schema: streams.ChatSchema, ParentSchemaID: streams.ZeroHash},
		}, true)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrSchemaRegistration, err)
		}
		if txHash.IsZero() {
			return domain.ErrSchemaRegistration
		}
		if _, err := s.client.WaitForTransactionReceipt(ctx, txHash); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrSchemaRegistration, err)
		}
		slog.Info("registered chat schema",
			slog.String("schema_id", s.schemaID.Hex()),
			slog.String("tx_hash", txHash.Hex()))
	}

	s.schemaReady = true
	return nil
}

// EnsureEventSchema registers the ChatMessage event schema if it is absent.
// A failed lookup is treated as absent.
func (s *Sender) EnsureEventSchema(ctx context.Context) error {
	existing, err := s.client.GetEventSchemasByID(ctx, []string{streams.ChatEventID})
	if err == nil && len(existing) > 0 {
		return nil
	}

	txHash, err := s.client.RegisterEventSchemas(ctx,
		[]string{streams.ChatEventID},
		[]streams.EventSchema{streams.ChatEventSchema})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSchemaRegistration, err)
	}
	if txHash.IsZero() {
		return fmt.Errorf("%w: %s event", domain.ErrSchemaRegistration, streams.ChatEventID)
	}
	slog.Info("registered chat event schema", slog.String("tx_hash", txHash.Hex()))
	return nil
}

// DataID derives the record id of a message from its room and timestamp:
// "room-timestamp" right-padded to 32 bytes, or its Keccak-256 hash when
// longer.
func DataID(room string, timestampMs int64) streams.Hash {
	key := room + "-" + strconv.FormatInt(timestampMs, 10)
	if len(key) > streams.HashLength {
		return streams.Keccak256([]byte(key))
	}
	var id streams.Hash
	copy(id[:], key)
	return id
}
