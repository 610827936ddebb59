package testutil

import (
	"encoding/json"
	"strconv"
	"sync/atomic"

	"streamchat/internal/domain"
	"streamchat/internal/streams"
)

// Counter for generating increasing timestamps
var tsCounter atomic.Int64

const baseTimestamp int64 = 1_700_000_000_000

// nextTimestamp returns a unique millisecond timestamp
func nextTimestamp() int64 {
	return baseTimestamp + tsCounter.Add(1)
}

// TestAddress returns an address whose bytes are all b
func TestAddress(b byte) domain.Address {
	var addr domain.Address
	for i := range addr {
		addr[i] = b
	}
	return addr
}

// MustRoomID encodes a room name, panicking on names longer than 32 bytes
func MustRoomID(name string) domain.RoomID {
	id, err := domain.RoomIDFromName(name)
	if err != nil {
		panic(err)
	}
	return id
}

// MessageOptions allows customizing message fixture creation
type MessageOptions struct {
	Timestamp  int64
	Room       string
	Content    string
	SenderName string
	Sender     domain.Address
}

// NewTestMessage creates a message in room "general" with a fresh timestamp
// Pass options to override specific fields
func NewTestMessage(opts ...func(*MessageOptions)) domain.MessageRecord {
	o := &MessageOptions{
		Timestamp:  nextTimestamp(),
		Room:       "general",
		Content:    "hello",
		SenderName: "alice",
		Sender:     TestAddress(0xaa),
	}
	for _, opt := range opts {
		opt(o)
	}
	return domain.MessageRecord{
		Timestamp:  o.Timestamp,
		RoomID:     MustRoomID(o.Room),
		Content:    o.Content,
		SenderName: o.SenderName,
		Sender:     o.Sender,
	}
}

func WithTimestamp(ts int64) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.Timestamp = ts
	}
}

func WithRoom(room string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.Room = room
	}
}

func WithContent(content string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.Content = content
	}
}

func WithSenderName(name string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.SenderName = name
	}
}

func WithSender(addr domain.Address) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.Sender = addr
	}
}

// NewTestMessages creates count messages in room with increasing timestamps
func NewTestMessages(room string, count int) []domain.MessageRecord {
	msgs := make([]domain.MessageRecord, count)
	for i := range msgs {
		msgs[i] = NewTestMessage(WithRoom(room), WithContent("message "+strconv.Itoa(i)))
	}
	return msgs
}

// NestedRow renders msg the way the streams service returns it: every field
// wrapped as {"name","type","value":{"name","type","value"}} with numbers as
// json.Number.
func NestedRow(msg domain.MessageRecord) streams.Row {
	fields := chatFields(msg)
	row := make(streams.Row, len(fields))
	for i, f := range fields {
		row[i] = map[string]any{
			"name":  f.Name,
			"type":  f.Type,
			"value": map[string]any{
				"name":  f.Name,
				"type":  f.Type,
				"value": f.Value,
			},
		}
	}
	return row
}

// FlatRow renders msg with direct field values
func FlatRow(msg domain.MessageRecord) streams.Row {
	fields := chatFields(msg)
	row := make(streams.Row, len(fields))
	for i, f := range fields {
		row[i] = f.Value
	}
	return row
}

// Rows renders msgs as nested rows
func Rows(msgs ...domain.MessageRecord) []streams.Row {
	rows := make([]streams.Row, len(msgs))
	for i, m := range msgs {
		rows[i] = NestedRow(m)
	}
	return rows
}

func chatFields(msg domain.MessageRecord) []streams.Field {
	return []streams.Field{
		{Name: "timestamp", Type: "uint64", Value: json.Number(strconv.FormatInt(msg.Timestamp, 10))},
		{Name: "roomId", Type: "bytes32", Value: msg.RoomID.Hex()},
		{Name: "content", Type: "string", Value: msg.Content},
		{Name: "senderName", Type: "string", Value: msg.SenderName},
		{Name: "sender", Type: "address", Value: msg.Sender.Hex()},
	}
}
