package streams_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamchat/internal/domain"
	"streamchat/internal/streams"
)

func chatFields(ts uint64, room domain.RoomID, content, name string, sender domain.Address) []streams.Field {
	return []streams.Field{
		{Name: "timestamp", Type: "uint64", Value: ts},
		{Name: "roomId", Type: "bytes32", Value: room},
		{Name: "content", Type: "string", Value: content},
		{Name: "senderName", Type: "string", Value: name},
		{Name: "sender", Type: "address", Value: sender},
	}
}

func TestSchemaEncoder_ChatRoundTrip(t *testing.T) {
	enc, err := streams.NewSchemaEncoder(streams.ChatSchema)
	require.NoError(t, err)

	room, err := domain.RoomIDFromName("general")
	require.NoError(t, err)
	var sender domain.Address
	sender[0], sender[19] = 0xde, 0xad

	content := strings.Repeat("long content ", 10)
	data, err := enc.EncodeData(chatFields(1_700_000_000_123, room, content, "alice", sender))
	require.NoError(t, err)

	// 5 head words, then each string is a length word plus padded payload
	assert.Equal(t, 0, len(data)%32)
	assert.Greater(t, len(data), 5*32)

	fields, err := enc.DecodeData(data)
	require.NoError(t, err)
	require.Len(t, fields, 5)
	assert.Equal(t, uint64(1_700_000_000_123), fields[0].Value)
	assert.Equal(t, room.Hex(), fields[1].Value)
	assert.Equal(t, content, fields[2].Value)
	assert.Equal(t, "alice", fields[3].Value)
	assert.Equal(t, sender.Hex(), fields[4].Value)
	assert.Equal(t, "senderName", fields[3].Name)
	assert.Equal(t, "address", fields[4].Type)
}

func TestSchemaEncoder_EmptyStrings(t *testing.T) {
	enc, err := streams.NewSchemaEncoder(streams.ChatSchema)
	require.NoError(t, err)

	data, err := enc.EncodeData(chatFields(1, domain.RoomID{}, "", "", domain.ZeroAddress))
	require.NoError(t, err)

	fields, err := enc.DecodeData(data)
	require.NoError(t, err)
	assert.Equal(t, "", fields[2].Value)
	assert.Equal(t, "", fields[3].Value)
}

func TestSchemaEncoder_OtherTypes(t *testing.T) {
	enc, err := streams.NewSchemaEncoder("bool flag, int32 delta, bytes blob, uint8 small")
	require.NoError(t, err)

	data, err := enc.EncodeData([]streams.Field{
		{Name: "flag", Type: "bool", Value: true},
		{Name: "delta", Type: "int32", Value: int64(-42)},
		{Name: "blob", Type: "bytes", Value: "0x0102ff"},
		{Name: "small", Type: "uint8", Value: 255},
	})
	require.NoError(t, err)

	fields, err := enc.DecodeData(data)
	require.NoError(t, err)
	assert.Equal(t, true, fields[0].Value)
	assert.Equal(t, int64(-42), fields[1].Value)
	assert.Equal(t, "0x0102ff", fields[2].Value)
	assert.Equal(t, uint64(255), fields[3].Value)
}

func TestSchemaEncoder_EncodeErrors(t *testing.T) {
	enc, err := streams.NewSchemaEncoder("uint8 small, address who")
	require.NoError(t, err)

	tests := []struct {
		name   string
		values []streams.Field
	}{
		{
			name:   "wrong field count",
			values: []streams.Field{{Name: "small", Type: "uint8", Value: 1}},
		},
		{
			name: "misnamed field",
			values: []streams.Field{
				{Name: "big", Type: "uint8", Value: 1},
				{Name: "who", Type: "address", Value: domain.ZeroAddress},
			},
		},
		{
			name: "overflow",
			values: []streams.Field{
				{Name: "small", Type: "uint8", Value: 256},
				{Name: "who", Type: "address", Value: domain.ZeroAddress},
			},
		},
		{
			name: "negative unsigned",
			values: []streams.Field{
				{Name: "small", Type: "uint8", Value: -1},
				{Name: "who", Type: "address", Value: domain.ZeroAddress},
			},
		},
		{
			name: "bad address",
			values: []streams.Field{
				{Name: "small", Type: "uint8", Value: 1},
				{Name: "who", Type: "address", Value: "0x1234"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := enc.EncodeData(tt.values)
			assert.Error(t, err)
		})
	}
}

func TestSchemaEncoder_DecodeErrors(t *testing.T) {
	enc, err := streams.NewSchemaEncoder(streams.ChatSchema)
	require.NoError(t, err)

	_, err = enc.DecodeData(make([]byte, 31))
	assert.True(t, errors.Is(err, streams.ErrInvalidEncoding))

	// Head words pointing past the end of the data
	data := make([]byte, 5*32)
	data[2*32+31] = 0xff
	_, err = enc.DecodeData(data)
	assert.True(t, errors.Is(err, streams.ErrInvalidEncoding))
}

func TestNewSchemaEncoder_Invalid(t *testing.T) {
	_, err := streams.NewSchemaEncoder("string")
	assert.Error(t, err)
}
