package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamchat/internal/domain"
	"streamchat/internal/streams"
	"streamchat/internal/testutil"
)

var fixedNow = time.UnixMilli(1_700_000_000_500)

func newTestSender(t *testing.T, client *testutil.MockStreamsClient, opts ...SenderOption) *Sender {
	t.Helper()
	opts = append([]SenderOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	s, err := NewSender(client, testutil.TestAddress(0xaa), opts...)
	require.NoError(t, err)
	return s
}

func TestSender_Send(t *testing.T) {
	client := testutil.NewMockStreamsClient()
	bus := testutil.NewMockBus()
	s := newTestSender(t, client, WithNotifier(bus))

	result, err := s.Send(context.Background(), "general", "hello world", "alice")
	require.NoError(t, err)

	assert.False(t, result.TxHash.IsZero())
	assert.Equal(t, DataID("general", fixedNow.UnixMilli()), result.DataID)
	assert.Equal(t, testutil.MustRoomID("general"), result.RoomID)
	assert.Equal(t, fixedNow.UnixMilli(), result.Timestamp)

	writes := client.WrittenStreams()
	require.Len(t, writes, 1)
	assert.Equal(t, result.DataID, writes[0].ID)
	assert.Equal(t, streams.ComputeSchemaID(streams.ChatSchema), writes[0].SchemaID)

	encoder, err := streams.NewSchemaEncoder(streams.ChatSchema)
	require.NoError(t, err)
	fields, err := encoder.DecodeData(writes[0].Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(fixedNow.UnixMilli()), fields[0].Value)
	assert.Equal(t, testutil.MustRoomID("general").Hex(), fields[1].Value)
	assert.Equal(t, "hello world", fields[2].Value)
	assert.Equal(t, "alice", fields[3].Value)
	assert.Equal(t, testutil.TestAddress(0xaa).Hex(), fields[4].Value)

	events := bus.PublishedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, result.RoomID, events[0].RoomID)
	assert.Equal(t, result.TxHash.Hex(), events[0].TxHash)
}

func TestSender_SentMessageParsesBack(t *testing.T) {
	client := testutil.NewMockStreamsClient()
	s := newTestSender(t, client)

	_, err := s.Send(context.Background(), "general", "round trip", "bob")
	require.NoError(t, err)

	encoder, err := streams.NewSchemaEncoder(streams.ChatSchema)
	require.NoError(t, err)
	fields, err := encoder.DecodeData(client.WrittenStreams()[0].Data)
	require.NoError(t, err)

	// Nest the decoded values the way the service returns them
	row := make(streams.Row, len(fields))
	for i, f := range fields {
		row[i] = map[string]any{"value": map[string]any{"value": f.Value}}
	}

	msg, err := ParseRow(row)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageRecord{
		Timestamp:  fixedNow.UnixMilli(),
		RoomID:     testutil.MustRoomID("general"),
		Content:    "round trip",
		SenderName: "bob",
		Sender:     testutil.TestAddress(0xaa),
	}, msg)
}

func TestSender_RegistersSchemaOnce(t *testing.T) {
	client := testutil.NewMockStreamsClient()
	registrations := 0
	client.RegisterDataSchemasFunc = func(ctx context.Context, schemas []streams.DataSchemaRegistration, ignore bool) (streams.Hash, error) {
		registrations++
		assert.True(t, ignore)
		require.Len(t, schemas, 1)
		assert.Equal(t, streams.ChatSchemaName, schemas[0].ID)
		assert.Equal(t, streams.ChatSchema, schemas[0].Schema)
		assert.True(t, schemas[0].ParentSchemaID.IsZero())
		return streams.Keccak256([]byte("register")), nil
	}
	s := newTestSender(t, client)

	for i := 0; i < 3; i++ {
		_, err := s.Send(context.Background(), "general", "hi", "alice")
		require.NoError(t, err)
	}

	assert.Equal(t, 1, registrations)
}

func TestSender_SkipsRegistrationWhenKnown(t *testing.T) {
	client := testutil.NewMockStreamsClient()
	client.IsDataSchemaRegisteredFunc = func(context.Context, streams.Hash) (bool, error) { return true, nil }
	client.RegisterDataSchemasFunc = func(context.Context, []streams.DataSchemaRegistration, bool) (streams.Hash, error) {
		t.Error("schema should not be registered again")
		return streams.ZeroHash, nil
	}

	_, err := newTestSender(t, client).Send(context.Background(), "general", "hi", "alice")
	assert.NoError(t, err)
}

func TestSender_SendErrors(t *testing.T) {
	tests := []struct {
		name    string
		room    string
		content string
		setup   func(*testutil.MockStreamsClient)
		wantErr error
	}{
		{name: "missing room", room: "", content: "hi", wantErr: domain.ErrMissingFields},
		{name: "missing content", room: "general", content: "", wantErr: domain.ErrMissingFields},
		{name: "room too long", room: strings.Repeat("r", 33), content: "hi", wantErr: domain.ErrRoomNameTooLong},
		{
			name: "schema lookup fails", room: "general", content: "hi",
			setup: func(c *testutil.MockStreamsClient) {
				c.IsDataSchemaRegisteredFunc = func(context.Context, streams.Hash) (bool, error) {
					return false, testutil.ErrMockUnavailable
				}
			},
			wantErr: testutil.ErrMockUnavailable,
		},
		{
			name: "schema registration fails", room: "general", content: "hi",
			setup: func(c *testutil.MockStreamsClient) {
				c.RegisterDataSchemasFunc = func(context.Context, []streams.DataSchemaRegistration, bool) (streams.Hash, error) {
					return streams.ZeroHash, testutil.ErrMockUnavailable
				}
			},
			wantErr: domain.ErrSchemaRegistration,
		},
		{
			name: "registration without transaction", room: "general", content: "hi",
			setup: func(c *testutil.MockStreamsClient) {
				c.RegisterDataSchemasFunc = func(context.Context, []streams.DataSchemaRegistration, bool) (streams.Hash, error) {
					return streams.ZeroHash, nil
				}
			},
			wantErr: domain.ErrSchemaRegistration,
		},
		{
			name: "write fails", room: "general", content: "hi",
			setup: func(c *testutil.MockStreamsClient) {
				c.SetFunc = func(context.Context, domain.Address, []streams.DataStream) (streams.Hash, error) {
					return streams.ZeroHash, testutil.ErrMockUnavailable
				}
			},
			wantErr: domain.ErrPublishFailed,
		},
		{
			name: "write without transaction", room: "general", content: "hi",
			setup: func(c *testutil.MockStreamsClient) {
				c.SetFunc = func(context.Context, domain.Address, []streams.DataStream) (streams.Hash, error) {
					return streams.ZeroHash, nil
				}
			},
			wantErr: domain.ErrPublishFailed,
		},
		{
			name: "receipt never arrives", room: "general", content: "hi",
			setup: func(c *testutil.MockStreamsClient) {
				c.IsDataSchemaRegisteredFunc = func(context.Context, streams.Hash) (bool, error) {
					return true, nil
				}
				c.WaitForTransactionReceiptFunc = func(context.Context, streams.Hash) (*streams.Receipt, error) {
					return nil, context.DeadlineExceeded
				}
			},
			wantErr: context.DeadlineExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testutil.NewMockStreamsClient()
			if tt.setup != nil {
				tt.setup(client)
			}
			bus := testutil.NewMockBus()

			result, err := newTestSender(t, client, WithNotifier(bus)).Send(context.Background(), tt.room, tt.content, "alice")

			assert.Nil(t, result)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
			assert.Empty(t, bus.PublishedEvents(), "failed sends must not be announced")
		})
	}
}

func TestSender_SchemaConfirmationTimeoutKeepsCause(t *testing.T) {
	client := testutil.NewMockStreamsClient()
	client.WaitForTransactionReceiptFunc = func(context.Context, streams.Hash) (*streams.Receipt, error) {
		return nil, context.DeadlineExceeded
	}

	_, err := newTestSender(t, client).Send(context.Background(), "general", "hi", "alice")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSchemaRegistration)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, client.WrittenStreams(), "no message should be written before the schema is confirmed")
}

func TestSender_PublishFailureKeepsCause(t *testing.T) {
	client := testutil.NewMockStreamsClient()
	client.SetFunc = func(context.Context, domain.Address, []streams.DataStream) (streams.Hash, error) {
		return streams.ZeroHash, testutil.ErrMockUnavailable
	}

	_, err := newTestSender(t, client).Send(context.Background(), "general", "hi", "alice")

	assert.ErrorIs(t, err, domain.ErrPublishFailed)
	assert.ErrorIs(t, err, testutil.ErrMockUnavailable)
}

func TestSender_RetriesSchemaAfterFailure(t *testing.T) {
	client := testutil.NewMockStreamsClient()
	fail := true
	client.RegisterDataSchemasFunc = func(context.Context, []streams.DataSchemaRegistration, bool) (streams.Hash, error) {
		if fail {
			return streams.ZeroHash, testutil.ErrMockUnavailable
		}
		return streams.Keccak256([]byte("ok")), nil
	}
	s := newTestSender(t, client)

	_, err := s.Send(context.Background(), "general", "hi", "alice")
	require.ErrorIs(t, err, domain.ErrSchemaRegistration)

	fail = false
	_, err = s.Send(context.Background(), "general", "hi", "alice")
	assert.NoError(t, err)
}

func TestSender_NotifierFailureIsNotFatal(t *testing.T) {
	bus := testutil.NewMockBus()
	bus.PublishFunc = func(context.Context, domain.RoomEvent) error { return testutil.ErrMockUnavailable }

	_, err := newTestSender(t, testutil.NewMockStreamsClient(), WithNotifier(bus)).
		Send(context.Background(), "general", "hi", "alice")

	assert.NoError(t, err)
}

func TestSender_EmptySenderNameAllowed(t *testing.T) {
	_, err := newTestSender(t, testutil.NewMockStreamsClient()).Send(context.Background(), "general", "hi", "")
	assert.NoError(t, err)
}

func TestSender_EnsureEventSchema(t *testing.T) {
	tests := []struct {
		name         string
		lookup       func(context.Context, []string) ([]streams.EventSchema, error)
		wantRegister bool
	}{
		{
			name: "already registered",
			lookup: func(context.Context, []string) ([]streams.EventSchema, error) {
				return []streams.EventSchema{streams.ChatEventSchema}, nil
			},
		},
		{
			name: "absent",
			lookup: func(context.Context, []string) ([]streams.EventSchema, error) {
				return nil, nil
			},
			wantRegister: true,
		},
		{
			name: "lookup fails",
			lookup: func(context.Context, []string) ([]streams.EventSchema, error) {
				return nil, testutil.ErrMockUnavailable
			},
			wantRegister: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testutil.NewMockStreamsClient()
			client.GetEventSchemasByIDFunc = tt.lookup

			require.NoError(t, newTestSender(t, client).EnsureEventSchema(context.Background()))

			schema, registered := client.EventSchemas[streams.ChatEventID]
			assert.Equal(t, tt.wantRegister, registered)
			if registered {
				assert.Equal(t, streams.ChatEventSchema, schema)
			}
		})
	}
}

func TestSender_EnsureEventSchemaFailure(t *testing.T) {
	client := testutil.NewMockStreamsClient()
	client.RegisterEventSchemasFunc = func(context.Context, []string, []streams.EventSchema) (streams.Hash, error) {
		return streams.ZeroHash, nil
	}

	err := newTestSender(t, client).EnsureEventSchema(context.Background())
	assert.ErrorIs(t, err, domain.ErrSchemaRegistration)
}

func TestDataID(t *testing.T) {
	short := DataID("general", 1_700_000_000_000)
	want := streams.Hash{}
	copy(want[:], "general-1700000000000")
	assert.Equal(t, want, short)

	long := DataID("a-rather-long-room-name", 1_700_000_000_000)
	assert.Equal(t, streams.Keccak256([]byte("a-rather-long-room-name-1700000000000")), long)

	assert.NotEqual(t, DataID("general", 1), DataID("general", 2))
}
