package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamchat/internal/domain"
	"streamchat/internal/streams"
	"streamchat/internal/testutil"
)

func TestFetcher_Fetch(t *testing.T) {
	publisher := testutil.TestAddress(0x42)
	general := testutil.NewTestMessages("general", 2)
	random := testutil.NewTestMessage(testutil.WithRoom("random"))

	source := testutil.NewMockStreamsClient(testutil.Rows(general[0], random, general[1])...)
	source.Rows = append(source.Rows, streams.Row{"broken"})

	var gotSchema streams.Hash
	var gotPublisher domain.Address
	source.GetAllPublisherDataForSchemaFunc = func(ctx context.Context, schemaID streams.Hash, p domain.Address) ([]streams.Row, error) {
		gotSchema, gotPublisher = schemaID, p
		return source.Rows, nil
	}

	fetcher := NewFetcher(source, publisher)
	filter, err := NewRoomFilter("general")
	require.NoError(t, err)

	got, err := fetcher.Fetch(context.Background(), filter)
	require.NoError(t, err)

	assert.Equal(t, general, got)
	assert.Equal(t, streams.ComputeSchemaID(streams.ChatSchema), gotSchema)
	assert.Equal(t, publisher, gotPublisher)
}

func TestFetcher_FetchError(t *testing.T) {
	source := testutil.NewMockStreamsClient()
	source.SetFetchError(testutil.ErrMockUnavailable)

	_, err := NewFetcher(source, testutil.TestAddress(1)).Fetch(context.Background(), RoomFilter{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, testutil.ErrMockUnavailable))
	assert.Contains(t, err.Error(), "failed to fetch messages")
}

func TestFetcher_Load(t *testing.T) {
	msgs := testutil.NewTestMessages("general", 5)
	// Service order is not chronological
	rows := testutil.Rows(msgs[4], msgs[0], msgs[3], msgs[1], msgs[2], msgs[2])
	fetcher := NewFetcher(testutil.NewMockStreamsClient(rows...), testutil.TestAddress(1))

	got, err := fetcher.Load(context.Background(), "general", 3)
	require.NoError(t, err)

	assert.Equal(t, msgs[2:], got)
}

func TestFetcher_LoadRoomTooLong(t *testing.T) {
	source := testutil.NewMockStreamsClient()
	fetcher := NewFetcher(source, testutil.TestAddress(1))

	_, err := fetcher.Load(context.Background(), strings.Repeat("r", 40), 10)

	assert.ErrorIs(t, err, domain.ErrRoomNameTooLong)
	assert.Equal(t, 0, source.Fetches(), "no fetch for an invalid room")
}
