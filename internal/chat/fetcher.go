package chat

import (
	"context"
	"fmt"

	"streamchat/internal/domain"
	"streamchat/internal/streams"
)

// Fetcher runs the fetch, parse and filter stages of the read path against
// the full history a publisher has written under the chat schema.
type Fetcher struct {
	source    streams.RecordSource
	schemaID  streams.Hash
	publisher domain.Address
}

// NewFetcher creates a fetcher reading publisher's chat records from source
func NewFetcher(source streams.RecordSource, publisher domain.Address) *Fetcher {
	return &Fetcher{
		source:    source,
		schemaID:  streams.ComputeSchemaID(streams.ChatSchema),
		publisher: publisher,
	}
}

// Fetch returns the parsed records that match filter, in source order
func (f *Fetcher) Fetch(ctx context.Context, filter RoomFilter) ([]domain.MessageRecord, error) {
	rows, err := f.source.GetAllPublisherDataForSchema(ctx, f.schemaID, f.publisher)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return filter.Apply(ParseRows(rows)), nil
}

// Load runs one stateless pass of the read path: fetch, filter and
// reconcile into an empty window of the given size.
func (f *Fetcher) Load(ctx context.Context, room string, limit int) ([]domain.MessageRecord, error) {
	filter, err := NewRoomFilter(room)
	if err != nil {
		return nil, err
	}
	incoming, err := f.Fetch(ctx, filter)
	if err != nil {
		return nil, err
	}
	return Reconcile(nil, incoming, limit), nil
}
