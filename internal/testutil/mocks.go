// Package testutil provides shared test utilities, mocks, and fixtures
// for testing the streamchat application.
package testutil

import (
	"context"
	"errors"
	"sync"

	"streamchat/internal/domain"
	"streamchat/internal/streams"
)

// Common test errors
var (
	ErrMockNotImplemented = errors.New("mock function not implemented")
	ErrMockUnavailable    = errors.New("mock: service unavailable")
)

// MockStreamsClient implements streams.Client for testing. Without
// overrides it behaves like a tiny in-memory streams service: Set is
// accepted, schemas are remembered and every receipt succeeds.
type MockStreamsClient struct {
	mu sync.Mutex

	// Function overrides - set these to customize behavior
	GetAllPublisherDataForSchemaFunc func(ctx context.Context, schemaID streams.Hash, publisher domain.Address) ([]streams.Row, error)
	IsDataSchemaRegisteredFunc       func(ctx context.Context, schemaID streams.Hash) (bool, error)
	RegisterDataSchemasFunc          func(ctx context.Context, schemas []streams.DataSchemaRegistration, ignore bool) (streams.Hash, error)
	GetEventSchemasByIDFunc          func(ctx context.Context, ids []string) ([]streams.EventSchema, error)
	RegisterEventSchemasFunc         func(ctx context.Context, ids []string, schemas []streams.EventSchema) (streams.Hash, error)
	SetFunc                          func(ctx context.Context, from domain.Address, data []streams.DataStream) (streams.Hash, error)
	WaitForTransactionReceiptFunc    func(ctx context.Context, txHash streams.Hash) (*streams.Receipt, error)

	// Rows returned by GetAllPublisherDataForSchema
	Rows []streams.Row

	// Recorded state
	Schemas      map[streams.Hash]streams.DataSchemaRegistration
	EventSchemas map[string]streams.EventSchema
	Writes       []streams.DataStream
	FetchCalls   int
	txCount      byte
}

// NewMockStreamsClient creates a new MockStreamsClient serving rows
func NewMockStreamsClient(rows ...streams.Row) *MockStreamsClient {
	return &MockStreamsClient{
		Rows:         rows,
		Schemas:      make(map[streams.Hash]streams.DataSchemaRegistration),
		EventSchemas: make(map[string]streams.EventSchema),
	}
}

// SetRows replaces the rows returned by later fetches
func (m *MockStreamsClient) SetRows(rows ...streams.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rows = rows
}

// SetFetchError makes later fetches fail with err; nil restores the rows
func (m *MockStreamsClient) SetFetchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.GetAllPublisherDataForSchemaFunc = nil
		return
	}
	m.GetAllPublisherDataForSchemaFunc = func(context.Context, streams.Hash, domain.Address) ([]streams.Row, error) {
		return nil, err
	}
}

// Fetches returns how many times GetAllPublisherDataForSchema ran
func (m *MockStreamsClient) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FetchCalls
}

// WrittenStreams returns a copy of every data stream passed to Set
func (m *MockStreamsClient) WrittenStreams() []streams.DataStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]streams.DataStream(nil), m.Writes...)
}

func (m *MockStreamsClient) nextTx() streams.Hash {
	m.txCount++
	var h streams.Hash
	h[0] = 0x7c
	h[streams.HashLength-1] = m.txCount
	return h
}

func (m *MockStreamsClient) GetAllPublisherDataForSchema(ctx context.Context, schemaID streams.Hash, publisher domain.Address) ([]streams.Row, error) {
	m.mu.Lock()
	m.FetchCalls++
	fn := m.GetAllPublisherDataForSchemaFunc
	rows := append([]streams.Row(nil), m.Rows...)
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, schemaID, publisher)
	}
	return rows, nil
}

func (m *MockStreamsClient) IsDataSchemaRegistered(ctx context.Context, schemaID streams.Hash) (bool, error) {
	if m.IsDataSchemaRegisteredFunc != nil {
		return m.IsDataSchemaRegisteredFunc(ctx, schemaID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Schemas[schemaID]
	return ok, nil
}

func (m *MockStreamsClient) RegisterDataSchemas(ctx context.Context, schemas []streams.DataSchemaRegistration, ignore bool) (streams.Hash, error) {
	if m.RegisterDataSchemasFunc != nil {
		return m.RegisterDataSchemasFunc(ctx, schemas, ignore)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range schemas {
		m.Schemas[streams.ComputeSchemaID(s.Schema)] = s
	}
	return m.nextTx(), nil
}

func (m *MockStreamsClient) GetEventSchemasByID(ctx context.Context, ids []string) ([]streams.EventSchema, error) {
	if m.GetEventSchemasByIDFunc != nil {
		return m.GetEventSchemasByIDFunc(ctx, ids)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []streams.EventSchema
	for _, id := range ids {
		if s, ok := m.EventSchemas[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MockStreamsClient) RegisterEventSchemas(ctx context.Context, ids []string, schemas []streams.EventSchema) (streams.Hash, error) {
	if m.RegisterEventSchemasFunc != nil {
		return m.RegisterEventSchemasFunc(ctx, ids, schemas)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		m.EventSchemas[id] = schemas[i]
	}
	return m.nextTx(), nil
}

func (m *MockStreamsClient) Set(ctx context.Context, from domain.Address, data []streams.DataStream) (streams.Hash, error) {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, from, data)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes = append(m.Writes, data...)
	return m.nextTx(), nil
}

func (m *MockStreamsClient) WaitForTransactionReceipt(ctx context.Context, txHash streams.Hash) (*streams.Receipt, error) {
	if m.WaitForTransactionReceiptFunc != nil {
		return m.WaitForTransactionReceiptFunc(ctx, txHash)
	}
	return &streams.Receipt{TxHash: txHash, BlockNumber: 1, Status: streams.ReceiptStatusSuccess}, nil
}

// MockBus implements messaging.Bus for testing
type MockBus struct {
	mu sync.Mutex

	PublishFunc func(ctx context.Context, event domain.RoomEvent) error
	PingErr     error

	Published []domain.RoomEvent
	Closed    bool
	events    chan domain.RoomEvent
}

// NewMockBus creates a MockBus whose subscribers receive events passed to Emit
func NewMockBus() *MockBus {
	return &MockBus{events: make(chan domain.RoomEvent, 16)}
}

// Emit delivers event to the subscriber
func (m *MockBus) Emit(event domain.RoomEvent) {
	m.events <- event
}

// PublishedEvents returns a copy of every published event
func (m *MockBus) PublishedEvents() []domain.RoomEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.RoomEvent(nil), m.Published...)
}

func (m *MockBus) PublishRoomEvent(ctx context.Context, event domain.RoomEvent) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, event)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, event)
	return nil
}

func (m *MockBus) Subscribe(ctx context.Context) (<-chan domain.RoomEvent, error) {
	return m.events, nil
}

func (m *MockBus) Ping(ctx context.Context) error {
	return m.PingErr
}

func (m *MockBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// MockRoomNotifier records NotifyRoom calls
type MockRoomNotifier struct {
	mu    sync.Mutex
	Rooms []domain.RoomID
}

func (m *MockRoomNotifier) NotifyRoom(roomID domain.RoomID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rooms = append(m.Rooms, roomID)
	return 1
}

// Notified returns a copy of the notified rooms
func (m *MockRoomNotifier) Notified() []domain.RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.RoomID(nil), m.Rooms...)
}
