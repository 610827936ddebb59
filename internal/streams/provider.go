package streams

import (
	"context"
	"sync"

	"streamchat/internal/domain"
)

// Factory constructs a Client
type Factory func() (Client, error)

// Provider constructs a Client on first use and reuses it for the life of
// the process. A failed construction is retried on the next call. Provider
// itself implements Client by delegating to the shared instance.
type Provider struct {
	factory Factory

	mu     sync.Mutex
	client Client
}

// NewProvider creates a provider backed by factory
func NewProvider(factory Factory) *Provider {
	return &Provider{factory: factory}
}

// Client returns the shared client, constructing it if needed
func (p *Provider) Client() (Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	client, err := p.factory()
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}

func (p *Provider) GetAllPublisherDataForSchema(ctx context.Context, schemaID Hash, publisher domain.Address) ([]Row, error) {
	client, err := p.Client()
	if err != nil {
		return nil, err
	}
	return client.GetAllPublisherDataForSchema(ctx, schemaID, publisher)
}

func (p *Provider) IsDataSchemaRegistered(ctx context.Context, schemaID Hash) (bool, error) {
	client, err := p.Client()
	if err != nil {
		return false, err
	}
	return client.IsDataSchemaRegistered(ctx, schemaID)
}

func (p *Provider) RegisterDataSchemas(ctx context.Context, schemas []DataSchemaRegistration, ignoreAlreadyRegistered bool) (Hash, error) {
	client, err := p.Client()
	if err != nil {
		return ZeroHash, err
	}
	return client.RegisterDataSchemas(ctx, schemas, ignoreAlreadyRegistered)
}

func (p *Provider) GetEventSchemasByID(ctx context.Context, ids []string) ([]EventSchema, error) {
	client, err := p.Client()
	if err != nil {
		return nil, err
	}
	return client.GetEventSchemasByID(ctx, ids)
}

func (p *Provider) RegisterEventSchemas(ctx context.Context, ids []string, schemas []EventSchema) (Hash, error) {
	client, err := p.Client()
	if err != nil {
		return ZeroHash, err
	}
	return client.RegisterEventSchemas(ctx, ids, schemas)
}

func (p *Provider) Set(ctx context.Context, from domain.Address, streams []DataStream) (Hash, error) {
	client, err := p.Client()
	if err != nil {
		return ZeroHash, err
	}
	return client.Set(ctx, from, streams)
}

func (p *Provider) WaitForTransactionReceipt(ctx context.Context, txHash Hash) (*Receipt, error) {
	client, err := p.Client()
	if err != nil {
		return nil, err
	}
	return client.WaitForTransactionReceipt(ctx, txHash)
}
