package streams

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"streamchat/internal/domain"
	"streamchat/internal/observability"
)

const (
	MethodGetAllPublisherDataForSchema = "streams_getAllPublisherDataForSchema"
	MethodIsDataSchemaRegistered       = "streams_isDataSchemaRegistered"
	MethodRegisterDataSchemas          = "streams_registerDataSchemas"
	MethodGetEventSchemasByID          = "streams_getEventSchemasById"
	MethodRegisterEventSchemas         = "streams_registerEventSchemas"
	MethodSet                          = "streams_set"
	MethodGetTransactionReceipt        = "eth_getTransactionReceipt"
)

const (
	defaultHTTPTimeout         = 10 * time.Second
	defaultReceiptPollInterval = time.Second
	maxResponseSize            = 32 << 20
)

var ErrUnexpectedStatus = errors.New("unexpected status code from streams rpc")

// RPCError is an error object returned by the streams service
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Request is a JSON-RPC 2.0 request envelope
type Request struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      uint64            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCClientOption configures an RPCClient
type RPCClientOption func(*RPCClient)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) RPCClientOption {
	return func(c *RPCClient) {
		c.httpClient = hc
	}
}

// WithReceiptPollInterval sets how often receipts are polled while waiting
func WithReceiptPollInterval(d time.Duration) RPCClientOption {
	return func(c *RPCClient) {
		if d > 0 {
			c.receiptPollInterval = d
		}
	}
}

// RPCClient implements Client over JSON-RPC 2.0 on HTTP POST
type RPCClient struct {
	url                 string
	httpClient          *http.Client
	receiptPollInterval time.Duration
	nextID              atomic.Uint64
}

// NewRPCClient creates a client for the streams service at url
func NewRPCClient(url string, opts ...RPCClientOption) *RPCClient {
	c := &RPCClient{
		url: url,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		receiptPollInterval: defaultReceiptPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call invokes method with params and decodes the result into out.
// A nil out discards the result.
func (c *RPCClient) Call(ctx context.Context, out any, method string, params ...any) error {
	start := time.Now()
	err := c.call(ctx, out, method, params)

	result := "success"
	if err != nil {
		result = "error"
	}
	observability.RPCCallDuration.WithLabelValues(method, result).Observe(time.Since(start).Seconds())
	return err
}

func (c *RPCClient) call(ctx context.Context, out any, method string, params []any) error {
	encoded := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal %s params: %w", method, err)
		}
		encoded = append(encoded, raw)
	}

	body, err := json.Marshal(Request{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  encoded,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize))
	dec.UseNumber()

	var rpcResp Response
	if err := dec.Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}

	resultDec := json.NewDecoder(bytes.NewReader(rpcResp.Result))
	resultDec.UseNumber()
	if err := resultDec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// GetAllPublisherDataForSchema returns every row publisher wrote under schemaID.
// Numbers inside rows are decoded as json.Number.
func (c *RPCClient) GetAllPublisherDataForSchema(ctx context.Context, schemaID Hash, publisher domain.Address) ([]Row, error) {
	var rows []Row
	if err := c.Call(ctx, &rows, MethodGetAllPublisherDataForSchema, schemaID, publisher); err != nil {
		return nil, err
	}
	return rows, nil
}

// IsDataSchemaRegistered reports whether schemaID is known to the service
func (c *RPCClient) IsDataSchemaRegistered(ctx context.Context, schemaID Hash) (bool, error) {
	var registered bool
	if err := c.Call(ctx, &registered, MethodIsDataSchemaRegistered, schemaID); err != nil {
		return false, err
	}
	return registered, nil
}

// RegisterDataSchemas registers schemas and returns the transaction hash.
// A zero hash means the service accepted no transaction.
func (c *RPCClient) RegisterDataSchemas(ctx context.Context, schemas []DataSchemaRegistration, ignoreAlreadyRegistered bool) (Hash, error) {
	return c.callForHash(ctx, MethodRegisterDataSchemas, schemas, ignoreAlreadyRegistered)
}

// GetEventSchemasByID returns the event schemas registered under ids
func (c *RPCClient) GetEventSchemasByID(ctx context.Context, ids []string) ([]EventSchema, error) {
	var schemas []EventSchema
	if err := c.Call(ctx, &schemas, MethodGetEventSchemasByID, ids); err != nil {
		return nil, err
	}
	return schemas, nil
}

// RegisterEventSchemas registers event schemas under ids
func (c *RPCClient) RegisterEventSchemas(ctx context.Context, ids []string, schemas []EventSchema) (Hash, error) {
	return c.callForHash(ctx, MethodRegisterEventSchemas, ids, schemas)
}

// Set writes data streams on behalf of from
func (c *RPCClient) Set(ctx context.Context, from domain.Address, streams []DataStream) (Hash, error) {
	return c.callForHash(ctx, MethodSet, from, streams)
}

// GetTransactionReceipt returns the receipt of txHash, or nil if it is still pending
func (c *RPCClient) GetTransactionReceipt(ctx context.Context, txHash Hash) (*Receipt, error) {
	var receipt *Receipt
	if err := c.Call(ctx, &receipt, MethodGetTransactionReceipt, txHash); err != nil {
		return nil, err
	}
	return receipt, nil
}

// WaitForTransactionReceipt polls until txHash has a receipt. Reverted
// transactions are reported as errors. Timeouts come from ctx.
func (c *RPCClient) WaitForTransactionReceipt(ctx context.Context, txHash Hash) (*Receipt, error) {
	ticker := time.NewTicker(c.receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.GetTransactionReceipt(ctx, txHash)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			if !receipt.Succeeded() {
				return receipt, fmt.Errorf("transaction %s %s", txHash.Hex(), receipt.Status)
			}
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to wait for receipt of %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *RPCClient) callForHash(ctx context.Context, method string, params ...any) (Hash, error) {
	var hash *Hash
	if err := c.Call(ctx, &hash, method, params...); err != nil {
		return ZeroHash, err
	}
	if hash == nil {
		return ZeroHash, nil
	}
	return *hash, nil
}

// Ping checks that the service answers a cheap read
func (c *RPCClient) Ping(ctx context.Context) error {
	_, err := c.IsDataSchemaRegistered(ctx, ComputeSchemaID(ChatSchema))
	return err
}
