// Package streams is the client side of the data-streams service: the wire
// types, the schema encoder and the JSON-RPC transport used by the chat
// read and write paths.
package streams

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"streamchat/internal/domain"
)

// HashLength is the width of schema ids, data ids and transaction hashes
const HashLength = 32

// Hash is a 32-byte identifier rendered as 0x-prefixed hex
type Hash [HashLength]byte

// ZeroHash is used as the parent schema id of root schemas
var ZeroHash Hash

// ParseHash parses a 0x-prefixed hex string
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != HashLength*2 {
		return h, fmt.Errorf("invalid hash %q: expected %d hex characters", s, HashLength*2)
	}
	if _, err := hex.Decode(h[:], []byte(raw)); err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return h, nil
}

// Hex returns the lower-case 0x-prefixed hex form
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) String() string {
	return h.Hex()
}

// IsZero reports whether h is the zero hash
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// MarshalText implements encoding.TextMarshaler
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// HexBytes is a byte slice rendered as 0x-prefixed hex
type HexBytes []byte

// MarshalText implements encoding.TextMarshaler
func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte("0x" + hex.EncodeToString(b)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (b *HexBytes) UnmarshalText(text []byte) error {
	raw := strings.TrimPrefix(strings.TrimPrefix(string(text), "0x"), "0X")
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("invalid hex bytes: %w", err)
	}
	*b = decoded
	return nil
}

// Field is one named, typed value of an encoded record
type Field struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Row is one record as returned by the service: an ordered list of field
// values, each either a direct value or a nested {"value": ...} container.
type Row []any

// DataStream is one record to be written under a schema
type DataStream struct {
	ID       Hash     `json:"id"`
	SchemaID Hash     `json:"schemaId"`
	Data     HexBytes `json:"data"`
}

// DataSchemaRegistration registers a data schema under a human-readable id
type DataSchemaRegistration struct {
	ID             string `json:"id"`
	Schema         string `json:"schema"`
	ParentSchemaID Hash   `json:"parentSchemaId"`
}

// EventParameter describes one parameter of an event schema
type EventParameter struct {
	Name      string `json:"name"`
	ParamType string `json:"paramType"`
	IsIndexed bool   `json:"isIndexed"`
}

// EventSchema describes an event emitted alongside data writes
type EventSchema struct {
	Params     []EventParameter `json:"params"`
	EventTopic string           `json:"eventTopic"`
}

// Receipt confirms that a transaction has been included
type Receipt struct {
	TxHash      Hash   `json:"transactionHash"`
	BlockNumber uint64 `json:"blockNumber"`
	Status      string `json:"status"`
}

// Succeeded reports whether the transaction was applied
func (r *Receipt) Succeeded() bool {
	return r.Status == ReceiptStatusSuccess
}

const (
	ReceiptStatusSuccess  = "success"
	ReceiptStatusReverted = "reverted"
)

// RecordSource returns every record a publisher has written under a schema.
// No pagination contract is assumed.
type RecordSource interface {
	GetAllPublisherDataForSchema(ctx context.Context, schemaID Hash, publisher domain.Address) ([]Row, error)
}

// SchemaRegistry registers and looks up data and event schemas
type SchemaRegistry interface {
	IsDataSchemaRegistered(ctx context.Context, schemaID Hash) (bool, error)
	RegisterDataSchemas(ctx context.Context, schemas []DataSchemaRegistration, ignoreAlreadyRegistered bool) (Hash, error)
	GetEventSchemasByID(ctx context.Context, ids []string) ([]EventSchema, error)
	RegisterEventSchemas(ctx context.Context, ids []string, schemas []EventSchema) (Hash, error)
}

// Writer appends encoded records on behalf of an account
type Writer interface {
	Set(ctx context.Context, from domain.Address, streams []DataStream) (Hash, error)
}

// ReceiptWaiter blocks until a transaction is confirmed or ctx is done
type ReceiptWaiter interface {
	WaitForTransactionReceipt(ctx context.Context, txHash Hash) (*Receipt, error)
}

// Client is the full surface of the streams service used by this repository
type Client interface {
	RecordSource
	SchemaRegistry
	Writer
	ReceiptWaiter
}
