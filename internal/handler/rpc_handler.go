package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"streamchat/internal/domain"
	"streamchat/internal/streams"
)

// JSON-RPC 2.0 error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
)

const maxRPCBodySize = 4 << 20

// Ledger is the server side of the streams service
type Ledger interface {
	GetAllPublisherDataForSchema(ctx context.Context, schemaID streams.Hash, publisher domain.Address) ([]streams.Row, error)
	IsDataSchemaRegistered(ctx context.Context, schemaID streams.Hash) (bool, error)
	RegisterDataSchemas(ctx context.Context, schemas []streams.DataSchemaRegistration, ignoreAlreadyRegistered bool) (streams.Hash, error)
	GetEventSchemasByID(ctx context.Context, ids []string) ([]streams.EventSchema, error)
	RegisterEventSchemas(ctx context.Context, ids []string, schemas []streams.EventSchema) (streams.Hash, error)
	Set(ctx context.Context, from domain.Address, streams []streams.DataStream) (streams.Hash, error)
	GetTransactionReceipt(ctx context.Context, txHash streams.Hash) (*streams.Receipt, error)
}

// RPCHandler serves the streams JSON-RPC methods over a Ledger
type RPCHandler struct {
	ledger Ledger
}

// NewRPCHandler creates a new JSON-RPC handler
func NewRPCHandler(ledger Ledger) *RPCHandler {
	return &RPCHandler{ledger: ledger}
}

type rpcMethod func(ctx context.Context, params []json.RawMessage) (any, error)

// invalidParamsError marks errors caused by the caller's arguments
type invalidParamsError struct {
	err error
}

func (e *invalidParamsError) Error() string { return e.err.Error() }

func (e *invalidParamsError) Unwrap() error { return e.err }

// ServeHTTP handles one JSON-RPC request
func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req streams.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRPCBodySize)).Decode(&req); err != nil {
		writeRPC(w, streams.Response{
			JSONRPC: "2.0",
			Error:   &streams.RPCError{Code: CodeParseError, Message: "parse error"},
		})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPC(w, streams.Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &streams.RPCError{Code: CodeInvalidRequest, Message: "invalid request"},
		})
		return
	}

	method, ok := h.methods()[req.Method]
	if !ok {
		writeRPC(w, streams.Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &streams.RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %s not found", req.Method)},
		})
		return
	}

	result, err := method(r.Context(), req.Params)
	if err != nil {
		code := CodeServerError
		var paramsErr *invalidParamsError
		if errors.As(err, &paramsErr) || errors.Is(err, domain.ErrInvalidInput) {
			code = CodeInvalidParams
		}
		slog.Warn("rpc call failed",
			slog.String("method", req.Method),
			slog.Int("code", code),
			slog.String("error", err.Error()))
		writeRPC(w, streams.Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &streams.RPCError{Code: code, Message: err.Error()},
		})
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		writeRPC(w, streams.Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &streams.RPCError{Code: CodeServerError, Message: "failed to encode result"},
		})
		return
	}
	writeRPC(w, streams.Response{JSONRPC: "2.0", ID: req.ID, Result: raw})
}

func (h *RPCHandler) methods() map[string]rpcMethod {
	return map[string]rpcMethod{
		streams.MethodGetAllPublisherDataForSchema: h.getAllPublisherDataForSchema,
		streams.MethodIsDataSchemaRegistered:       h.isDataSchemaRegistered,
		streams.MethodRegisterDataSchemas:          h.registerDataSchemas,
		streams.MethodGetEventSchemasByID:          h.getEventSchemasByID,
		streams.MethodRegisterEventSchemas:         h.registerEventSchemas,
		streams.MethodSet:                          h.set,
		streams.MethodGetTransactionReceipt:        h.getTransactionReceipt,
	}
}

func (h *RPCHandler) getAllPublisherDataForSchema(ctx context.Context, params []json.RawMessage) (any, error) {
	var schemaID streams.Hash
	var publisher domain.Address
	if err := decodeParams(params, &schemaID, &publisher); err != nil {
		return nil, err
	}
	rows, err := h.ledger.GetAllPublisherDataForSchema(ctx, schemaID, publisher)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []streams.Row{}
	}
	return rows, nil
}

func (h *RPCHandler) isDataSchemaRegistered(ctx context.Context, params []json.RawMessage) (any, error) {
	var schemaID streams.Hash
	if err := decodeParams(params, &schemaID); err != nil {
		return nil, err
	}
	return h.ledger.IsDataSchemaRegistered(ctx, schemaID)
}

func (h *RPCHandler) registerDataSchemas(ctx context.Context, params []json.RawMessage) (any, error) {
	var schemas []streams.DataSchemaRegistration
	var ignore bool
	if err := decodeParams(params, &schemas, &ignore); err != nil {
		return nil, err
	}
	return hashResult(h.ledger.RegisterDataSchemas(ctx, schemas, ignore))
}

func (h *RPCHandler) getEventSchemasByID(ctx context.Context, params []json.RawMessage) (any, error) {
	var ids []string
	if err := decodeParams(params, &ids); err != nil {
		return nil, err
	}
	schemas, err := h.ledger.GetEventSchemasByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	if schemas == nil {
		schemas = []streams.EventSchema{}
	}
	return schemas, nil
}

func (h *RPCHandler) registerEventSchemas(ctx context.Context, params []json.RawMessage) (any, error) {
	var ids []string
	var schemas []streams.EventSchema
	if err := decodeParams(params, &ids, &schemas); err != nil {
		return nil, err
	}
	return hashResult(h.ledger.RegisterEventSchemas(ctx, ids, schemas))
}

func (h *RPCHandler) set(ctx context.Context, params []json.RawMessage) (any, error) {
	var from domain.Address
	var dataStreams []streams.DataStream
	if err := decodeParams(params, &from, &dataStreams); err != nil {
		return nil, err
	}
	return hashResult(h.ledger.Set(ctx, from, dataStreams))
}

func (h *RPCHandler) getTransactionReceipt(ctx context.Context, params []json.RawMessage) (any, error) {
	var txHash streams.Hash
	if err := decodeParams(params, &txHash); err != nil {
		return nil, err
	}
	receipt, err := h.ledger.GetTransactionReceipt(ctx, txHash)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// hashResult returns null for the zero hash
func hashResult(hash streams.Hash, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if hash.IsZero() {
		return nil, nil
	}
	return hash, nil
}

func decodeParams(params []json.RawMessage, dst ...any) error {
	if len(params) != len(dst) {
		return &invalidParamsError{fmt.Errorf("expected %d params, got %d", len(dst), len(params))}
	}
	for i, raw := range params {
		if err := json.Unmarshal(raw, dst[i]); err != nil {
			return &invalidParamsError{fmt.Errorf("invalid param %d: %w", i, err)}
		}
	}
	return nil
}

func writeRPC(w http.ResponseWriter, resp streams.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
