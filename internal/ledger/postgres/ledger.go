// Package postgres stores schemas, records and transactions of the
// development streams node in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"streamchat/internal/domain"
	"streamchat/internal/observability"
	"streamchat/internal/streams"
)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ledger implements the streams service methods on top of PostgreSQL. Every
// write is committed together with its transaction row.
type Ledger struct {
	db *sql.DB
	tx *TxManager

	// schema id -> *streams.SchemaEncoder
	encoders sync.Map
}

// NewLedger creates a ledger on db; call Migrate first
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{
		db: db,
		tx: NewTxManager(db),
	}
}

func observe(operation, table string, start time.Time) {
	observability.DBQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
}

// GetAllPublisherDataForSchema decodes every record publisher wrote under
// schemaID, oldest first. Each field is returned as
// {"name","type","value":{"name","type","value"}}.
func (l *Ledger) GetAllPublisherDataForSchema(ctx context.Context, schemaID streams.Hash, publisher domain.Address) ([]streams.Row, error) {
	encoder, err := l.encoder(ctx, l.db, schemaID)
	if err != nil {
		return nil, err
	}

	defer observe("select", "data_records", time.Now())

	query := `
		SELECT data_id, data
		FROM data_records
		WHERE publisher = $1 AND schema_id = $2
		ORDER BY id ASC
	`
	rows, err := l.db.QueryContext(ctx, query, publisher[:], schemaID[:])
	if err != nil {
		return nil, fmt.Errorf("failed to query data records: %w", err)
	}
	defer rows.Close()

	result := make([]streams.Row, 0)
	for rows.Next() {
		var dataID, data []byte
		if err := rows.Scan(&dataID, &data); err != nil {
			return nil, fmt.Errorf("failed to scan data record: %w", err)
		}

		fields, err := encoder.DecodeData(data)
		if err != nil {
			slog.Warn("skipping undecodable record",
				slog.String("schema_id", schemaID.Hex()),
				slog.String("error", err.Error()))
			continue
		}

		row := make(streams.Row, len(fields))
		for i, f := range fields {
			row[i] = streams.Field{Name: f.Name, Type: f.Type, Value: f}
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating data records: %w", err)
	}
	return result, nil
}

// IsDataSchemaRegistered reports whether schemaID is known
func (l *Ledger) IsDataSchemaRegistered(ctx context.Context, schemaID streams.Hash) (bool, error) {
	defer observe("select", "data_schemas", time.Now())

	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM data_schemas WHERE schema_id = $1)`
	if err := l.db.QueryRowContext(ctx, query, schemaID[:]).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check data schema: %w", err)
	}
	return exists, nil
}

// RegisterDataSchemas registers schemas under their Keccak-256 ids in one
// transaction. Already registered schemas fail the whole call unless
// ignoreAlreadyRegistered is set.
func (l *Ledger) RegisterDataSchemas(ctx context.Context, schemas []streams.DataSchemaRegistration, ignoreAlreadyRegistered bool) (streams.Hash, error) {
	if len(schemas) == 0 {
		return streams.ZeroHash, fmt.Errorf("%w: no schemas", domain.ErrInvalidInput)
	}
	for _, s := range schemas {
		if _, err := streams.ParseSchema(s.Schema); err != nil {
			return streams.ZeroHash, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
	}

	defer observe("insert", "data_schemas", time.Now())

	return l.tx.Write(ctx, ledgerWrite{
		method:  streams.MethodRegisterDataSchemas,
		from:    domain.ZeroAddress,
		payload: schemas,
		apply: func(tx *sql.Tx, hash streams.Hash) error {
			return insertDataSchemas(ctx, tx, hash, schemas, ignoreAlreadyRegistered)
		},
	})
}

func insertDataSchemas(ctx context.Context, tx *sql.Tx, hash streams.Hash, schemas []streams.DataSchemaRegistration, ignoreAlreadyRegistered bool) error {
	query := `
		INSERT INTO data_schemas (schema_id, name, schema, parent_schema_id, tx_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (schema_id) DO NOTHING
	`
	for _, s := range schemas {
		id := streams.ComputeSchemaID(s.Schema)
		res, err := tx.ExecContext(ctx, query, id[:], s.ID, s.Schema, s.ParentSchemaID[:], hash[:])
		if err != nil {
			return fmt.Errorf("failed to insert data schema: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 && !ignoreAlreadyRegistered {
			return fmt.Errorf("%w: %s", ErrSchemaAlreadyRegistered, id.Hex())
		}
	}
	return nil
}

// GetEventSchemasByID returns the event schemas registered under ids, in the
// order of ids. Unknown ids are left out.
func (l *Ledger) GetEventSchemasByID(ctx context.Context, ids []string) ([]streams.EventSchema, error) {
	defer observe("select", "event_schemas", time.Now())

	query := `
		SELECT event_id, event_topic, params
		FROM event_schemas
		WHERE event_id = ANY($1)
	`
	rows, err := l.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query event schemas: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]streams.EventSchema, len(ids))
	for rows.Next() {
		var (
			id     string
			schema streams.EventSchema
			params []byte
		)
		if err := rows.Scan(&id, &schema.EventTopic, &params); err != nil {
			return nil, fmt.Errorf("failed to scan event schema: %w", err)
		}
		if err := json.Unmarshal(params, &schema.Params); err != nil {
			return nil, fmt.Errorf("failed to decode event params of %s: %w", id, err)
		}
		byID[id] = schema
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event schemas: %w", err)
	}

	schemas := make([]streams.EventSchema, 0, len(byID))
	for _, id := range ids {
		if schema, ok := byID[id]; ok {
			schemas = append(schemas, schema)
		}
	}
	return schemas, nil
}

// RegisterEventSchemas registers schemas[i] under ids[i]
func (l *Ledger) RegisterEventSchemas(ctx context.Context, ids []string, schemas []streams.EventSchema) (streams.Hash, error) {
	if len(ids) != len(schemas) {
		return streams.ZeroHash, ErrMismatchedEventSchemas
	}
	if len(ids) == 0 {
		return streams.ZeroHash, fmt.Errorf("%w: no event schemas", domain.ErrInvalidInput)
	}

	defer observe("insert", "event_schemas", time.Now())

	return l.tx.Write(ctx, ledgerWrite{
		method:  streams.MethodRegisterEventSchemas,
		from:    domain.ZeroAddress,
		payload: schemas,
		apply: func(tx *sql.Tx, hash streams.Hash) error {
			return insertEventSchemas(ctx, tx, hash, ids, schemas)
		},
	})
}

func insertEventSchemas(ctx context.Context, tx *sql.Tx, hash streams.Hash, ids []string, schemas []streams.EventSchema) error {
	query := `
		INSERT INTO event_schemas (event_id, event_topic, params, tx_hash)
		VALUES ($1, $2, $3, $4)
	`
	for i, schema := range schemas {
		params, err := json.Marshal(schema.Params)
		if err != nil {
			return fmt.Errorf("failed to encode event params: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, ids[i], schema.EventTopic, params, hash[:]); err != nil {
			if IsUniqueViolation(err, "event_schemas_pkey") {
				return fmt.Errorf("%w: %s", ErrEventSchemaExists, ids[i])
			}
			return fmt.Errorf("failed to insert event schema: %w", err)
		}
	}
	return nil
}

// Set writes data streams for from. Writing an existing data id under the
// same schema replaces its payload. Payloads must decode under their schema.
func (l *Ledger) Set(ctx context.Context, from domain.Address, dataStreams []streams.DataStream) (streams.Hash, error) {
	if len(dataStreams) == 0 {
		return streams.ZeroHash, fmt.Errorf("%w: no data streams", domain.ErrInvalidInput)
	}

	defer observe("insert", "data_records", time.Now())

	txHash, err := l.tx.Write(ctx, ledgerWrite{
		method:  streams.MethodSet,
		from:    from,
		payload: dataStreams,
		check: func(tx *sql.Tx) error {
			return l.checkPayloads(ctx, tx, dataStreams)
		},
		apply: func(tx *sql.Tx, hash streams.Hash) error {
			return insertDataRecords(ctx, tx, hash, from, dataStreams)
		},
	})
	if err != nil {
		return streams.ZeroHash, err
	}

	slog.Debug("data streams written",
		slog.String("publisher", from.Hex()),
		slog.Int("count", len(dataStreams)),
		slog.String("tx_hash", txHash.Hex()))
	return txHash, nil
}

// checkPayloads rejects payloads that do not decode under their schema
func (l *Ledger) checkPayloads(ctx context.Context, tx *sql.Tx, dataStreams []streams.DataStream) error {
	for _, ds := range dataStreams {
		encoder, err := l.encoder(ctx, tx, ds.SchemaID)
		if err != nil {
			return err
		}
		if _, err := encoder.DecodeData(ds.Data); err != nil {
			return fmt.Errorf("%w: record %s: %w", domain.ErrInvalidInput, ds.ID.Hex(), err)
		}
	}
	return nil
}

func insertDataRecords(ctx context.Context, tx *sql.Tx, hash streams.Hash, from domain.Address, dataStreams []streams.DataStream) error {
	query := `
		INSERT INTO data_records (publisher, schema_id, data_id, data, tx_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ON CONSTRAINT data_records_publisher_schema_data_key
		DO UPDATE SET data = EXCLUDED.data, tx_hash = EXCLUDED.tx_hash
	`
	for _, ds := range dataStreams {
		if _, err := tx.ExecContext(ctx, query, from[:], ds.SchemaID[:], ds.ID[:], []byte(ds.Data), hash[:]); err != nil {
			if IsForeignKeyViolation(err, "") {
				return fmt.Errorf("%w: %s", ErrSchemaNotRegistered, ds.SchemaID.Hex())
			}
			return fmt.Errorf("failed to insert data record: %w", err)
		}
	}
	return nil
}

// GetTransactionReceipt returns the receipt of txHash or domain.ErrNotFound
func (l *Ledger) GetTransactionReceipt(ctx context.Context, txHash streams.Hash) (*streams.Receipt, error) {
	defer observe("select", "transactions", time.Now())

	receipt := &streams.Receipt{TxHash: txHash}
	query := `SELECT block_number, status FROM transactions WHERE hash = $1`
	err := l.db.QueryRowContext(ctx, query, txHash[:]).Scan(&receipt.BlockNumber, &receipt.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return receipt, nil
}

// encoder returns the cached encoder of a registered schema
func (l *Ledger) encoder(ctx context.Context, q querier, schemaID streams.Hash) (*streams.SchemaEncoder, error) {
	if cached, ok := l.encoders.Load(schemaID); ok {
		return cached.(*streams.SchemaEncoder), nil
	}

	var schema string
	query := `SELECT schema FROM data_schemas WHERE schema_id = $1`
	err := q.QueryRowContext(ctx, query, schemaID[:]).Scan(&schema)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSchemaNotRegistered, schemaID.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get data schema: %w", err)
	}

	encoder, err := streams.NewSchemaEncoder(schema)
	if err != nil {
		return nil, fmt.Errorf("stored schema %s is invalid: %w", schemaID.Hex(), err)
	}
	l.encoders.Store(schemaID, encoder)
	return encoder, nil
}
