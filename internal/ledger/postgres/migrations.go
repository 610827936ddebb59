package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creates the ledger tables. It is safe to apply repeatedly.
const Schema = `
	CREATE TABLE IF NOT EXISTS transactions (
		hash BYTEA PRIMARY KEY CHECK (length(hash) = 32),
		block_number BIGSERIAL UNIQUE NOT NULL,
		sender BYTEA NOT NULL CHECK (length(sender) = 20),
		method VARCHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'success',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS data_schemas (
		schema_id BYTEA PRIMARY KEY CHECK (length(schema_id) = 32),
		name VARCHAR(255) NOT NULL,
		schema TEXT NOT NULL,
		parent_schema_id BYTEA NOT NULL,
		tx_hash BYTEA NOT NULL REFERENCES transactions(hash),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS event_schemas (
		event_id VARCHAR(255) PRIMARY KEY,
		event_topic TEXT NOT NULL,
		params JSONB NOT NULL,
		tx_hash BYTEA NOT NULL REFERENCES transactions(hash),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS data_records (
		id BIGSERIAL PRIMARY KEY,
		publisher BYTEA NOT NULL CHECK (length(publisher) = 20),
		schema_id BYTEA NOT NULL REFERENCES data_schemas(schema_id),
		data_id BYTEA NOT NULL CHECK (length(data_id) = 32),
		data BYTEA NOT NULL,
		tx_hash BYTEA NOT NULL REFERENCES transactions(hash),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP NOT NULL,
		CONSTRAINT data_records_publisher_schema_data_key UNIQUE (publisher, schema_id, data_id)
	);

	CREATE INDEX IF NOT EXISTS idx_data_records_publisher_schema
		ON data_records (publisher, schema_id, id);
`

// Migrate applies Schema
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply ledger schema: %w", err)
	}
	return nil
}
