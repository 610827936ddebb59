package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"streamchat/internal/domain"
	"streamchat/internal/streams"
)

// ledgerWrite is one state change confirmed by a transaction row
type ledgerWrite struct {
	method  string
	from    domain.Address
	payload any

	// check runs before the transaction row is recorded; optional
	check func(tx *sql.Tx) error
	// apply writes the rows confirmed by hash
	apply func(tx *sql.Tx, hash streams.Hash) error
}

// TxManager commits ledger writes together with their transaction rows
type TxManager struct {
	db *sql.DB
}

// NewTxManager creates a new transaction manager
func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db}
}

// Write runs w in one database transaction and returns the hash of its
// transaction row. Nothing is kept when check or apply fails or panics.
func (tm *TxManager) Write(ctx context.Context, w ledgerWrite) (hash streams.Hash, err error) {
	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return streams.ZeroHash, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := tm.run(ctx, tx, w, &hash); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return streams.ZeroHash, fmt.Errorf("%s: %w (rollback: %v)", w.method, err, rbErr)
		}
		return streams.ZeroHash, err
	}

	if err := tx.Commit(); err != nil {
		return streams.ZeroHash, fmt.Errorf("failed to commit %s: %w", w.method, err)
	}
	return hash, nil
}

func (tm *TxManager) run(ctx context.Context, tx *sql.Tx, w ledgerWrite, hash *streams.Hash) error {
	if w.check != nil {
		if err := w.check(tx); err != nil {
			return err
		}
	}

	h, err := recordTx(ctx, tx, w.method, w.from, w.payload)
	if err != nil {
		return err
	}

	if err := w.apply(tx, h); err != nil {
		return err
	}
	*hash = h
	return nil
}

// recordTx inserts the transaction row. The hash commits to the method,
// sender, payload and a random nonce.
func recordTx(ctx context.Context, tx *sql.Tx, method string, from domain.Address, payload any) (streams.Hash, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return streams.ZeroHash, fmt.Errorf("failed to encode %s payload: %w", method, err)
	}
	nonce := uuid.New()
	hash := streams.Keccak256([]byte(method), from[:], nonce[:], body)

	query := `
		INSERT INTO transactions (hash, sender, method, status)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.ExecContext(ctx, query, hash[:], from[:], method, streams.ReceiptStatusSuccess); err != nil {
		return streams.ZeroHash, fmt.Errorf("failed to record transaction: %w", err)
	}
	return hash, nil
}
