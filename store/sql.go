package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/raid-guild/arcmeter-go/types"
)

// Dialect is the SQL dialect enum.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const (
	createStateTable = `CREATE TABLE IF NOT EXISTS seller_state (
	id INTEGER PRIMARY KEY,
	price_raise_mode BOOLEAN NOT NULL,
	last_updated_at TEXT NOT NULL
)`
	createTermsTable = `CREATE TABLE IF NOT EXISTS issued_terms (
	request_id TEXT PRIMARY KEY,
	terms_b64 TEXT NOT NULL
)`
	createReceiptsTableSQLite = `CREATE TABLE IF NOT EXISTS receipts (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL,
	request_id TEXT NOT NULL,
	payer TEXT NOT NULL,
	amount_usd TEXT NOT NULL,
	tx_hash TEXT NOT NULL,
	client_id TEXT NOT NULL,
	raw_settlement TEXT NOT NULL
)`
	createReceiptsTablePostgres = `CREATE TABLE IF NOT EXISTS receipts (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL,
	request_id TEXT NOT NULL,
	payer TEXT NOT NULL,
	amount_usd TEXT NOT NULL,
	tx_hash TEXT NOT NULL,
	client_id TEXT NOT NULL,
	raw_settlement TEXT NOT NULL
)`
	createReceiptsIndex = `CREATE INDEX IF NOT EXISTS receipts_request_id ON receipts (request_id)`

	seedStateQuery        = `INSERT INTO seller_state (id, price_raise_mode, last_updated_at) VALUES (1, ?, ?) ON CONFLICT (id) DO NOTHING`
	selectStateQuery      = `SELECT price_raise_mode, last_updated_at FROM seller_state WHERE id = 1`
	updateStateQuery      = `UPDATE seller_state SET price_raise_mode = ?, last_updated_at = ? WHERE id = 1`
	upsertTermsQuery      = `INSERT INTO issued_terms (request_id, terms_b64) VALUES (?, ?) ON CONFLICT (request_id) DO UPDATE SET terms_b64 = excluded.terms_b64`
	selectTermsQuery      = `SELECT terms_b64 FROM issued_terms WHERE request_id = ?`
	insertReceiptQuery    = `INSERT INTO receipts (id, created_at, request_id, payer, amount_usd, tx_hash, client_id, raw_settlement) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	selectReceiptsQuery   = `SELECT id, created_at, request_id, payer, amount_usd, tx_hash, client_id, raw_settlement FROM receipts ORDER BY seq DESC`
	selectHasReceiptQuery = `SELECT 1 FROM receipts WHERE request_id = ? LIMIT 1`
)

// SQLStore is a Store backed by database/sql. Each write is a single
// statement or transaction, so concurrent writers never lose updates.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps an open database. Call Migrate before first use.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Migrate creates the schema and seeds the pricing state if missing.
func (s *SQLStore) Migrate(ctx context.Context, defaultRaiseMode bool) error {
	receiptsTable := createReceiptsTableSQLite
	if s.dialect == DialectPostgres {
		receiptsTable = createReceiptsTablePostgres
	}

	for _, stmt := range []string{createStateTable, createTermsTable, receiptsTable, createReceiptsIndex} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate store: %w", err)
		}
	}

	state := defaultState(defaultRaiseMode)
	_, err := s.db.ExecContext(ctx, s.rebind(seedStateQuery), state.PriceRaiseMode, state.LastUpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to seed state: %w", err)
	}

	return nil
}

func (s *SQLStore) State(ctx context.Context) (types.SellerState, error) {
	var state types.SellerState
	err := s.db.QueryRowContext(ctx, selectStateQuery).Scan(&state.PriceRaiseMode, &state.LastUpdatedAt)
	if err != nil {
		return types.SellerState{}, fmt.Errorf("failed to get state: %w", err)
	}
	return state, nil
}

func (s *SQLStore) SetPriceRaiseMode(ctx context.Context, enabled bool) (types.SellerState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.SellerState{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Update the flag
	_, err = tx.ExecContext(ctx, s.rebind(updateStateQuery), enabled, types.FormatTime(Now()))
	if err != nil {
		return types.SellerState{}, fmt.Errorf("failed to update state: %w", err)
	}

	// Read back the committed state
	var state types.SellerState
	err = tx.QueryRowContext(ctx, selectStateQuery).Scan(&state.PriceRaiseMode, &state.LastUpdatedAt)
	if err != nil {
		return types.SellerState{}, fmt.Errorf("failed to get state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return types.SellerState{}, fmt.Errorf("failed to commit state: %w", err)
	}

	return state, nil
}

func (s *SQLStore) PutTerms(ctx context.Context, requestID string, termsB64 string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(upsertTermsQuery), requestID, termsB64)
	if err != nil {
		return fmt.Errorf("failed to put terms: %w", err)
	}
	return nil
}

func (s *SQLStore) Terms(ctx context.Context, requestID string) (string, bool, error) {
	var termsB64 string
	err := s.db.QueryRowContext(ctx, s.rebind(selectTermsQuery), requestID).Scan(&termsB64)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get terms: %w", err)
	}
	return termsB64, true, nil
}

func (s *SQLStore) AppendReceipt(ctx context.Context, r types.Receipt) error {

	// Marshal the raw settlement
	rawSettlement, err := json.Marshal(r.RawSettlement)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(insertReceiptQuery),
		r.ID,
		r.CreatedAt,
		r.RequestID,
		r.Payer,
		r.AmountUSD.String(),
		r.TxHash,
		r.ClientID,
		string(rawSettlement),
	)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}

	return nil
}

func (s *SQLStore) Receipts(ctx context.Context) ([]types.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, selectReceiptsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	receipts := []types.Receipt{}
	for rows.Next() {
		var (
			r             types.Receipt
			amountUSD     string
			rawSettlement string
		)
		err := rows.Scan(&r.ID, &r.CreatedAt, &r.RequestID, &r.Payer, &amountUSD, &r.TxHash, &r.ClientID, &rawSettlement)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}

		// Parse the amount
		r.AmountUSD, err = decimal.NewFromString(amountUSD)
		if err != nil {
			return nil, fmt.Errorf("failed to parse receipt amount: %w", err)
		}

		// Unmarshal the raw settlement
		if rawSettlement != "" && rawSettlement != "null" {
			var settlement types.SettleResponse
			if err := json.Unmarshal([]byte(rawSettlement), &settlement); err != nil {
				return nil, fmt.Errorf("failed to parse receipt settlement: %w", err)
			}
			r.RawSettlement = &settlement
		}

		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}

	return receipts, nil
}

func (s *SQLStore) HasReceipt(ctx context.Context, requestID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(selectHasReceiptQuery), requestID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up receipt: %w", err)
	}
	return true, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $N for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
