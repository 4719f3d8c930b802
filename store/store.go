// Package store persists the seller's receipts, pricing state and issued terms.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/raid-guild/arcmeter-go/types"
)

// Now returns the current time. This variable can be overridden in tests.
var Now = time.Now

// Store is the seller's backing store. Receipts are write-once: there is no
// operation to mutate or delete one.
type Store interface {
	// State returns the persisted pricing state.
	State(ctx context.Context) (types.SellerState, error)
	// SetPriceRaiseMode updates the raise mode flag and returns the new state.
	SetPriceRaiseMode(ctx context.Context, enabled bool) (types.SellerState, error)
	// PutTerms records the base64 terms issued for a request.
	PutTerms(ctx context.Context, requestID string, termsB64 string) error
	// Terms returns the base64 terms issued for a request.
	Terms(ctx context.Context, requestID string) (string, bool, error)
	// AppendReceipt inserts a receipt at the head of the ledger.
	AppendReceipt(ctx context.Context, receipt types.Receipt) error
	// Receipts lists the ledger, most recent first.
	Receipts(ctx context.Context) ([]types.Receipt, error)
	// HasReceipt reports whether a receipt exists for a request.
	HasReceipt(ctx context.Context, requestID string) (bool, error)
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	// Path is the JSON document path used when DatabaseURL is empty.
	Path string
	// DatabaseURL selects the SQL backend: postgres://... or sqlite://<path>.
	DatabaseURL string
	// DefaultRaiseMode seeds the pricing state of a fresh store.
	DefaultRaiseMode bool
}

// Open opens the backend selected by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	if opts.DatabaseURL == "" {
		return OpenFile(opts.Path, opts.DefaultRaiseMode)
	}

	// Pick the driver from the URL scheme
	driver, dsn, dialect, err := parseDatabaseURL(opts.DatabaseURL)
	if err != nil {
		return nil, err
	}

	// Connect to the database
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := NewSQLStore(db, dialect)
	if err := s.Migrate(ctx, opts.DefaultRaiseMode); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func parseDatabaseURL(url string) (driver string, dsn string, dialect Dialect, err error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres", url, DialectPostgres, nil
	case strings.HasPrefix(url, "sqlite://"):
		return "sqlite3", strings.TrimPrefix(url, "sqlite://"), DialectSQLite, nil
	case strings.HasPrefix(url, "file:"):
		return "sqlite3", url, DialectSQLite, nil
	default:
		return "", "", "", errors.New("unsupported database url scheme")
	}
}

func defaultState(raiseMode bool) types.SellerState {
	return types.SellerState{
		PriceRaiseMode: raiseMode,
		LastUpdatedAt:  types.FormatTime(Now()),
	}
}
