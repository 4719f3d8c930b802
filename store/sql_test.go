package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
)

func setupMockStore(t *testing.T, dialect Dialect) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	return NewSQLStore(db, dialect), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSQLStore_Migrate(t *testing.T) {
	setupClock(t)

	t.Run("postgres schema uses a serial sequence", func(t *testing.T) {
		s, mock := setupMockStore(t, DialectPostgres)

		mock.ExpectExec(regexp.QuoteMeta(createStateTable)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta(createTermsTable)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("seq BIGSERIAL PRIMARY KEY").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta(createReceiptsIndex)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("VALUES (1, $1, $2) ON CONFLICT (id) DO NOTHING")).
			WithArgs(true, "2026-03-01T12:00:00.000Z").
			WillReturnResult(sqlmock.NewResult(1, 1))

		if err := s.Migrate(context.Background(), true); err != nil {
			t.Fatalf("failed to migrate: %v", err)
		}
		expectationsMet(t, mock)
	})

	t.Run("sqlite schema uses autoincrement", func(t *testing.T) {
		s, mock := setupMockStore(t, DialectSQLite)

		mock.ExpectExec(regexp.QuoteMeta(createStateTable)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta(createTermsTable)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("seq INTEGER PRIMARY KEY AUTOINCREMENT").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta(createReceiptsIndex)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("VALUES (1, ?, ?)")).
			WithArgs(false, "2026-03-01T12:00:00.000Z").
			WillReturnResult(sqlmock.NewResult(1, 1))

		if err := s.Migrate(context.Background(), false); err != nil {
			t.Fatalf("failed to migrate: %v", err)
		}
		expectationsMet(t, mock)
	})

	t.Run("a failed statement is returned", func(t *testing.T) {
		s, mock := setupMockStore(t, DialectSQLite)

		mock.ExpectExec(regexp.QuoteMeta(createStateTable)).WillReturnError(errors.New("disk full"))

		if err := s.Migrate(context.Background(), false); err == nil || !strings.Contains(err.Error(), "disk full") {
			t.Fatalf("expected the statement error, got %v", err)
		}
		expectationsMet(t, mock)
	})

}

func TestSQLStore_State(t *testing.T) {
	setupClock(t)
	ctx := context.Background()

	t.Run("reads the state row", func(t *testing.T) {
		s, mock := setupMockStore(t, DialectPostgres)

		rows := sqlmock.NewRows([]string{"price_raise_mode", "last_updated_at"}).
			AddRow(true, "2026-02-01T00:00:00.000Z")
		mock.ExpectQuery(regexp.QuoteMeta(selectStateQuery)).WillReturnRows(rows)

		state, err := s.State(ctx)
		if err != nil {
			t.Fatalf("failed to get state: %v", err)
		}
		if !state.PriceRaiseMode || state.LastUpdatedAt != "2026-02-01T00:00:00.000Z" {
			t.Errorf("unexpected state %#v", state)
		}
		expectationsMet(t, mock)
	})

	t.Run("sets raise mode in a transaction", func(t *testing.T) {
		s, mock := setupMockStore(t, DialectPostgres)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE seller_state SET price_raise_mode = $1, last_updated_at = $2 WHERE id = 1")).
			WithArgs(true, "2026-03-01T12:00:00.000Z").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta(selectStateQuery)).
			WillReturnRows(sqlmock.NewRows([]string{"price_raise_mode", "last_updated_at"}).
				AddRow(true, "2026-03-01T12:00:00.000Z"))
		mock.ExpectCommit()

		state, err := s.SetPriceRaiseMode(ctx, true)
		if err != nil {
			t.Fatalf("failed to set raise mode: %v", err)
		}
		if !state.PriceRaiseMode {
			t.Error("expected raise mode on")
		}
		expectationsMet(t, mock)
	})

	t.Run("rolls back a failed update", func(t *testing.T) {
		s, mock := setupMockStore(t, DialectPostgres)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE seller_state").WillReturnError(errors.New("locked"))
		mock.ExpectRollback()

		if _, err := s.SetPriceRaiseMode(ctx, true); err == nil {
			t.Fatal("expected an error")
		}
		expectationsMet(t, mock)
	})

}

func TestSQLStore_Terms(t *testing.T) {
	ctx := context.Background()

	t.Run("upserts terms", func(t *testing.T) {
		s, mock := setupMockStore(t, DialectPostgres)

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO issued_terms (request_id, terms_b64) VALUES ($1, $2) ON CONFLICT (request_id)")).
			WithArgs("req-1", "dGVybXM=").
			WillReturnResult(sqlmock.NewResult(1, 1))

		if err := s.PutTerms(ctx, "req-1", "dGVybXM="); err != nil {
			t.Fatalf("failed to put terms: %v", err)
		}
		expectationsMet(t, mock)
	})

	t.Run("finds issued terms", func(t *testing.T) {
		s, mock := setupMockStore(t, DialectSQLite)

		mock.ExpectQuery(regexp.QuoteMeta(selectTermsQuery)).
			WithArgs("req-1").
			WillReturnRows(sqlmock.NewRows([]string{"terms_b64"}).AddRow("dGVybXM="))

		termsB64, ok, err := s.Terms(ctx, "req-1")
		if err != nil || !ok || termsB64 != "dGVybXM=" {
			t.Errorf("unexpected result %q %v %v", termsB64, ok, err)
		}
		expectationsMet(t, mock)
	})

	t.Run("unknown terms are reported as missing", func(t *testing.T) {
		s, mock := setupMockStore(t, DialectSQLite)

		mock.ExpectQuery(regexp.QuoteMeta(selectTermsQuery)).
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		_, ok, err := s.Terms(ctx, "nope")
		if err != nil || ok {
			t.Errorf("expected missing terms, got ok=%v err=%v", ok, err)
		}
		expectationsMet(t, mock)
	})

}

func TestSQLStore_Receipts(t *testing.T) {
	ctx := context.Background()

	columns := []string{"id", "created_at", "request_id", "payer", "amount_usd", "tx_hash", "client_id", "raw_settlement"}

	t.Run("appends a receipt", func(t *testing.T) {
		s, mock := setupMockStore(t, DialectPostgres)

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO receipts (id, created_at, request_id, payer, amount_usd, tx_hash, client_id, raw_settlement) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)")).
			WithArgs("r1", "2026-03-01T12:00:00.000Z", "req-1", "demo_agent", "0.01", "local_req-1", "agent_1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		if err := s.AppendReceipt(ctx, testReceipt("r1", "req-1")); err != nil {
			t.Fatalf("failed to append receipt: %v", err)
		}
		expectationsMet(t, mock)
	})

	t.Run("lists receipts newest first", func(t *testing.T) {
		s, mock := setupMockStore(t, DialectSQLite)

		rows := sqlmock.NewRows(columns).
			AddRow("r2", "2026-03-01T12:00:01.000Z", "req-2", "demo_agent", "0.5", "local_req-2", "", `{"success":true,"transaction":"local_req-2","network":"local"}`).
			AddRow("r1", "2026-03-01T12:00:00.000Z", "req-1", "demo_agent", "0.01", "local_req-1", "agent_1", "null")
		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY seq DESC")).WillReturnRows(rows)

		receipts, err := s.Receipts(ctx)
		if err != nil {
			t.Fatalf("failed to list receipts: %v", err)
		}
		if len(receipts) != 2 || receipts[0].ID != "r2" || receipts[1].ID != "r1" {
			t.Fatalf("unexpected receipts %#v", receipts)
		}
		if !receipts[0].AmountUSD.Equal(decimal.RequireFromString("0.5")) {
			t.Errorf("unexpected amount %s", receipts[0].AmountUSD)
		}
		if receipts[0].RawSettlement == nil || receipts[0].RawSettlement.Transaction != "local_req-2" {
			t.Errorf("unexpected settlement %#v", receipts[0].RawSettlement)
		}
		if receipts[1].RawSettlement != nil {
			t.Errorf("expected no settlement, got %#v", receipts[1].RawSettlement)
		}
		expectationsMet(t, mock)
	})

	t.Run("reports an existing receipt", func(t *testing.T) {
		s, mock := setupMockStore(t, DialectPostgres)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM receipts WHERE request_id = $1 LIMIT 1")).
			WithArgs("req-1").
			WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM receipts WHERE request_id = $1 LIMIT 1")).
			WithArgs("req-2").
			WillReturnError(sql.ErrNoRows)

		found, err := s.HasReceipt(ctx, "req-1")
		if err != nil || !found {
			t.Errorf("expected a receipt, got %v %v", found, err)
		}
		found, err = s.HasReceipt(ctx, "req-2")
		if err != nil || found {
			t.Errorf("expected no receipt, got %v %v", found, err)
		}
		expectationsMet(t, mock)
	})

}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("without a database url opens the file store", func(t *testing.T) {
		s, err := Open(ctx, Options{Path: filepath.Join(t.TempDir(), "seller.json")})
		if err != nil {
			t.Fatalf("failed to open store: %v", err)
		}
		defer s.Close()

		if _, ok := s.(*FileStore); !ok {
			t.Errorf("expected *FileStore, got %T", s)
		}
	})

	t.Run("rejects an unknown scheme", func(t *testing.T) {
		if _, err := Open(ctx, Options{DatabaseURL: "mysql://localhost/seller"}); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("sqlite round trip", func(t *testing.T) {
		s, err := Open(ctx, Options{DatabaseURL: "sqlite://" + filepath.Join(t.TempDir(), "seller.db")})
		if err != nil {
			if strings.Contains(err.Error(), "cgo") {
				t.Skip("sqlite3 requires cgo")
			}
			t.Fatalf("failed to open store: %v", err)
		}
		defer s.Close()

		if err := s.AppendReceipt(ctx, testReceipt("r1", "req-1")); err != nil {
			t.Fatalf("failed to append receipt: %v", err)
		}
		if err := s.AppendReceipt(ctx, testReceipt("r2", "req-2")); err != nil {
			t.Fatalf("failed to append receipt: %v", err)
		}
		if err := s.PutTerms(ctx, "req-3", "a"); err != nil {
			t.Fatalf("failed to put terms: %v", err)
		}
		if err := s.PutTerms(ctx, "req-3", "b"); err != nil {
			t.Fatalf("failed to put terms: %v", err)
		}

		receipts, err := s.Receipts(ctx)
		if err != nil {
			t.Fatalf("failed to list receipts: %v", err)
		}
		if len(receipts) != 2 || receipts[0].ID != "r2" {
			t.Fatalf("unexpected receipts %#v", receipts)
		}

		termsB64, ok, err := s.Terms(ctx, "req-3")
		if err != nil || !ok || termsB64 != "b" {
			t.Errorf("unexpected terms %q %v %v", termsB64, ok, err)
		}

		state, err := s.SetPriceRaiseMode(ctx, true)
		if err != nil || !state.PriceRaiseMode {
			t.Errorf("unexpected state %#v %v", state, err)
		}
	})

}
