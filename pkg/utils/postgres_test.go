package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func fastRetry(retries int) TxOptions {
	return TxOptions{Isolation: sql.LevelSerializable, MaxRetries: retries, RetryBackoff: time.Millisecond}
}

func TestIsRetryable_TransientCodesOnly(t *testing.T) {
	cases := map[string]bool{
		"40001": true,
		"40P01": true,
		"55P03": true,
		"23505": false,
		"23P01": false,
		"57014": false,
	}
	for code, want := range cases {
		err := fmt.Errorf("update: %w", &pgconn.PgError{Code: code})
		if got := IsRetryable(err); got != want {
			t.Fatalf("code %s: expected retryable=%v, got %v", code, want, got)
		}
	}
	if IsRetryable(errors.New("boom")) {
		t.Fatalf("plain errors are not retryable")
	}
}

func TestPgErrorCode(t *testing.T) {
	if got := PgErrorCode(fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "23P01"})); got != "23P01" {
		t.Fatalf("expected 23P01, got %q", got)
	}
	if got := PgErrorCode(errors.New("x")); got != "" {
		t.Fatalf("expected empty code, got %q", got)
	}
}

func TestTxOptions_Defaults(t *testing.T) {
	o := TxOptions{MaxRetries: -1}.withDefaults()
	if o.MaxWait != 2*time.Second || o.Timeout != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", o)
	}
	if o.MaxRetries != 0 {
		t.Fatalf("expected negative retries clamped to 0")
	}

	o = TxOptions{Isolation: sql.LevelSerializable, Timeout: time.Second, MaxRetries: 3}.withDefaults()
	if o.Timeout != time.Second || o.MaxRetries != 3 || o.Isolation != sql.LevelSerializable {
		t.Fatalf("explicit values must be kept: %+v", o)
	}
}

func TestWithTxOptions_NilDB(t *testing.T) {
	err := WithTxOptions(context.Background(), nil, TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		t.Fatalf("fn must not run")
		return nil
	})
	if err == nil {
		t.Fatalf("expected error for nil db")
	}
}

func TestTxFromContext_Empty(t *testing.T) {
	if _, ok := TxFromContext(context.Background()); ok {
		t.Fatalf("expected no tx")
	}
	if _, ok := TxFromContext(ContextWithTx(context.Background(), nil)); ok {
		t.Fatalf("nil tx must not count as open")
	}
}

func TestWithTxOptions_RetriesTransientCodes(t *testing.T) {
	for _, code := range []string{"40001", "40P01", "55P03"} {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectCommit()

		attempts := 0
		err := WithTxOptions(context.Background(), db, fastRetry(3), func(ctx context.Context, tx *sql.Tx) error {
			attempts++
			if attempts < 3 {
				return &pgconn.PgError{Code: code}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("code %s: expected success on third attempt, got %v", code, err)
		}
		if attempts != 3 {
			t.Fatalf("code %s: expected 3 attempts, got %d", code, attempts)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("code %s: %v", code, err)
		}
	}
}

func TestWithTxOptions_ExhaustedRetriesAreTransient(t *testing.T) {
	db, mock := newMockDB(t)
	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	attempts := 0
	err := WithTxOptions(context.Background(), db, fastRetry(2), func(ctx context.Context, tx *sql.Tx) error {
		attempts++
		return fmt.Errorf("update: %w", &pgconn.PgError{Code: "40001"})
	})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if PgErrorCode(err) != "40001" {
		t.Fatalf("expected the pg error to stay reachable, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected MaxRetries+1 attempts, got %d", attempts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestWithTxOptions_PlainErrorRollsBackOnce(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	attempts := 0
	err := WithTxOptions(context.Background(), db, fastRetry(3), func(ctx context.Context, tx *sql.Tx) error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) || errors.Is(err, ErrTransient) {
		t.Fatalf("expected the work error unwrapped by ErrTransient, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("non-retryable errors must not retry, got %d attempts", attempts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestWithTxOptions_PanicRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	func() {
		defer func() {
			if p := recover(); p != "kaboom" {
				t.Fatalf("expected the panic to propagate, got %v", p)
			}
		}()
		_ = WithTxOptions(context.Background(), db, fastRetry(0), func(ctx context.Context, tx *sql.Tx) error {
			panic("kaboom")
		})
	}()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestWithTxOptions_NestedJoinsOuter(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO t")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := WithTxOptions(context.Background(), db, fastRetry(0), func(ctx context.Context, outer *sql.Tx) error {
		return WithTxOptions(ctx, db, fastRetry(0), func(ctx context.Context, inner *sql.Tx) error {
			if inner != outer {
				t.Fatalf("nested call must reuse the outer tx")
			}
			_, err := inner.ExecContext(ctx, "INSERT INTO t VALUES (1)")
			return err
		})
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestWithTxOptions_SetsLocalTimeouts(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout = 250")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL statement_timeout = 1500")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	opts := fastRetry(0)
	opts.LockTimeout = 250 * time.Millisecond
	opts.StatementTimeout = 1500 * time.Millisecond
	err := WithTxOptions(context.Background(), db, opts, func(ctx context.Context, tx *sql.Tx) error {
		if got, ok := TxFromContext(ctx); !ok || got != tx {
			t.Fatalf("expected the tx to be carried on ctx")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("%v", err)
	}
}
