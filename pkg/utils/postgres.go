package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresPoolConfig controls database/sql pool behavior.
// Keep it config-driven; defaults should be safe and conservative.
type PostgresPoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

func (c PostgresPoolConfig) withDefaults() PostgresPoolConfig {
	out := c
	if out.MaxOpenConns <= 0 {
		out.MaxOpenConns = 25
	}
	if out.MaxIdleConns <= 0 {
		out.MaxIdleConns = 25
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 5 * time.Second
	}
	return out
}

// OpenPostgres opens a Postgres connection using database/sql.
// driverName should typically be "pgx" (pgx stdlib).
// dsn must not be logged; it contains secrets.
func OpenPostgres(ctx context.Context, driverName, dsn string, pool PostgresPoolConfig) (*sql.DB, error) {
	pool = pool.withDefaults()

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	if err := HealthCheck(ctx, db, pool.PingTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// HealthCheck pings the DB with a timeout.
func HealthCheck(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("db ping failed: %w", err)
	}
	return nil
}

// DBTX is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// ContextWithTx carries an open transaction so nested work joins it.
func ContextWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

// TxFunc is the unit of work executed inside a transaction.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// TxOptions bounds a transaction.
//
// MaxWait caps the time spent waiting for a pooled connection. Timeout caps
// the whole attempt, commit included. LockTimeout and StatementTimeout are
// applied with SET LOCAL and vanish at commit or rollback.
type TxOptions struct {
	Isolation        sql.IsolationLevel
	ReadOnly         bool
	MaxWait          time.Duration
	Timeout          time.Duration
	LockTimeout      time.Duration
	StatementTimeout time.Duration
	// MaxRetries counts extra attempts after a retryable failure.
	MaxRetries   int
	RetryBackoff time.Duration
}

func (o TxOptions) withDefaults() TxOptions {
	out := o
	if out.MaxWait <= 0 {
		out.MaxWait = 2 * time.Second
	}
	if out.Timeout <= 0 {
		out.Timeout = 5 * time.Second
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = 25 * time.Millisecond
	}
	return out
}

// ErrTransient wraps failures that a caller may safely retry later:
// exhausted serialization/lock retries, pool wait and transaction deadlines.
var ErrTransient = errors.New("transient database failure")

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateQueryCanceled        = "57014"
)

// IsRetryable reports whether err is a Postgres failure worth retrying the
// whole transaction for.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable:
		return true
	default:
		return false
	}
}

// PgErrorCode returns the SQLSTATE of err, or "".
func PgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// WithTxOptions runs fn in a bounded transaction, retrying retryable failures.
//
// If ctx already carries a transaction, fn joins it and opts are ignored:
// a nested unit of work never opens a second physical transaction.
func WithTxOptions(ctx context.Context, db *sql.DB, opts TxOptions, fn TxFunc) error {
	if tx, ok := TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}
	if db == nil {
		return errors.New("db is nil")
	}
	opts = opts.withDefaults()

	var err error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(time.Duration(attempt) * opts.RetryBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		err = runTx(ctx, db, opts, fn)
		if err == nil || !IsRetryable(err) {
			break
		}
	}

	switch {
	case err == nil:
		return nil
	case IsRetryable(err):
		return fmt.Errorf("%w: %w", ErrTransient, err)
	case ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || PgErrorCode(err) == sqlStateQueryCanceled):
		// Our own MaxWait/Timeout fired, not the caller's context.
		return fmt.Errorf("%w: %w", ErrTransient, err)
	default:
		return err
	}
}

func runTx(ctx context.Context, db *sql.DB, opts TxOptions, fn TxFunc) (err error) {
	waitCtx, cancelWait := context.WithTimeout(ctx, opts.MaxWait)
	conn, err := db.Conn(waitCtx)
	cancelWait()
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	tx, err := conn.BeginTx(runCtx, &sql.TxOptions{Isolation: opts.Isolation, ReadOnly: opts.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	if opts.LockTimeout > 0 {
		if _, err = tx.ExecContext(runCtx, fmt.Sprintf("SET LOCAL lock_timeout = %d", opts.LockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock_timeout: %w", err)
		}
	}
	if opts.StatementTimeout > 0 {
		if _, err = tx.ExecContext(runCtx, fmt.Sprintf("SET LOCAL statement_timeout = %d", opts.StatementTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set statement_timeout: %w", err)
		}
	}

	err = fn(ContextWithTx(runCtx, tx), tx)
	return err
}
