package calls

import (
	"context"
	"database/sql"
	"time"

	"consult-platform/internal/audit"
)

// Repos are the repositories scoped to one transaction. They must not be
// retained after the callback returns.
type Repos struct {
	Calls   Repository
	History audit.Repository
}

// TxOptions bounds a unit of work.
type TxOptions struct {
	Isolation   sql.IsolationLevel
	MaxWait     time.Duration
	Timeout     time.Duration
	LockTimeout time.Duration
	MaxRetries  int
}

// UnitOfWork runs work atomically: every write made through the supplied
// Repos commits together or not at all.
//
// A Transaction started from a context that already carries a transaction of
// the same UnitOfWork joins it instead of opening a new one.
type UnitOfWork interface {
	Transaction(ctx context.Context, opts TxOptions, work func(ctx context.Context, r Repos) error) error
}
