package calls

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
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

func TestPostgresRepo_UpdateExclusionViolationIsConflict(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE call_requests SET")).
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "call_requests_no_overlap"})

	c := callIn(StatusScheduled)
	c.ID = uuid.NewString()
	err := NewPostgresRepo(db).Update(context.Background(), c)

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	w, _ := c.Window()
	if conflict.ProviderID != "prov-1" || !conflict.Start.Equal(w.Start) || !conflict.End.Equal(w.End()) {
		t.Fatalf("unexpected conflict %+v", conflict)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestPostgresRepo_UpdateOtherErrorsAreWrapped(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE call_requests SET")).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	c := callIn(StatusScheduled)
	c.ID = uuid.NewString()
	err := NewPostgresRepo(db).Update(context.Background(), c)

	var conflict *ConflictError
	if errors.As(err, &conflict) || err == nil {
		t.Fatalf("expected a plain wrapped error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestPostgresRepo_MalformedIDsNeverReachTheDatabase(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresRepo(db)
	ctx := context.Background()

	if _, err := repo.FindByID(ctx, "abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByID: expected not found, got %v", err)
	}
	if err := repo.SoftDelete(ctx, "abc", testNow); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SoftDelete: expected not found, got %v", err)
	}

	_, err := repo.FindConflictingCalls(ctx, ConflictQuery{ProviderID: "prov-1", Start: at(10, 0), DurationMinutes: 30, ExcludeID: "abc"})
	var validation *ValidationError
	if !errors.As(err, &validation) || validation.Field != "exclude_id" {
		t.Fatalf("FindConflictingCalls: expected exclude_id validation error, got %v", err)
	}

	c := callIn(StatusScheduled)
	if err := repo.Update(ctx, c); !errors.As(err, &validation) {
		t.Fatalf("Update: expected validation error for id %q, got %v", c.ID, err)
	}

	// no expectations were set, so any query would have failed the mock
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestPostgresRepo_FindByIDMissingRow(t *testing.T) {
	db, mock := newMockDB(t)
	id := uuid.NewString()
	mock.ExpectQuery(regexp.QuoteMeta("FROM call_requests WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := NewPostgresRepo(db).FindByID(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestPostgresUnitOfWork_ConflictRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE call_requests SET")).
		WillReturnError(&pgconn.PgError{Code: "23P01"})
	mock.ExpectRollback()

	c := callIn(StatusScheduled)
	c.ID = uuid.NewString()
	err := NewPostgresUnitOfWork(db).Transaction(context.Background(), TxOptions{}, func(ctx context.Context, r Repos) error {
		return r.Calls.Update(ctx, c)
	})

	var conflict *ConflictError
	if !errors.As(err, &conflict) || errors.Is(err, ErrRetryable) {
		t.Fatalf("expected a non-retryable conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestPostgresUnitOfWork_SerializationFailureIsRetryable(t *testing.T) {
	db, mock := newMockDB(t)
	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	attempts := 0
	err := NewPostgresUnitOfWork(db).Transaction(context.Background(), TxOptions{MaxRetries: 1}, func(ctx context.Context, r Repos) error {
		attempts++
		return &pgconn.PgError{Code: "40001"}
	})
	if !errors.Is(err, ErrRetryable) {
		t.Fatalf("expected ErrRetryable, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("%v", err)
	}
}
