package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"consult-platform/internal/audit"
	"consult-platform/pkg/utils"

	"github.com/google/uuid"
)

const sqlStateExclusionViolation = "23P01"

// PostgresUnitOfWork runs units of work on database/sql transactions.
type PostgresUnitOfWork struct {
	db *sql.DB
}

func NewPostgresUnitOfWork(db *sql.DB) *PostgresUnitOfWork {
	return &PostgresUnitOfWork{db: db}
}

func (u *PostgresUnitOfWork) Transaction(ctx context.Context, opts TxOptions, work func(ctx context.Context, r Repos) error) error {
	err := utils.WithTxOptions(ctx, u.db, utils.TxOptions{
		Isolation:        opts.Isolation,
		MaxWait:          opts.MaxWait,
		Timeout:          opts.Timeout,
		LockTimeout:      opts.LockTimeout,
		StatementTimeout: opts.Timeout,
		MaxRetries:       opts.MaxRetries,
	}, func(ctx context.Context, tx *sql.Tx) error {
		repo := NewPostgresRepo(tx)
		repo.lockRows = true
		return work(ctx, Repos{Calls: repo, History: audit.NewPostgresRepo(tx)})
	})
	if errors.Is(err, utils.ErrTransient) {
		return fmt.Errorf("%w: %w", ErrRetryable, err)
	}
	return err
}

// PostgresRepo implements Repository with plain SQL.
type PostgresRepo struct {
	db utils.DBTX
	// lockRows adds FOR UPDATE to FindByID; set for transaction-scoped repos.
	lockRows bool
}

func NewPostgresRepo(db utils.DBTX) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `id, request_number, subscriber_id, assigned_provider_id, purpose, consultation_type,
	preferred_date, preferred_time, status, scheduled_at, scheduled_duration, call_platform, call_link,
	call_started_at, call_ended_at, actual_duration, recording_url, cancellation_reason,
	submitted_at, completed_at, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (CallRequest, error) {
	var (
		c      CallRequest
		status string
	)
	err := row.Scan(
		&c.ID, &c.RequestNumber, &c.SubscriberID, &c.AssignedProviderID, &c.Purpose, &c.ConsultationType,
		&c.PreferredDate, &c.PreferredTime, &status, &c.ScheduledAt, &c.ScheduledDuration, &c.CallPlatform, &c.CallLink,
		&c.CallStartedAt, &c.CallEndedAt, &c.ActualDuration, &c.RecordingURL, &c.CancellationReason,
		&c.SubmittedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
	)
	if err != nil {
		return CallRequest{}, err
	}
	c.Status, err = StatusFromStorage(status)
	if err != nil {
		return CallRequest{}, err
	}
	return c, nil
}

func (r *PostgresRepo) queryCalls(ctx context.Context, query string, args ...any) ([]CallRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallRequest, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// validID reports whether id can name a row; ids are uuid columns, and a
// malformed one would fail the query with 22P02 instead of matching nothing.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *PostgresRepo) FindByID(ctx context.Context, id string) (*CallRequest, error) {
	if !validID(id) {
		return nil, &NotFoundError{Entity: "call request", ID: id}
	}
	q := `SELECT ` + callColumns + ` FROM call_requests WHERE id = $1 AND deleted_at IS NULL`
	if r.lockRows {
		q += ` FOR UPDATE`
	}
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "call request", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("find call request: %w", err)
	}
	return &c, nil
}

// scheduledEnd feeds the scheduled_end_at column the exclusion constraint ranges over.
func scheduledEnd(c *CallRequest) *time.Time {
	w, ok := c.Window()
	if !ok {
		return nil
	}
	end := w.End()
	return &end
}

func (r *PostgresRepo) Create(ctx context.Context, c *CallRequest) error {
	if c == nil || !validID(c.ID) {
		return invalid("id", "must be a call request id")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO call_requests (`+callColumns+`, scheduled_end_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		c.ID, c.RequestNumber, c.SubscriberID, c.AssignedProviderID, c.Purpose, c.ConsultationType,
		c.PreferredDate, c.PreferredTime, c.Status.StorageValue(), c.ScheduledAt, c.ScheduledDuration, platformValue(c.CallPlatform), c.CallLink,
		c.CallStartedAt, c.CallEndedAt, c.ActualDuration, c.RecordingURL, c.CancellationReason,
		c.SubmittedAt, c.CompletedAt, c.CreatedAt, c.UpdatedAt, c.DeletedAt, scheduledEnd(c),
	)
	if err != nil {
		return r.translateWriteErr(c, "insert call request", err)
	}
	return nil
}

func (r *PostgresRepo) Update(ctx context.Context, c *CallRequest) error {
	if c == nil || !validID(c.ID) {
		return invalid("id", "must be a call request id")
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE call_requests SET
			assigned_provider_id = $2, purpose = $3, consultation_type = $4,
			preferred_date = $5, preferred_time = $6, status = $7,
			scheduled_at = $8, scheduled_duration = $9, scheduled_end_at = $10,
			call_platform = $11, call_link = $12,
			call_started_at = $13, call_ended_at = $14, actual_duration = $15, recording_url = $16,
			cancellation_reason = $17, completed_at = $18, updated_at = $19
		WHERE id = $1 AND deleted_at IS NULL`,
		c.ID, c.AssignedProviderID, c.Purpose, c.ConsultationType,
		c.PreferredDate, c.PreferredTime, c.Status.StorageValue(),
		c.ScheduledAt, c.ScheduledDuration, scheduledEnd(c),
		platformValue(c.CallPlatform), c.CallLink,
		c.CallStartedAt, c.CallEndedAt, c.ActualDuration, c.RecordingURL,
		c.CancellationReason, c.CompletedAt, c.UpdatedAt,
	)
	if err != nil {
		return r.translateWriteErr(c, "update call request", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update call request: %w", err)
	}
	if n == 0 {
		return &NotFoundError{Entity: "call request", ID: c.ID}
	}
	return nil
}

func (r *PostgresRepo) translateWriteErr(c *CallRequest, op string, err error) error {
	if utils.PgErrorCode(err) != sqlStateExclusionViolation {
		return fmt.Errorf("%s: %w", op, err)
	}
	ce := &ConflictError{}
	if c.AssignedProviderID != nil {
		ce.ProviderID = *c.AssignedProviderID
	}
	if w, ok := c.Window(); ok {
		ce.Start, ce.End = w.Start, w.End()
	}
	return ce
}

func platformValue(p *Platform) *string {
	if p == nil {
		return nil
	}
	v := string(*p)
	return &v
}

func (r *PostgresRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	if !validID(id) {
		return &NotFoundError{Entity: "call request", ID: id}
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE call_requests SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, at.UTC())
	if err != nil {
		return fmt.Errorf("soft delete call request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete call request: %w", err)
	}
	if n == 0 {
		return &NotFoundError{Entity: "call request", ID: id}
	}
	return nil
}

// blockingStatuses is the SQL list of statuses that occupy provider time.
var blockingStatuses = func() string {
	parts := make([]string, 0, 2)
	for _, s := range AllStatuses() {
		if blocksCalendar(s) {
			parts = append(parts, "'"+s.StorageValue()+"'")
		}
	}
	return strings.Join(parts, ",")
}()

func (r *PostgresRepo) FindConflictingCalls(ctx context.Context, q ConflictQuery) ([]CallRequest, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	w := q.Window()
	var exclude *string
	if q.ExcludeID != "" {
		if !validID(q.ExcludeID) {
			return nil, invalid("exclude_id", "must be a call request id")
		}
		exclude = &q.ExcludeID
	}
	out, err := r.queryCalls(ctx, `
		SELECT `+callColumns+` FROM call_requests
		WHERE assigned_provider_id = $1
		  AND status IN (`+blockingStatuses+`)
		  AND deleted_at IS NULL
		  AND scheduled_at IS NOT NULL AND scheduled_duration IS NOT NULL
		  AND scheduled_at < $3 AND $2 < scheduled_end_at
		  AND ($4::uuid IS NULL OR id <> $4::uuid)
		ORDER BY scheduled_at, id`,
		q.ProviderID, w.Start.UTC(), w.End().UTC(), exclude)
	if err != nil {
		return nil, fmt.Errorf("find conflicting calls: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) IsProviderAvailable(ctx context.Context, q ConflictQuery) (bool, error) {
	conflicts, err := r.FindConflictingCalls(ctx, q)
	if err != nil {
		return false, err
	}
	return len(conflicts) == 0, nil
}

func (r *PostgresRepo) pageBy(ctx context.Context, column, value string, p Page) ([]CallRequest, int, error) {
	p = p.normalize()
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM call_requests WHERE `+column+` = $1 AND deleted_at IS NULL`, value,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count call requests: %w", err)
	}
	out, err := r.queryCalls(ctx, `
		SELECT `+callColumns+` FROM call_requests
		WHERE `+column+` = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, value, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list call requests: %w", err)
	}
	return out, total, nil
}

func (r *PostgresRepo) FindBySubscriber(ctx context.Context, subscriberID string, p Page) ([]CallRequest, int, error) {
	return r.pageBy(ctx, "subscriber_id", subscriberID, p)
}

func (r *PostgresRepo) FindByProvider(ctx context.Context, providerID string, p Page) ([]CallRequest, int, error) {
	return r.pageBy(ctx, "assigned_provider_id", providerID, p)
}

func (r *PostgresRepo) FindScheduledCalls(ctx context.Context, tr TimeRange, providerID *string) ([]CallRequest, error) {
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	out, err := r.queryCalls(ctx, `
		SELECT `+callColumns+` FROM call_requests
		WHERE status = $1 AND deleted_at IS NULL
		  AND scheduled_at >= $2 AND scheduled_at < $3
		  AND ($4::text IS NULL OR assigned_provider_id = $4::text)
		ORDER BY scheduled_at, id`,
		StatusScheduled.StorageValue(), tr.From.UTC(), tr.To.UTC(), providerID)
	if err != nil {
		return nil, fmt.Errorf("find scheduled calls: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) FindUpcomingCallsForProvider(ctx context.Context, providerID string, from time.Time, limit int) ([]CallRequest, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	out, err := r.queryCalls(ctx, `
		SELECT `+callColumns+` FROM call_requests
		WHERE status = $1 AND deleted_at IS NULL
		  AND assigned_provider_id = $2 AND scheduled_at >= $3
		ORDER BY scheduled_at, id
		LIMIT $4`,
		StatusScheduled.StorageValue(), providerID, from.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("find upcoming calls: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) FindOverdueCalls(ctx context.Context, now time.Time) ([]CallRequest, error) {
	out, err := r.queryCalls(ctx, `
		SELECT `+callColumns+` FROM call_requests
		WHERE status = $1 AND deleted_at IS NULL
		  AND scheduled_end_at IS NOT NULL AND scheduled_end_at <= $2
		ORDER BY scheduled_at, id`,
		StatusScheduled.StorageValue(), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("find overdue calls: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) GetTotalCallMinutes(ctx context.Context, subscriberID string, tr TimeRange) (int, error) {
	if err := tr.Validate(); err != nil {
		return 0, err
	}
	var total int
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(actual_duration), 0) FROM call_requests
		WHERE subscriber_id = $1 AND status = $2 AND deleted_at IS NULL
		  AND completed_at >= $3 AND completed_at < $4`,
		subscriberID, StatusCompleted.StorageValue(), tr.From.UTC(), tr.To.UTC(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total call minutes: %w", err)
	}
	return total, nil
}
