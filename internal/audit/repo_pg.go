package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"consult-platform/pkg/utils"

	"github.com/google/uuid"
)

// PostgresRepo stores status history in call_status_history.
// Bind it to a *sql.Tx to take part in the caller's transaction.
type PostgresRepo struct {
	db utils.DBTX
}

func NewPostgresRepo(db utils.DBTX) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Create(ctx context.Context, h *StatusHistory) error {
	if h == nil {
		return ErrInvalidEntry
	}
	if err := h.Validate(); err != nil {
		return err
	}
	if !validCallID(h.CallRequestID) {
		return fmt.Errorf("%w: call_request_id must be a uuid", ErrInvalidEntry)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO call_status_history (id, call_request_id, from_status, to_status, reason, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.ID, h.CallRequestID, h.FromStatus, h.ToStatus, h.Reason, h.ChangedBy, h.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

// validCallID guards the uuid call_request_id column; a malformed id has no history.
func validCallID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *PostgresRepo) FindByCallRequestID(ctx context.Context, callRequestID string, limit, offset int) ([]StatusHistory, int, error) {
	if !validCallID(callRequestID) {
		return []StatusHistory{}, 0, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM call_status_history WHERE call_request_id = $1`, callRequestID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count status history: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, call_request_id, from_status, to_status, reason, changed_by, changed_at
		FROM call_status_history
		WHERE call_request_id = $1
		ORDER BY changed_at, seq
		LIMIT $2 OFFSET $3`, callRequestID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	out := make([]StatusHistory, 0)
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(&h.ID, &h.CallRequestID, &h.FromStatus, &h.ToStatus, &h.Reason, &h.ChangedBy, &h.ChangedAt); err != nil {
			return nil, 0, fmt.Errorf("scan status history: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *PostgresRepo) FindLatest(ctx context.Context, callRequestID string) (*StatusHistory, error) {
	if !validCallID(callRequestID) {
		return nil, ErrNotFound
	}
	var h StatusHistory
	err := r.db.QueryRowContext(ctx, `
		SELECT id, call_request_id, from_status, to_status, reason, changed_by, changed_at
		FROM call_status_history
		WHERE call_request_id = $1
		ORDER BY changed_at DESC, seq DESC
		LIMIT 1`, callRequestID,
	).Scan(&h.ID, &h.CallRequestID, &h.FromStatus, &h.ToStatus, &h.Reason, &h.ChangedBy, &h.ChangedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest status history: %w", err)
	}
	return &h, nil
}

func (r *PostgresRepo) PurgeByCallRequestID(ctx context.Context, callRequestID string) (int, error) {
	if !validCallID(callRequestID) {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM call_status_history WHERE call_request_id = $1`, callRequestID)
	if err != nil {
		return 0, fmt.Errorf("purge status history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
