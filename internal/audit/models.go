package audit

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StatusHistory is one immutable, append-only record of a call request status change.
//
// Invariants:
// - Exactly one row per transition, written in the same transaction as the entity.
// - Rows are never updated. Deletion happens only through Purger.
// - FromStatus is nil for the first status of a call request.
// - ChangedBy is nil for system-driven transitions.
//
// Statuses are stored in their persisted spelling; this package does not interpret them.
type StatusHistory struct {
	ID            string    `json:"id" db:"id"`
	CallRequestID string    `json:"call_request_id" db:"call_request_id"`
	FromStatus    *string   `json:"from_status,omitempty" db:"from_status"`
	ToStatus      string    `json:"to_status" db:"to_status"`
	Reason        string    `json:"reason,omitempty" db:"reason"`
	ChangedBy     *string   `json:"changed_by,omitempty" db:"changed_by"`
	ChangedAt     time.Time `json:"changed_at" db:"changed_at"`
}

var (
	ErrInvalidEntry = errors.New("audit: invalid status history entry")
	ErrNotFound     = errors.New("audit: not found")
)

// NewStatusHistory builds a validated entry with a fresh id, stamped at now.
func NewStatusHistory(callRequestID string, from *string, to, reason string, changedBy *string, now time.Time) (*StatusHistory, error) {
	h := &StatusHistory{
		ID:            uuid.NewString(),
		CallRequestID: callRequestID,
		FromStatus:    from,
		ToStatus:      to,
		Reason:        strings.TrimSpace(reason),
		ChangedBy:     changedBy,
		ChangedAt:     now.UTC(),
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h StatusHistory) Validate() error {
	if h.ID == "" || h.CallRequestID == "" || h.ToStatus == "" || h.ChangedAt.IsZero() {
		return ErrInvalidEntry
	}
	if h.FromStatus != nil && *h.FromStatus == "" {
		return ErrInvalidEntry
	}
	return nil
}
