package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Repository is the persistence contract for status history.
//
// It MUST be append-only: there is no Update, and deletion lives on Purger so
// workflow code never holds it.
type Repository interface {
	Create(ctx context.Context, h *StatusHistory) error
	// FindByCallRequestID returns one page ordered by ChangedAt ascending, plus the total row count.
	FindByCallRequestID(ctx context.Context, callRequestID string, limit, offset int) ([]StatusHistory, int, error)
	// FindLatest returns ErrNotFound when the call request has no history.
	FindLatest(ctx context.Context, callRequestID string) (*StatusHistory, error)
}

// Purger removes history for administrative cleanup only.
type Purger interface {
	PurgeByCallRequestID(ctx context.Context, callRequestID string) (int, error)
}

// Service exposes the administrative side of the audit trail.
//
// IMPORTANT:
// - Purging is outside the normal workflow and is always logged.
// - Reads go through the calls unit of work, never through here.
type Service struct {
	purger Purger
	log    *slog.Logger
	clock  func() time.Time
}

func NewService(purger Purger, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{purger: purger, log: log, clock: time.Now}
}

var ErrPurgeReasonRequired = errors.New("audit: purge reason required")

// Purge deletes every history row of a call request.
func (s *Service) Purge(ctx context.Context, callRequestID, actorID, reason string) (int, error) {
	if s.purger == nil {
		return 0, errors.New("audit: purger not configured")
	}
	if callRequestID == "" {
		return 0, ErrInvalidEntry
	}
	if strings.TrimSpace(reason) == "" {
		return 0, ErrPurgeReasonRequired
	}
	n, err := s.purger.PurgeByCallRequestID(ctx, callRequestID)
	if err != nil {
		return 0, err
	}
	s.log.WarnContext(ctx, "status history purged",
		"call_request_id", callRequestID,
		"actor_id", actorID,
		"reason", reason,
		"rows", n,
		"at", s.clock().UTC(),
	)
	return n, nil
}
