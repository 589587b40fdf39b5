package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Window is a half-open booking interval [Start, Start+Duration).
type Window struct {
	Start    time.Time
	Duration Duration
}

func (w Window) End() time.Time { return EndOf(w.Start, w.Duration) }

// Overlaps reports whether a and b share any instant. Windows that only touch
// (one ends exactly when the other starts) do not overlap.
func Overlaps(a, b Window) bool {
	return a.Start.Before(b.End()) && b.Start.Before(a.End())
}

// ConflictQuery describes a proposed booking for a provider.
// ExcludeID skips the booking being rescheduled.
type ConflictQuery struct {
	ProviderID      string
	Start           time.Time
	DurationMinutes int
	ExcludeID       string
}

func (q ConflictQuery) Validate() error {
	if strings.TrimSpace(q.ProviderID) == "" {
		return invalid("provider_id", "is required")
	}
	if q.Start.IsZero() {
		return invalid("scheduled_at", "is required")
	}
	if q.DurationMinutes <= 0 {
		return invalid("duration_minutes", fmt.Sprintf("must be positive, got %d", q.DurationMinutes))
	}
	return nil
}

func (q ConflictQuery) Window() Window {
	return Window{Start: q.Start, Duration: mustDuration(q.DurationMinutes)}
}

// FindConflicts filters candidates down to the bookings that block q.
// Only SCHEDULED and IN_PROGRESS bookings with both a start and a duration count.
func FindConflicts(candidates []CallRequest, q ConflictQuery) []CallRequest {
	proposed := q.Window()
	out := make([]CallRequest, 0)
	for _, c := range candidates {
		if c.IsDeleted() || c.ID == q.ExcludeID {
			continue
		}
		if c.AssignedProviderID == nil || *c.AssignedProviderID != q.ProviderID {
			continue
		}
		if !blocksCalendar(c.Status) {
			continue
		}
		w, ok := c.Window()
		if !ok {
			continue
		}
		if Overlaps(proposed, w) {
			out = append(out, c)
		}
	}
	return out
}

// ConflictDetector answers availability questions against a Repository.
// Use it with the transaction-scoped repository when the answer guards a write.
type ConflictDetector struct {
	repo Repository
}

func NewConflictDetector(repo Repository) *ConflictDetector {
	return &ConflictDetector{repo: repo}
}

func (d *ConflictDetector) FindConflicts(ctx context.Context, q ConflictQuery) ([]CallRequest, error) {
	if d.repo == nil {
		return nil, errors.New("calls: conflict detector has no repository")
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return d.repo.FindConflictingCalls(ctx, q)
}

func (d *ConflictDetector) IsAvailable(ctx context.Context, q ConflictQuery) (bool, error) {
	conflicts, err := d.FindConflicts(ctx, q)
	if err != nil {
		return false, err
	}
	return len(conflicts) == 0, nil
}

// Check returns a *ConflictError listing every overlapping booking, or nil.
func (d *ConflictDetector) Check(ctx context.Context, q ConflictQuery) error {
	conflicts, err := d.FindConflicts(ctx, q)
	if err != nil {
		return err
	}
	if len(conflicts) == 0 {
		return nil
	}
	ids := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		ids = append(ids, c.ID)
	}
	w := q.Window()
	return &ConflictError{ProviderID: q.ProviderID, Start: w.Start, End: w.End(), ConflictingIDs: ids}
}
