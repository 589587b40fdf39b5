package calls

import (
	"context"
	"time"
)

// Repository is the persistence contract for call requests.
//
// Soft-deleted rows are invisible to every read. FindByID returns a
// *NotFoundError when the id does not resolve.
type Repository interface {
	FindByID(ctx context.Context, id string) (*CallRequest, error)
	Create(ctx context.Context, c *CallRequest) error
	Update(ctx context.Context, c *CallRequest) error
	SoftDelete(ctx context.Context, id string, at time.Time) error

	FindConflictingCalls(ctx context.Context, q ConflictQuery) ([]CallRequest, error)
	IsProviderAvailable(ctx context.Context, q ConflictQuery) (bool, error)

	FindBySubscriber(ctx context.Context, subscriberID string, p Page) ([]CallRequest, int, error)
	FindByProvider(ctx context.Context, providerID string, p Page) ([]CallRequest, int, error)
	// FindScheduledCalls lists SCHEDULED calls starting inside r, optionally for one provider.
	FindScheduledCalls(ctx context.Context, r TimeRange, providerID *string) ([]CallRequest, error)
	FindUpcomingCallsForProvider(ctx context.Context, providerID string, from time.Time, limit int) ([]CallRequest, error)
	// FindOverdueCalls lists SCHEDULED calls whose window ended at or before now.
	FindOverdueCalls(ctx context.Context, now time.Time) ([]CallRequest, error)
	// GetTotalCallMinutes sums ActualDuration of COMPLETED calls completed inside r.
	GetTotalCallMinutes(ctx context.Context, subscriberID string, r TimeRange) (int, error)
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalize() Page {
	out := p
	if out.Limit <= 0 {
		out.Limit = defaultPageLimit
	}
	if out.Limit > maxPageLimit {
		out.Limit = maxPageLimit
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	return out
}

// TimeRange is half-open: From is included, To is not.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return invalid("range", "from and to are required")
	}
	if !r.To.After(r.From) {
		return invalid("range", "to must be after from")
	}
	return nil
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}
