package reporting

import (
	"time"

	"consult-platform/internal/calls"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

// contains is half-open: [From, To).
func (r TimeRange) contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// inSummaryRange reports whether c belongs to a subscriber summary over r.
// Completed calls count by CompletedAt, matching billed minutes; the rest by CreatedAt.
func (r TimeRange) inSummaryRange(c calls.CallRequest) bool {
	if c.Status == calls.StatusCompleted && c.CompletedAt != nil {
		return r.contains(*c.CompletedAt)
	}
	return r.contains(c.CreatedAt)
}

// CallsSummaryRequest aggregates the calls of one subscriber in Range.
type CallsSummaryRequest struct {
	SubscriberID string    `json:"subscriber_id"`
	Range        TimeRange `json:"range"`
}

type CallsSummary struct {
	SubscriberID string `json:"subscriber_id"`

	TotalCalls int                  `json:"total_calls"`
	ByStatus   map[calls.Status]int `json:"by_status"`

	CompletedCalls int `json:"completed_calls"`
	CancelledCalls int `json:"cancelled_calls"`
	NoShowCalls    int `json:"no_show_calls"`
	RecordedCalls  int `json:"recorded_calls"`

	TotalMinutes   int `json:"total_minutes"`
	AverageMinutes int `json:"average_minutes"`

	// Billable minutes round each completed call up on its own.
	BillableMinutes int `json:"billable_minutes"`
	UnitMinutes     int `json:"unit_minutes"`

	CompletionRate float64 `json:"completion_rate"`
	NoShowRate     float64 `json:"no_show_rate"`
}

// ProviderLoadRequest looks at one provider's booked and delivered time in Range.
type ProviderLoadRequest struct {
	ProviderID string    `json:"provider_id"`
	Range      TimeRange `json:"range"`
}

type ProviderLoad struct {
	ProviderID string `json:"provider_id"`

	ScheduledCalls int `json:"scheduled_calls"`
	BookedMinutes  int `json:"booked_minutes"`

	CompletedCalls   int `json:"completed_calls"`
	CompletedMinutes int `json:"completed_minutes"`
	NoShowCalls      int `json:"no_show_calls"`

	// Utilization is CompletedMinutes over BookedMinutes, 0 when nothing is booked.
	Utilization float64 `json:"utilization"`
}
