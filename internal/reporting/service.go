package reporting

import (
	"context"
	"errors"

	"consult-platform/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Implementations must filter by the owner id they are given.
// - Deleted call requests are never returned.
type Repository interface {
	ListSubscriberCalls(ctx context.Context, subscriberID string, r TimeRange) ([]calls.CallRequest, error)
	ListProviderCalls(ctx context.Context, providerID string, r TimeRange) ([]calls.CallRequest, error)
}

type Service struct {
	repo        Repository
	unitMinutes int
}

func NewService(repo Repository, unitMinutes int) *Service {
	if unitMinutes <= 0 {
		unitMinutes = calls.DefaultBillableUnitMinutes
	}
	return &Service{repo: repo, unitMinutes: unitMinutes}
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.SubscriberID == "" || !req.Range.valid() {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListSubscriberCalls(ctx, req.SubscriberID, req.Range)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{SubscriberID: req.SubscriberID, ByStatus: map[calls.Status]int{}, UnitMinutes: s.unitMinutes}
	for _, c := range rows {
		out.TotalCalls++
		out.ByStatus[c.Status]++
		if c.RecordingURL != nil {
			out.RecordedCalls++
		}
		switch c.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
			if c.ActualDuration != nil {
				out.TotalMinutes += *c.ActualDuration
				d, err := calls.NewDuration(*c.ActualDuration)
				if err == nil {
					out.BillableMinutes += d.BillableMinutes(s.unitMinutes)
				}
			}
		case calls.StatusCancelled:
			out.CancelledCalls++
		case calls.StatusNoShow:
			out.NoShowCalls++
		}
	}
	if out.CompletedCalls > 0 {
		out.AverageMinutes = out.TotalMinutes / out.CompletedCalls
	}
	// Rates are over calls that reached a slot: completed or no-show.
	if held := out.CompletedCalls + out.NoShowCalls; held > 0 {
		out.CompletionRate = float64(out.CompletedCalls) / float64(held)
		out.NoShowRate = float64(out.NoShowCalls) / float64(held)
	}
	return out, nil
}

func (s *Service) ProviderLoad(ctx context.Context, req ProviderLoadRequest) (ProviderLoad, error) {
	if req.ProviderID == "" || !req.Range.valid() {
		return ProviderLoad{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return ProviderLoad{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListProviderCalls(ctx, req.ProviderID, req.Range)
	if err != nil {
		return ProviderLoad{}, err
	}

	out := ProviderLoad{ProviderID: req.ProviderID}
	for _, c := range rows {
		w, ok := c.Window()
		if !ok || !req.Range.contains(w.Start) {
			continue
		}
		switch c.Status {
		case calls.StatusScheduled, calls.StatusInProgress:
			out.ScheduledCalls++
			out.BookedMinutes += w.Duration.Minutes()
		case calls.StatusCompleted:
			out.CompletedCalls++
			out.BookedMinutes += w.Duration.Minutes()
			if c.ActualDuration != nil {
				out.CompletedMinutes += *c.ActualDuration
			}
		case calls.StatusNoShow:
			out.NoShowCalls++
		}
	}
	if out.BookedMinutes > 0 {
		out.Utilization = float64(out.CompletedMinutes) / float64(out.BookedMinutes)
	}
	return out, nil
}
