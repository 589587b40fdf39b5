package reporting

import (
	"context"

	"consult-platform/internal/calls"
)

// CallLister is the read side of calls.Service used for reporting.
type CallLister interface {
	ListBySubscriber(ctx context.Context, subscriberID string, p calls.Page) ([]calls.CallRequest, int, error)
	ListByProvider(ctx context.Context, providerID string, p calls.Page) ([]calls.CallRequest, int, error)
}

// CallsSource implements Repository by paging through the call listings.
type CallsSource struct {
	calls    CallLister
	pageSize int
}

func NewCallsSource(l CallLister) *CallsSource { return &CallsSource{calls: l, pageSize: 100} }

func (s *CallsSource) ListSubscriberCalls(ctx context.Context, subscriberID string, tr TimeRange) ([]calls.CallRequest, error) {
	return s.collect(ctx, func(p calls.Page) ([]calls.CallRequest, int, error) {
		return s.calls.ListBySubscriber(ctx, subscriberID, p)
	}, func(c calls.CallRequest) bool {
		return tr.inSummaryRange(c)
	})
}

func (s *CallsSource) ListProviderCalls(ctx context.Context, providerID string, tr TimeRange) ([]calls.CallRequest, error) {
	return s.collect(ctx, func(p calls.Page) ([]calls.CallRequest, int, error) {
		return s.calls.ListByProvider(ctx, providerID, p)
	}, func(c calls.CallRequest) bool {
		return c.ScheduledAt != nil && tr.contains(*c.ScheduledAt)
	})
}

func (s *CallsSource) collect(ctx context.Context, page func(calls.Page) ([]calls.CallRequest, int, error), keep func(calls.CallRequest) bool) ([]calls.CallRequest, error) {
	out := make([]calls.CallRequest, 0)
	for offset := 0; ; offset += s.pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, total, err := page(calls.Page{Limit: s.pageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, c := range rows {
			if keep(c) {
				out = append(out, c)
			}
		}
		if len(rows) == 0 || offset+len(rows) >= total {
			return out, nil
		}
	}
}
