package reporting

import (
	"context"
	"errors"
	"sync"

	"consult-platform/internal/calls"
)

// MemoryRepo is a simple in-memory reporting repository for tests.
// Subscriber reads filter on CompletedAt for completed calls and CreatedAt
// otherwise; provider reads filter on ScheduledAt.
type MemoryRepo struct {
	mu sync.Mutex

	Calls []calls.CallRequest
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListSubscriberCalls(ctx context.Context, subscriberID string, tr TimeRange) ([]calls.CallRequest, error) {
	if subscriberID == "" {
		return nil, errors.New("subscriber_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.CallRequest, 0)
	for _, c := range r.Calls {
		if c.SubscriberID != subscriberID || c.IsDeleted() || !tr.inSummaryRange(c) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) ListProviderCalls(ctx context.Context, providerID string, tr TimeRange) ([]calls.CallRequest, error) {
	if providerID == "" {
		return nil, errors.New("provider_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.CallRequest, 0)
	for _, c := range r.Calls {
		if c.AssignedProviderID == nil || *c.AssignedProviderID != providerID || c.IsDeleted() {
			continue
		}
		if c.ScheduledAt == nil || !tr.contains(*c.ScheduledAt) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
