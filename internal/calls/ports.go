package calls

import (
	"context"
	"time"
)

// QuotaChecker is consulted before a call request is created. A non-nil error
// rejects the request and is returned to the caller unchanged.
type QuotaChecker interface {
	CheckCallQuota(ctx context.Context, subscriberID string) error
}

// ProviderValidator is consulted before a provider is assigned.
type ProviderValidator interface {
	ValidateProvider(ctx context.Context, providerID string) error
}

// StatusChange is emitted after a transition has committed.
type StatusChange struct {
	EventID       string     `json:"event_id"`
	CallID        string     `json:"call_id"`
	RequestNumber string     `json:"request_number"`
	SubscriberID  string     `json:"subscriber_id"`
	ProviderID    *string    `json:"provider_id,omitempty"`
	From          *Status    `json:"from,omitempty"`
	To            Status     `json:"to"`
	Reason        string     `json:"reason,omitempty"`
	ChangedBy     *string    `json:"changed_by,omitempty"`
	ChangedAt     time.Time  `json:"changed_at"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
}

// Notifier receives committed status changes. It never runs inside the
// entity+audit transaction, and its errors are logged, not returned.
type Notifier interface {
	CallStatusChanged(ctx context.Context, change StatusChange) error
}

// ProviderLocker serializes scheduling for one provider across processes.
// unlock must be safe to call once the lock is held.
type ProviderLocker interface {
	LockProvider(ctx context.Context, providerID string) (unlock func(), err error)
}

type actorKey struct{}

// WithActor records who is acting; the id lands in StatusHistory.ChangedBy.
// Transitions without an actor are recorded as system-driven.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

func ActorFrom(ctx context.Context) *string {
	v, ok := ctx.Value(actorKey{}).(string)
	if !ok || v == "" {
		return nil
	}
	return &v
}
