package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"consult-platform/internal/audit"
)

// Options wires the collaborators and transaction bounds of a Service.
// Nil collaborators are skipped.
type Options struct {
	Quota     QuotaChecker
	Providers ProviderValidator
	Notifier  Notifier
	Locker    ProviderLocker
	Logger    *slog.Logger

	// DefaultRegion parses phone call links without a country prefix.
	DefaultRegion       string
	BillableUnitMinutes int

	// SchedulingTx bounds Schedule and Reschedule. Isolation is always serializable.
	SchedulingTx TxOptions
	DefaultTx    TxOptions
}

func (o Options) withDefaults() Options {
	out := o
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.BillableUnitMinutes <= 0 {
		out.BillableUnitMinutes = DefaultBillableUnitMinutes
	}
	if strings.TrimSpace(out.DefaultRegion) == "" {
		out.DefaultRegion = "US"
	}
	out.DefaultTx = txDefaults(out.DefaultTx, 2)
	if out.DefaultTx.Isolation == sql.LevelDefault {
		out.DefaultTx.Isolation = sql.LevelReadCommitted
	}
	out.SchedulingTx = txDefaults(out.SchedulingTx, 3)
	out.SchedulingTx.Isolation = sql.LevelSerializable
	return out
}

func txDefaults(o TxOptions, retries int) TxOptions {
	if o.MaxWait <= 0 {
		o.MaxWait = 2 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = 2 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = retries
	}
	return o
}

// Service implements the call request workflow. Every status change commits
// the aggregate and exactly one history row together, then notifies.
type Service struct {
	uow   UnitOfWork
	opts  Options
	log   *slog.Logger
	clock func() time.Time
}

func NewService(uow UnitOfWork, opts Options) *Service {
	opts = opts.withDefaults()
	return &Service{uow: uow, opts: opts, log: opts.Logger, clock: time.Now}
}

// WithClock replaces the time source; used by tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) now() time.Time { return s.clock().UTC() }

func (s *Service) Create(ctx context.Context, p CreateParams) (*CallRequest, error) {
	if s.opts.Quota != nil {
		if err := s.opts.Quota.CheckCallQuota(ctx, p.SubscriberID); err != nil {
			return nil, err
		}
	}

	var (
		out    *CallRequest
		change StatusChange
	)
	err := s.uow.Transaction(ctx, s.opts.DefaultTx, func(ctx context.Context, r Repos) error {
		now := s.now()
		c, err := NewCallRequest(p, now)
		if err != nil {
			return err
		}
		if err := r.Calls.Create(ctx, c); err != nil {
			return err
		}
		h, err := s.record(ctx, r.History, c, nil, "created", now)
		if err != nil {
			return err
		}
		out = c
		change = newStatusChange(c, nil, h)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, change)
	return out, nil
}

func (s *Service) AssignProvider(ctx context.Context, id, providerID, reason string) (*CallRequest, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, invalid("provider_id", "is required")
	}
	if s.opts.Providers != nil {
		if err := s.opts.Providers.ValidateProvider(ctx, providerID); err != nil {
			return nil, err
		}
	}
	return s.transition(ctx, id, s.opts.DefaultTx, orDefault(reason, "provider assigned"),
		func(ctx context.Context, r Repos, c *CallRequest, now time.Time) (Status, error) {
			return c.AssignProvider(providerID, now)
		})
}

// Schedule books the call for its assigned provider. The window is checked
// against the provider's calendar inside the same serializable transaction
// that writes it.
func (s *Service) Schedule(ctx context.Context, id string, p ScheduleParams) (*CallRequest, error) {
	unlock, err := s.lockProviderOf(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.transition(ctx, id, s.opts.SchedulingTx, "scheduled",
		func(ctx context.Context, r Repos, c *CallRequest, now time.Time) (Status, error) {
			if p.CallLink != nil {
				platform, link, err := s.normalizeLink(c, *p.CallLink, p.Platform)
				if err != nil {
					return c.Status, err
				}
				p.Platform, p.CallLink = &platform, &link
			}
			prev, err := c.Schedule(p, now)
			if err != nil {
				return prev, err
			}
			return prev, s.checkWindow(ctx, r, c)
		})
}

// Reschedule moves a SCHEDULED or NO_SHOW call to a new window. The new
// window must be free; it is booked for good by a later Schedule.
func (s *Service) Reschedule(ctx context.Context, id string, p RescheduleParams) (*CallRequest, error) {
	unlock, err := s.lockProviderOf(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	reason := "rescheduled"
	if p.Reason != nil && strings.TrimSpace(*p.Reason) != "" {
		reason = *p.Reason
	}
	return s.transition(ctx, id, s.opts.SchedulingTx, reason,
		func(ctx context.Context, r Repos, c *CallRequest, now time.Time) (Status, error) {
			prev, err := c.Reschedule(p, now)
			if err != nil {
				return prev, err
			}
			return prev, s.checkWindow(ctx, r, c)
		})
}

func (s *Service) StartCall(ctx context.Context, id string) (*CallRequest, error) {
	return s.transition(ctx, id, s.opts.DefaultTx, "call started",
		func(ctx context.Context, r Repos, c *CallRequest, now time.Time) (Status, error) {
			return c.StartCall(now)
		})
}

func (s *Service) EndCall(ctx context.Context, id string, recordingURL *string) (*CallRequest, error) {
	return s.transition(ctx, id, s.opts.DefaultTx, "call ended",
		func(ctx context.Context, r Repos, c *CallRequest, now time.Time) (Status, error) {
			return c.EndCall(recordingURL, now)
		})
}

func (s *Service) Cancel(ctx context.Context, id string, reason *string) (*CallRequest, error) {
	msg := "cancelled"
	if reason != nil && strings.TrimSpace(*reason) != "" {
		msg = *reason
	}
	return s.transition(ctx, id, s.opts.DefaultTx, msg,
		func(ctx context.Context, r Repos, c *CallRequest, now time.Time) (Status, error) {
			return c.Cancel(reason, now)
		})
}

func (s *Service) MarkNoShow(ctx context.Context, id, reason string) (*CallRequest, error) {
	return s.transition(ctx, id, s.opts.DefaultTx, orDefault(reason, "no show"),
		func(ctx context.Context, r Repos, c *CallRequest, now time.Time) (Status, error) {
			return c.MarkNoShow(now)
		})
}

// UpdateCallLink changes the link without a status change, so no history row is written.
func (s *Service) UpdateCallLink(ctx context.Context, id, link string, platform *Platform) (*CallRequest, error) {
	return s.modify(ctx, id, func(c *CallRequest, now time.Time) error {
		p, normalized, err := s.normalizeLink(c, link, platform)
		if err != nil {
			return err
		}
		return c.UpdateCallLink(normalized, &p, now)
	})
}

func (s *Service) UpdateDetails(ctx context.Context, id string, p DetailsParams) (*CallRequest, error) {
	return s.modify(ctx, id, func(c *CallRequest, now time.Time) error {
		return c.UpdateDetails(p, now)
	})
}

// Delete soft-deletes a call that does not hold provider time.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.uow.Transaction(ctx, s.opts.DefaultTx, func(ctx context.Context, r Repos) error {
		c, err := r.Calls.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if blocksCalendar(c.Status) {
			return &TransitionError{CallID: c.ID, From: c.Status, To: c.Status, Reason: "cancel or complete the call before deleting it"}
		}
		return r.Calls.SoftDelete(ctx, id, s.now())
	})
}

type mutateFunc func(ctx context.Context, r Repos, c *CallRequest, now time.Time) (Status, error)

// transition loads the aggregate, applies mutate, then persists it with one
// history row. Nothing is written when mutate fails.
func (s *Service) transition(ctx context.Context, id string, opts TxOptions, reason string, mutate mutateFunc) (*CallRequest, error) {
	var (
		out    *CallRequest
		change StatusChange
	)
	err := s.uow.Transaction(ctx, opts, func(ctx context.Context, r Repos) error {
		c, err := r.Calls.FindByID(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		prev, err := mutate(ctx, r, c, now)
		if err != nil {
			return err
		}
		if err := r.Calls.Update(ctx, c); err != nil {
			return err
		}
		h, err := s.record(ctx, r.History, c, &prev, reason, now)
		if err != nil {
			return err
		}
		out = c
		change = newStatusChange(c, &prev, h)
		return nil
	})
	if err != nil {
		s.log.DebugContext(ctx, "call transition rejected", "call_id", id, "err", err)
		return nil, err
	}
	s.log.DebugContext(ctx, "call transition committed", "call_id", id, "from", change.From, "to", change.To)
	s.notify(ctx, change)
	return out, nil
}

func (s *Service) modify(ctx context.Context, id string, fn func(c *CallRequest, now time.Time) error) (*CallRequest, error) {
	var out *CallRequest
	err := s.uow.Transaction(ctx, s.opts.DefaultTx, func(ctx context.Context, r Repos) error {
		c, err := r.Calls.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(c, s.now()); err != nil {
			return err
		}
		if err := r.Calls.Update(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) checkWindow(ctx context.Context, r Repos, c *CallRequest) error {
	w, ok := c.Window()
	if !ok || c.AssignedProviderID == nil {
		return nil
	}
	return NewConflictDetector(r.Calls).Check(ctx, ConflictQuery{
		ProviderID:      *c.AssignedProviderID,
		Start:           w.Start,
		DurationMinutes: w.Duration.Minutes(),
		ExcludeID:       c.ID,
	})
}

// lockProviderOf takes the provider lock for the call's current provider.
// The returned unlock is always safe to call.
func (s *Service) lockProviderOf(ctx context.Context, id string) (func(), error) {
	noop := func() {}
	if s.opts.Locker == nil {
		return noop, nil
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return noop, err
	}
	if c.AssignedProviderID == nil {
		// Schedule will reject the call; nothing to serialize.
		return noop, nil
	}
	unlock, err := s.opts.Locker.LockProvider(ctx, *c.AssignedProviderID)
	if err != nil {
		return noop, err
	}
	return unlock, nil
}

func (s *Service) normalizeLink(c *CallRequest, link string, platform *Platform) (Platform, string, error) {
	p := PlatformOther
	switch {
	case platform != nil:
		p = *platform
	case c.CallPlatform != nil:
		p = *c.CallPlatform
	}
	normalized, err := NormalizeCallLink(p, link, s.opts.DefaultRegion)
	if err != nil {
		return "", "", err
	}
	return p, normalized, nil
}

func (s *Service) record(ctx context.Context, repo audit.Repository, c *CallRequest, from *Status, reason string, now time.Time) (*audit.StatusHistory, error) {
	var fromValue *string
	if from != nil {
		v := from.StorageValue()
		fromValue = &v
	}
	h, err := audit.NewStatusHistory(c.ID, fromValue, c.Status.StorageValue(), reason, ActorFrom(ctx), now)
	if err != nil {
		return nil, err
	}
	if err := repo.Create(ctx, h); err != nil {
		return nil, fmt.Errorf("record status history: %w", err)
	}
	return h, nil
}

func newStatusChange(c *CallRequest, from *Status, h *audit.StatusHistory) StatusChange {
	return StatusChange{
		EventID:       h.ID,
		CallID:        c.ID,
		RequestNumber: c.RequestNumber,
		SubscriberID:  c.SubscriberID,
		ProviderID:    clonePtr(c.AssignedProviderID),
		From:          clonePtr(from),
		To:            c.Status,
		Reason:        h.Reason,
		ChangedBy:     clonePtr(h.ChangedBy),
		ChangedAt:     h.ChangedAt,
		ScheduledAt:   clonePtr(c.ScheduledAt),
	}
}

// notify runs after commit. Failures are logged and dropped.
func (s *Service) notify(ctx context.Context, change StatusChange) {
	if s.opts.Notifier == nil || change.CallID == "" {
		return
	}
	if err := s.opts.Notifier.CallStatusChanged(ctx, change); err != nil {
		s.log.WarnContext(ctx, "status change notification failed",
			"call_id", change.CallID,
			"event_id", change.EventID,
			"to", change.To,
			"err", err,
		)
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// --- reads ---

func (s *Service) read(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return s.uow.Transaction(ctx, s.opts.DefaultTx, fn)
}

func (s *Service) Get(ctx context.Context, id string) (*CallRequest, error) {
	var out *CallRequest
	err := s.read(ctx, func(ctx context.Context, r Repos) error {
		c, err := r.Calls.FindByID(ctx, id)
		out = c
		return err
	})
	return out, err
}

// HistoryEntry is a status history row in domain terms.
type HistoryEntry struct {
	ID        string    `json:"id"`
	From      *Status   `json:"from_status,omitempty"`
	To        Status    `json:"to_status"`
	Reason    string    `json:"reason,omitempty"`
	ChangedBy *string   `json:"changed_by,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

func historyEntry(h audit.StatusHistory) (HistoryEntry, error) {
	to, err := StatusFromStorage(h.ToStatus)
	if err != nil {
		return HistoryEntry{}, err
	}
	e := HistoryEntry{ID: h.ID, To: to, Reason: h.Reason, ChangedBy: h.ChangedBy, ChangedAt: h.ChangedAt}
	if h.FromStatus != nil {
		from, err := StatusFromStorage(*h.FromStatus)
		if err != nil {
			return HistoryEntry{}, err
		}
		e.From = &from
	}
	return e, nil
}

// History returns the call's status changes, oldest first.
func (s *Service) History(ctx context.Context, id string, p Page) ([]HistoryEntry, int, error) {
	p = p.normalize()
	var (
		out   []HistoryEntry
		total int
	)
	err := s.read(ctx, func(ctx context.Context, r Repos) error {
		if _, err := r.Calls.FindByID(ctx, id); err != nil {
			return err
		}
		rows, n, err := r.History.FindByCallRequestID(ctx, id, p.Limit, p.Offset)
		if err != nil {
			return err
		}
		out = make([]HistoryEntry, 0, len(rows))
		for _, h := range rows {
			e, err := historyEntry(h)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		total = n
		return nil
	})
	return out, total, err
}

func (s *Service) LatestStatusChange(ctx context.Context, id string) (*HistoryEntry, error) {
	var out *HistoryEntry
	err := s.read(ctx, func(ctx context.Context, r Repos) error {
		h, err := r.History.FindLatest(ctx, id)
		if errors.Is(err, audit.ErrNotFound) {
			return &NotFoundError{Entity: "status history", ID: id}
		}
		if err != nil {
			return err
		}
		e, err := historyEntry(*h)
		if err != nil {
			return err
		}
		out = &e
		return nil
	})
	return out, err
}

func (s *Service) ListBySubscriber(ctx context.Context, subscriberID string, p Page) ([]CallRequest, int, error) {
	var (
		out   []CallRequest
		total int
	)
	err := s.read(ctx, func(ctx context.Context, r Repos) (err error) {
		out, total, err = r.Calls.FindBySubscriber(ctx, subscriberID, p)
		return err
	})
	return out, total, err
}

func (s *Service) ListByProvider(ctx context.Context, providerID string, p Page) ([]CallRequest, int, error) {
	var (
		out   []CallRequest
		total int
	)
	err := s.read(ctx, func(ctx context.Context, r Repos) (err error) {
		out, total, err = r.Calls.FindByProvider(ctx, providerID, p)
		return err
	})
	return out, total, err
}

func (s *Service) ScheduledCalls(ctx context.Context, tr TimeRange, providerID *string) ([]CallRequest, error) {
	var out []CallRequest
	err := s.read(ctx, func(ctx context.Context, r Repos) (err error) {
		out, err = r.Calls.FindScheduledCalls(ctx, tr, providerID)
		return err
	})
	return out, err
}

func (s *Service) UpcomingForProvider(ctx context.Context, providerID string, limit int) ([]CallRequest, error) {
	var out []CallRequest
	err := s.read(ctx, func(ctx context.Context, r Repos) (err error) {
		out, err = r.Calls.FindUpcomingCallsForProvider(ctx, providerID, s.now(), limit)
		return err
	})
	return out, err
}

// OverdueCalls lists SCHEDULED calls whose window has already ended.
func (s *Service) OverdueCalls(ctx context.Context) ([]CallRequest, error) {
	var out []CallRequest
	err := s.read(ctx, func(ctx context.Context, r Repos) (err error) {
		out, err = r.Calls.FindOverdueCalls(ctx, s.now())
		return err
	})
	return out, err
}

// Availability is the answer to a provider availability query.
type Availability struct {
	Available      bool     `json:"available"`
	ConflictingIDs []string `json:"conflicting_ids"`
}

func (s *Service) CheckAvailability(ctx context.Context, q ConflictQuery) (Availability, error) {
	var out Availability
	err := s.read(ctx, func(ctx context.Context, r Repos) error {
		conflicts, err := NewConflictDetector(r.Calls).FindConflicts(ctx, q)
		if err != nil {
			return err
		}
		out.ConflictingIDs = make([]string, 0, len(conflicts))
		for _, c := range conflicts {
			out.ConflictingIDs = append(out.ConflictingIDs, c.ID)
		}
		out.Available = len(conflicts) == 0
		return nil
	})
	return out, err
}

// CallMinutes totals a subscriber's completed call time.
type CallMinutes struct {
	SubscriberID    string    `json:"subscriber_id"`
	Range           TimeRange `json:"range"`
	TotalMinutes    int       `json:"total_minutes"`
	BillableUnits   int       `json:"billable_units"`
	BillableMinutes int       `json:"billable_minutes"`
	UnitMinutes     int       `json:"unit_minutes"`
}

// TotalCallMinutes rounds the summed minutes up to whole billable units.
func (s *Service) TotalCallMinutes(ctx context.Context, subscriberID string, tr TimeRange) (CallMinutes, error) {
	if strings.TrimSpace(subscriberID) == "" {
		return CallMinutes{}, invalid("subscriber_id", "is required")
	}
	var total int
	err := s.read(ctx, func(ctx context.Context, r Repos) (err error) {
		total, err = r.Calls.GetTotalCallMinutes(ctx, subscriberID, tr)
		return err
	})
	if err != nil {
		return CallMinutes{}, err
	}
	d := mustDuration(total)
	unit := s.opts.BillableUnitMinutes
	return CallMinutes{
		SubscriberID:    subscriberID,
		Range:           tr,
		TotalMinutes:    total,
		BillableUnits:   d.BillableUnits(unit),
		BillableMinutes: d.BillableMinutes(unit),
		UnitMinutes:     unit,
	}, nil
}
