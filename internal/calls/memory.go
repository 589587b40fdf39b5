package calls

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"consult-platform/internal/audit"
)

// MemoryStore is an in-memory UnitOfWork for tests and local runs.
//
// Transactions are fully serialized. Writes go to a staged copy that replaces
// the committed state only when the work returns nil.
type MemoryStore struct {
	// sem is a one-slot semaphore so waiting can honor MaxWait and ctx.
	sem chan struct{}

	mu      sync.RWMutex
	calls   map[string]CallRequest
	history *audit.MemoryRepo
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sem:     make(chan struct{}, 1),
		calls:   map[string]CallRequest{},
		history: audit.NewMemoryRepo(),
	}
}

type memTxKey struct{}

type memTx struct {
	store *MemoryStore
	repos Repos
}

func (s *MemoryStore) Transaction(ctx context.Context, opts TxOptions, work func(ctx context.Context, r Repos) error) error {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok && tx.store == s {
		return work(ctx, tx.repos)
	}

	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = 2 * time.Second
	}
	wait := time.NewTimer(maxWait)
	defer wait.Stop()
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-wait.C:
		return fmt.Errorf("%w: waited %s for transaction", ErrRetryable, maxWait)
	}
	defer func() { <-s.sem }()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	s.mu.RLock()
	staged := &memCallRepo{calls: make(map[string]CallRequest, len(s.calls))}
	for id, c := range s.calls {
		staged.calls[id] = c.clone()
	}
	stagedHistory := s.history.Clone()
	s.mu.RUnlock()

	tx := &memTx{store: s, repos: Repos{Calls: staged, History: stagedHistory}}
	if err := work(context.WithValue(ctx, memTxKey{}, tx), tx.repos); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrRetryable, err)
		}
		return err
	}

	s.mu.Lock()
	s.calls = staged.calls
	s.history.ReplaceFrom(stagedHistory)
	s.mu.Unlock()
	return nil
}

// Calls returns a repository over committed state, outside any transaction.
// Writes through it are applied immediately.
func (s *MemoryStore) Calls() Repository { return &memCommittedRepo{s: s} }

// History returns the committed audit trail for reads. Commits overwrite it,
// so deletes must go through PurgeByCallRequestID.
func (s *MemoryStore) History() *audit.MemoryRepo { return s.history }

// PurgeByCallRequestID deletes a call request's history as its own
// transaction, so it cannot be undone by a concurrent commit.
func (s *MemoryStore) PurgeByCallRequestID(ctx context.Context, callRequestID string) (int, error) {
	var n int
	err := s.Transaction(ctx, TxOptions{}, func(ctx context.Context, r Repos) error {
		staged, ok := r.History.(*audit.MemoryRepo)
		if !ok {
			return errors.New("calls: staged history is not purgeable")
		}
		var err error
		n, err = staged.PurgeByCallRequestID(ctx, callRequestID)
		return err
	})
	return n, err
}

// memCallRepo works on a staged map owned by a single transaction, so it needs no locking.
type memCallRepo struct {
	calls map[string]CallRequest
}

func (r *memCallRepo) FindByID(ctx context.Context, id string) (*CallRequest, error) {
	c, ok := r.calls[id]
	if !ok || c.IsDeleted() {
		return nil, &NotFoundError{Entity: "call request", ID: id}
	}
	out := c.clone()
	return &out, nil
}

func (r *memCallRepo) Create(ctx context.Context, c *CallRequest) error {
	if c == nil || c.ID == "" {
		return invalid("id", "is required")
	}
	if _, exists := r.calls[c.ID]; exists {
		return fmt.Errorf("calls: call request %s already exists", c.ID)
	}
	if err := r.checkExclusion(c); err != nil {
		return err
	}
	r.calls[c.ID] = c.clone()
	return nil
}

func (r *memCallRepo) Update(ctx context.Context, c *CallRequest) error {
	if c == nil {
		return invalid("call", "is required")
	}
	cur, ok := r.calls[c.ID]
	if !ok || cur.IsDeleted() {
		return &NotFoundError{Entity: "call request", ID: c.ID}
	}
	if err := r.checkExclusion(c); err != nil {
		return err
	}
	r.calls[c.ID] = c.clone()
	return nil
}

// checkExclusion mirrors the storage exclusion constraint on provider time ranges.
func (r *memCallRepo) checkExclusion(c *CallRequest) error {
	if !blocksCalendar(c.Status) || c.AssignedProviderID == nil || c.IsDeleted() {
		return nil
	}
	w, ok := c.Window()
	if !ok {
		return nil
	}
	q := ConflictQuery{ProviderID: *c.AssignedProviderID, Start: w.Start, DurationMinutes: w.Duration.Minutes(), ExcludeID: c.ID}
	if len(FindConflicts(r.all(), q)) > 0 {
		return &ConflictError{ProviderID: q.ProviderID, Start: w.Start, End: w.End()}
	}
	return nil
}

func (r *memCallRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	c, ok := r.calls[id]
	if !ok || c.IsDeleted() {
		return &NotFoundError{Entity: "call request", ID: id}
	}
	at = at.UTC()
	c.DeletedAt = &at
	c.UpdatedAt = at
	r.calls[id] = c
	return nil
}

func (r *memCallRepo) FindConflictingCalls(ctx context.Context, q ConflictQuery) ([]CallRequest, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	out := FindConflicts(r.all(), q)
	sortByScheduledAt(out)
	return out, nil
}

func (r *memCallRepo) IsProviderAvailable(ctx context.Context, q ConflictQuery) (bool, error) {
	conflicts, err := r.FindConflictingCalls(ctx, q)
	if err != nil {
		return false, err
	}
	return len(conflicts) == 0, nil
}

func (r *memCallRepo) FindBySubscriber(ctx context.Context, subscriberID string, p Page) ([]CallRequest, int, error) {
	return r.page(func(c CallRequest) bool { return c.SubscriberID == subscriberID }, p)
}

func (r *memCallRepo) FindByProvider(ctx context.Context, providerID string, p Page) ([]CallRequest, int, error) {
	return r.page(func(c CallRequest) bool {
		return c.AssignedProviderID != nil && *c.AssignedProviderID == providerID
	}, p)
}

func (r *memCallRepo) FindScheduledCalls(ctx context.Context, tr TimeRange, providerID *string) ([]CallRequest, error) {
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	out := r.filter(func(c CallRequest) bool {
		if c.Status != StatusScheduled || c.ScheduledAt == nil || !tr.Contains(*c.ScheduledAt) {
			return false
		}
		return providerID == nil || (c.AssignedProviderID != nil && *c.AssignedProviderID == *providerID)
	})
	sortByScheduledAt(out)
	return out, nil
}

func (r *memCallRepo) FindUpcomingCallsForProvider(ctx context.Context, providerID string, from time.Time, limit int) ([]CallRequest, error) {
	out := r.filter(func(c CallRequest) bool {
		return c.Status == StatusScheduled &&
			c.AssignedProviderID != nil && *c.AssignedProviderID == providerID &&
			c.ScheduledAt != nil && !c.ScheduledAt.Before(from)
	})
	sortByScheduledAt(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memCallRepo) FindOverdueCalls(ctx context.Context, now time.Time) ([]CallRequest, error) {
	out := r.filter(func(c CallRequest) bool {
		if c.Status != StatusScheduled {
			return false
		}
		w, ok := c.Window()
		return ok && !w.End().After(now)
	})
	sortByScheduledAt(out)
	return out, nil
}

func (r *memCallRepo) GetTotalCallMinutes(ctx context.Context, subscriberID string, tr TimeRange) (int, error) {
	if err := tr.Validate(); err != nil {
		return 0, err
	}
	total := 0
	for _, c := range r.calls {
		if c.IsDeleted() || c.SubscriberID != subscriberID || c.Status != StatusCompleted {
			continue
		}
		if c.CompletedAt == nil || c.ActualDuration == nil || !tr.Contains(*c.CompletedAt) {
			continue
		}
		total += *c.ActualDuration
	}
	return total, nil
}

func (r *memCallRepo) all() []CallRequest {
	return r.filter(func(CallRequest) bool { return true })
}

func (r *memCallRepo) filter(keep func(CallRequest) bool) []CallRequest {
	out := make([]CallRequest, 0)
	for _, c := range r.calls {
		if c.IsDeleted() || !keep(c) {
			continue
		}
		out = append(out, c.clone())
	}
	return out
}

// page orders by CreatedAt descending, newest first.
func (r *memCallRepo) page(keep func(CallRequest) bool, p Page) ([]CallRequest, int, error) {
	p = p.normalize()
	rows := r.filter(keep)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	total := len(rows)
	if p.Offset >= total {
		return []CallRequest{}, total, nil
	}
	end := p.Offset + p.Limit
	if end > total {
		end = total
	}
	return rows[p.Offset:end], total, nil
}

func sortByScheduledAt(rows []CallRequest) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].ScheduledAt, rows[j].ScheduledAt
		if a == nil || b == nil {
			return b != nil
		}
		if a.Equal(*b) {
			return rows[i].ID < rows[j].ID
		}
		return a.Before(*b)
	})
}

// memCommittedRepo runs each call in its own transaction on the store.
type memCommittedRepo struct {
	s *MemoryStore
}

func (r *memCommittedRepo) with(ctx context.Context, fn func(repo Repository) error) error {
	return r.s.Transaction(ctx, TxOptions{}, func(ctx context.Context, tr Repos) error {
		return fn(tr.Calls)
	})
}

func (r *memCommittedRepo) FindByID(ctx context.Context, id string) (out *CallRequest, err error) {
	err = r.with(ctx, func(repo Repository) error {
		out, err = repo.FindByID(ctx, id)
		return err
	})
	return out, err
}

func (r *memCommittedRepo) Create(ctx context.Context, c *CallRequest) error {
	return r.with(ctx, func(repo Repository) error { return repo.Create(ctx, c) })
}

func (r *memCommittedRepo) Update(ctx context.Context, c *CallRequest) error {
	return r.with(ctx, func(repo Repository) error { return repo.Update(ctx, c) })
}

func (r *memCommittedRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	return r.with(ctx, func(repo Repository) error { return repo.SoftDelete(ctx, id, at) })
}

func (r *memCommittedRepo) FindConflictingCalls(ctx context.Context, q ConflictQuery) (out []CallRequest, err error) {
	err = r.with(ctx, func(repo Repository) error {
		out, err = repo.FindConflictingCalls(ctx, q)
		return err
	})
	return out, err
}

func (r *memCommittedRepo) IsProviderAvailable(ctx context.Context, q ConflictQuery) (ok bool, err error) {
	err = r.with(ctx, func(repo Repository) error {
		ok, err = repo.IsProviderAvailable(ctx, q)
		return err
	})
	return ok, err
}

func (r *memCommittedRepo) FindBySubscriber(ctx context.Context, subscriberID string, p Page) (out []CallRequest, total int, err error) {
	err = r.with(ctx, func(repo Repository) error {
		out, total, err = repo.FindBySubscriber(ctx, subscriberID, p)
		return err
	})
	return out, total, err
}

func (r *memCommittedRepo) FindByProvider(ctx context.Context, providerID string, p Page) (out []CallRequest, total int, err error) {
	err = r.with(ctx, func(repo Repository) error {
		out, total, err = repo.FindByProvider(ctx, providerID, p)
		return err
	})
	return out, total, err
}

func (r *memCommittedRepo) FindScheduledCalls(ctx context.Context, tr TimeRange, providerID *string) (out []CallRequest, err error) {
	err = r.with(ctx, func(repo Repository) error {
		out, err = repo.FindScheduledCalls(ctx, tr, providerID)
		return err
	})
	return out, err
}

func (r *memCommittedRepo) FindUpcomingCallsForProvider(ctx context.Context, providerID string, from time.Time, limit int) (out []CallRequest, err error) {
	err = r.with(ctx, func(repo Repository) error {
		out, err = repo.FindUpcomingCallsForProvider(ctx, providerID, from, limit)
		return err
	})
	return out, err
}

func (r *memCommittedRepo) FindOverdueCalls(ctx context.Context, now time.Time) (out []CallRequest, err error) {
	err = r.with(ctx, func(repo Repository) error {
		out, err = repo.FindOverdueCalls(ctx, now)
		return err
	})
	return out, err
}

func (r *memCommittedRepo) GetTotalCallMinutes(ctx context.Context, subscriberID string, tr TimeRange) (total int, err error) {
	err = r.with(ctx, func(repo Repository) error {
		total, err = repo.GetTotalCallMinutes(ctx, subscriberID, tr)
		return err
	})
	return total, err
}
