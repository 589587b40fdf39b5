package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"consult-platform/internal/audit"
)

func TestMemoryStore_RollbackDiscardsStagedWrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	c := callIn(StatusPending)

	boom := errors.New("boom")
	err := store.Transaction(ctx, TxOptions{}, func(ctx context.Context, r Repos) error {
		if err := r.Calls.Create(ctx, c); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected work error, got %v", err)
	}
	if _, err := store.Calls().FindByID(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rolled back create, got %v", err)
	}
}

func TestMemoryStore_NestedTransactionJoinsOuter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	c := callIn(StatusPending)

	err := store.Transaction(ctx, TxOptions{MaxWait: 50 * time.Millisecond}, func(ctx context.Context, r Repos) error {
		if err := r.Calls.Create(ctx, c); err != nil {
			return err
		}
		// a second Transaction on the same ctx must not block on the semaphore
		return store.Transaction(ctx, TxOptions{MaxWait: 50 * time.Millisecond}, func(ctx context.Context, inner Repos) error {
			_, err := inner.Calls.FindByID(ctx, c.ID)
			return err
		})
	})
	if err != nil {
		t.Fatalf("nested transaction: %v", err)
	}
}

func TestMemoryStore_MaxWaitIsRetryable(t *testing.T) {
	store := NewMemoryStore()
	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- store.Transaction(context.Background(), TxOptions{}, func(ctx context.Context, r Repos) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := store.Transaction(context.Background(), TxOptions{MaxWait: 20 * time.Millisecond}, func(ctx context.Context, r Repos) error {
		return nil
	})
	close(release)
	if !errors.Is(err, ErrRetryable) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}
}

func TestMemoryStore_ExclusionOnWrite(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := booking("a", "P", StatusScheduled, at(10, 0), 30)
	b := booking("b", "P", StatusScheduled, at(10, 15), 30)
	if err := store.Calls().Create(ctx, &a); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if err := store.Calls().Create(ctx, &b); !errors.Is(err, ErrSchedulingConflict) {
		t.Fatalf("expected exclusion conflict, got %v", err)
	}

	b.Status = StatusRescheduled
	if err := store.Calls().Create(ctx, &b); err != nil {
		t.Fatalf("rescheduled rows do not hold time: %v", err)
	}
}

func TestMemoryStore_ReturnedValuesAreCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	c := callIn(StatusAssigned)
	if err := store.Calls().Create(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Calls().FindByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	*got.AssignedProviderID = "mutated"

	again, _ := store.Calls().FindByID(ctx, c.ID)
	if *again.AssignedProviderID == "mutated" {
		t.Fatalf("stored state leaked through a returned pointer")
	}
}

func TestMemoryStore_PurgeSurvivesConcurrentCommit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	at := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	appendHistory := func(r Repos, callID string) error {
		h, err := audit.NewStatusHistory(callID, nil, string(StatusPending), "", nil, at)
		if err != nil {
			return err
		}
		return r.History.Create(ctx, h)
	}
	if err := store.Transaction(ctx, TxOptions{}, func(ctx context.Context, r Repos) error {
		return appendHistory(r, "c1")
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.Transaction(ctx, TxOptions{}, func(ctx context.Context, r Repos) error {
			close(held)
			<-release
			return appendHistory(r, "c2")
		})
	}()
	<-held

	purged := make(chan int, 1)
	go func() {
		n, err := store.PurgeByCallRequestID(ctx, "c1")
		if err != nil {
			n = -1
		}
		purged <- n
	}()
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}
	if n := <-purged; n != 1 {
		t.Fatalf("expected 1 row purged, got %d", n)
	}

	if _, total, _ := store.History().FindByCallRequestID(ctx, "c1", 0, 0); total != 0 {
		t.Fatalf("purged history came back after a commit: %d rows", total)
	}
	if _, total, _ := store.History().FindByCallRequestID(ctx, "c2", 0, 0); total != 1 {
		t.Fatalf("expected the concurrent append to be kept, got %d rows", total)
	}
}
