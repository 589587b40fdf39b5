package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func seed(t *testing.T, repo *MemoryRepo, callID string, steps ...string) {
	t.Helper()
	var from *string
	for i, to := range steps {
		h, err := NewStatusHistory(callID, from, to, "", nil, t0.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("new entry: %v", err)
		}
		if err := repo.Create(context.Background(), h); err != nil {
			t.Fatalf("create: %v", err)
		}
		from = strPtr(to)
	}
}

func TestNewStatusHistory_Validates(t *testing.T) {
	if _, err := NewStatusHistory("", nil, "pending", "", nil, t0); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected missing call id to be rejected, got %v", err)
	}
	if _, err := NewStatusHistory("c1", strPtr(""), "pending", "", nil, t0); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected empty from status to be rejected, got %v", err)
	}
	h, err := NewStatusHistory("c1", nil, "pending", "  created ", strPtr("u1"), t0.In(time.FixedZone("X", 3600)))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if h.ID == "" || h.Reason != "created" || h.ChangedAt.Location() != time.UTC {
		t.Fatalf("unexpected entry %+v", h)
	}
}

func TestMemoryRepo_OrderAndPaging(t *testing.T) {
	repo := NewMemoryRepo()
	seed(t, repo, "c1", "pending", "assigned", "scheduled")
	seed(t, repo, "c2", "pending")

	rows, total, err := repo.FindByCallRequestID(context.Background(), "c1", 2, 1)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if total != 3 || len(rows) != 2 {
		t.Fatalf("expected 2 of 3 rows, got %d of %d", len(rows), total)
	}
	if rows[0].ToStatus != "assigned" || rows[1].ToStatus != "scheduled" {
		t.Fatalf("expected ascending order, got %s, %s", rows[0].ToStatus, rows[1].ToStatus)
	}

	latest, err := repo.FindLatest(context.Background(), "c1")
	if err != nil || latest.ToStatus != "scheduled" || *latest.FromStatus != "assigned" {
		t.Fatalf("unexpected latest %+v err=%v", latest, err)
	}
	if _, err := repo.FindLatest(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryRepo_CloneIsIndependent(t *testing.T) {
	repo := NewMemoryRepo()
	seed(t, repo, "c1", "pending")

	staged := repo.Clone()
	seed(t, staged, "c1", "cancelled")

	if n := len(repo.Entries()); n != 1 {
		t.Fatalf("clone writes leaked into the original: %d rows", n)
	}
	if n := len(staged.Entries()); n != 2 {
		t.Fatalf("expected 2 staged rows, got %d", n)
	}
}

func TestService_PurgeRequiresReason(t *testing.T) {
	repo := NewMemoryRepo()
	seed(t, repo, "c1", "pending", "cancelled")
	seed(t, repo, "c2", "pending")
	svc := NewService(repo, nil)
	ctx := context.Background()

	if _, err := svc.Purge(ctx, "c1", "admin", " "); !errors.Is(err, ErrPurgeReasonRequired) {
		t.Fatalf("expected reason required, got %v", err)
	}
	if _, err := svc.Purge(ctx, "", "admin", "gdpr request"); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected invalid entry, got %v", err)
	}
	n, err := svc.Purge(ctx, "c1", "admin", "gdpr request")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 rows purged, got %d err=%v", n, err)
	}

	if _, total, _ := repo.FindByCallRequestID(ctx, "c1", 0, 0); total != 0 {
		t.Fatalf("expected c1 history gone, got %d", total)
	}
	if _, total, _ := repo.FindByCallRequestID(ctx, "c2", 0, 0); total != 1 {
		t.Fatalf("other call histories must survive a purge")
	}
}

func TestService_PurgeWithoutPurger(t *testing.T) {
	svc := NewService(nil, nil)
	if _, err := svc.Purge(context.Background(), "c1", "admin", "x"); err == nil {
		t.Fatalf("expected error without purger")
	}
}
