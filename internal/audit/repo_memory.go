package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is a simple in-memory append-only repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu      sync.Mutex
	entries []StatusHistory
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Create(ctx context.Context, h *StatusHistory) error {
	if h == nil {
		return ErrInvalidEntry
	}
	if err := h.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, cloneEntry(*h))
	return nil
}

func (r *MemoryRepo) FindByCallRequestID(ctx context.Context, callRequestID string, limit, offset int) ([]StatusHistory, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := r.forCallLocked(callRequestID)
	total := len(matched)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []StatusHistory{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (r *MemoryRepo) FindLatest(ctx context.Context, callRequestID string) (*StatusHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := r.forCallLocked(callRequestID)
	if len(matched) == 0 {
		return nil, ErrNotFound
	}
	latest := matched[len(matched)-1]
	return &latest, nil
}

func (r *MemoryRepo) PurgeByCallRequestID(ctx context.Context, callRequestID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	n := 0
	for _, e := range r.entries {
		if e.CallRequestID == callRequestID {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return n, nil
}

// Entries returns a copy of every stored row in insertion order.
func (r *MemoryRepo) Entries() []StatusHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StatusHistory, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, cloneEntry(e))
	}
	return out
}

// ReplaceFrom makes r hold a copy of src's rows.
func (r *MemoryRepo) ReplaceFrom(src *MemoryRepo) {
	entries := src.Entries()
	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
}

// Clone returns an independent copy, used to stage writes inside a transaction.
func (r *MemoryRepo) Clone() *MemoryRepo {
	return &MemoryRepo{entries: r.Entries()}
}

// forCallLocked returns copies ordered by ChangedAt; insertion order breaks ties.
func (r *MemoryRepo) forCallLocked(callRequestID string) []StatusHistory {
	out := make([]StatusHistory, 0)
	for _, e := range r.entries {
		if e.CallRequestID == callRequestID {
			out = append(out, cloneEntry(e))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChangedAt.Before(out[j].ChangedAt) })
	return out
}

func cloneEntry(e StatusHistory) StatusHistory {
	out := e
	if e.FromStatus != nil {
		v := *e.FromStatus
		out.FromStatus = &v
	}
	if e.ChangedBy != nil {
		v := *e.ChangedBy
		out.ChangedBy = &v
	}
	return out
}
