package audit

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryRepo is a simple in-memory append-only repository useful for tests
// and local runs. It is not intended for production use.
type MemoryRepo struct {
	mu      sync.Mutex
	records []Record
	nextID  int64

	appendErr error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

// FailAppends makes Append return err until called with nil.
func (r *MemoryRepo) FailAppends(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendErr = err
}

func (r *MemoryRepo) Append(ctx context.Context, rec Record) (Record, error) {
	if err := validate(rec); err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return Record{}, r.appendErr
	}
	r.nextID++
	rec = rec.Clone()
	rec.ID = r.nextID
	r.records = append(r.records, rec)
	return rec.Clone(), nil
}

func (r *MemoryRepo) Query(ctx context.Context, f Filter, limit, offset int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 || limit < 0 {
		return nil, ErrInvalidPage
	}
	r.mu.Lock()
	matched := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if f.matches(rec) {
			matched = append(matched, rec.Clone())
		}
	}
	r.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].OccurredAt.After(matched[j].OccurredAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if offset >= len(matched) {
		return []Record{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// Records returns every record in append order.
func (r *MemoryRepo) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Clone()
	}
	return out
}

func (f Filter) matches(r Record) bool {
	if f.EntityKind != "" && r.EntityKind != f.EntityKind {
		return false
	}
	if f.EntityID != "" && r.EntityID != f.EntityID {
		return false
	}
	if f.Action != "" && r.Action != f.Action {
		return false
	}
	if f.Severity != "" && r.Severity != f.Severity {
		return false
	}
	if f.ActorID != "" && r.ActorID != f.ActorID {
		return false
	}
	if !f.OccurredAfter.IsZero() && r.OccurredAt.Before(f.OccurredAfter) {
		return false
	}
	if !f.OccurredBefore.IsZero() && !r.OccurredAt.Before(f.OccurredBefore) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.FreeText)); q != "" {
		hay := strings.ToLower(strings.Join([]string{r.Description, r.EntityID, r.ActorID, string(r.Action)}, "\x00"))
		if !strings.Contains(hay, q) {
			return false
		}
	}
	return true
}
