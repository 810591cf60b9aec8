package listing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Backend with failure injection. Useful for
// tests and local runs without Postgres.
type MemoryRepo struct {
	mu    sync.Mutex
	items map[string]Listing
	clock func() time.Time

	readErr  error
	writeErr error
	writes   int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: map[string]Listing{}, clock: time.Now}
}

// WithClock overrides the timestamp source.
func (r *MemoryRepo) WithClock(clock func() time.Time) *MemoryRepo {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
	return r
}

// Seed stores listings as-is, bypassing write failure injection.
func (r *MemoryRepo) Seed(ls ...Listing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range ls {
		l = l.Clone().normalize()
		l.PendingSync = false
		r.items[l.ID] = l
	}
}

// FailReads makes ListCollection return err until called with nil.
func (r *MemoryRepo) FailReads(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readErr = err
}

// FailWrites makes every write return err until called with nil.
// Failed writes leave the stored data untouched.
func (r *MemoryRepo) FailWrites(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeErr = err
}

// Writes counts accepted writes.
func (r *MemoryRepo) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *MemoryRepo) ListCollection(ctx context.Context, scope Scope) ([]Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		return nil, r.readErr
	}
	out := make([]Listing, 0, len(r.items))
	for _, l := range r.items {
		if scope == ScopePublic && !l.Public() {
			continue
		}
		out = append(out, l.Clone())
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *MemoryRepo) Get(id string) (Listing, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.items[id]
	return l.Clone(), ok
}

func (r *MemoryRepo) CreateListing(ctx context.Context, d Draft) (Listing, error) {
	if err := ctx.Err(); err != nil {
		return Listing{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return Listing{}, r.writeErr
	}
	l := d.Materialize(uuid.NewString(), r.clock().UTC()).normalize()
	r.items[l.ID] = l
	r.writes++
	return l.Clone(), nil
}

func (r *MemoryRepo) UpdateListing(ctx context.Context, id string, p Patch) (Listing, error) {
	if err := ctx.Err(); err != nil {
		return Listing{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return Listing{}, r.writeErr
	}
	cur, ok := r.items[id]
	if !ok {
		return Listing{}, ErrNotFound
	}
	if err := p.Check(cur); err != nil {
		return Listing{}, err
	}
	next := p.Apply(cur, r.clock().UTC())
	r.items[id] = next
	r.writes++
	return next.Clone(), nil
}

func (r *MemoryRepo) DeleteListing(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	if _, ok := r.items[id]; !ok {
		return ErrNotFound
	}
	delete(r.items, id)
	r.writes++
	return nil
}
