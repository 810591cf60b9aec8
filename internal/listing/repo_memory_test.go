package listing

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRepo_ScopeFiltersCollection(t *testing.T) {
	r := NewMemoryRepo()
	r.Seed(sample("a", StatusApproved, false, 0), sample("b", StatusPending, false, 0))

	pub, err := r.ListCollection(context.Background(), ScopePublic)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pub) != 1 || pub[0].ID != "a" {
		t.Fatalf("unexpected public collection %+v", pub)
	}

	all, _ := r.ListCollection(context.Background(), ScopePrivileged)
	if len(all) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(all))
	}
}

func TestMemoryRepo_FailWritesLeavesDataUntouched(t *testing.T) {
	r := NewMemoryRepo()
	r.Seed(sample("a", StatusPending, false, 0))

	boom := errors.New("boom")
	r.FailWrites(boom)

	approved := StatusApproved
	if _, err := r.UpdateListing(context.Background(), "a", Patch{Status: &approved}); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if got, _ := r.Get("a"); got.Status != StatusPending {
		t.Fatalf("failed write changed data: %+v", got)
	}
	if r.Writes() != 0 {
		t.Fatalf("expected no accepted writes")
	}

	r.FailWrites(nil)
	got, err := r.UpdateListing(context.Background(), "a", Patch{Status: &approved})
	if err != nil || got.Status != StatusApproved {
		t.Fatalf("expected approved, got %+v err=%v", got, err)
	}
}

func TestMemoryRepo_CreateAssignsIDAndPending(t *testing.T) {
	r := NewMemoryRepo().WithClock(func() time.Time { return t0 })
	l, err := r.CreateListing(context.Background(), Draft{OwnerID: "o", Title: "Loft"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if l.ID == "" || l.Status != StatusPending || !l.CreatedAt.Equal(t0) {
		t.Fatalf("unexpected canonical listing %+v", l)
	}
}

func TestMemoryRepo_MissingListing(t *testing.T) {
	r := NewMemoryRepo()
	if err := r.DeleteListing(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRepo_ConditionalWriteRefusesChangedState(t *testing.T) {
	r := NewMemoryRepo()
	r.Seed(sample("a", StatusRejected, false, 0))

	on := true
	p := Patch{Featured: &on, Expect: &State{Status: StatusApproved}}
	_, err := r.UpdateListing(context.Background(), "a", p)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Current.Status != StatusRejected {
		t.Fatalf("conflict should carry the stored listing, got %v", err)
	}
	if r.Writes() != 0 {
		t.Fatalf("conflicting write was applied")
	}

	p.Expect = &State{Status: StatusRejected}
	got, err := r.UpdateListing(context.Background(), "a", p)
	if err != nil {
		t.Fatalf("matching expectation: %v", err)
	}
	if got.Featured {
		t.Fatalf("featured must stay cleared on a rejected listing")
	}
}
