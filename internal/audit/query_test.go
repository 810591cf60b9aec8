package audit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

var base = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo *MemoryRepo) {
	t.Helper()
	rows := []Record{
		{ActorID: "admin-1", Action: ActionListingDeleted, EntityKind: EntityListing, EntityID: "l-1", Description: `Deleted listing "Barn"`},
		{ActorID: "admin-1", Action: ActionListingApproved, EntityKind: EntityListing, EntityID: "l-2", Description: `Approved listing "Loft" for public visibility`},
		{ActorID: "admin-2", Action: ActionUserDeleted, EntityKind: EntityUser, EntityID: "u-7", Description: "Deleted user u-7"},
		{ActorID: "host-1", Action: ActionListingCreated, EntityKind: EntityListing, EntityID: "l-3", Description: `Submitted listing "Cabin"`},
		{ActorID: "ghost", Action: ActionListingDeleted, EntityKind: EntityListing, EntityID: "l-4", Description: `Deleted listing "Shack"`},
	}
	for i, r := range rows {
		r.Severity = Classify(r.Action)
		r.OccurredAt = base.Add(time.Duration(i) * time.Minute)
		if _, err := repo.Append(context.Background(), r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func newQuery(t *testing.T) *QueryService {
	t.Helper()
	repo := NewMemoryRepo()
	seed(t, repo)
	dir := NewMemoryDirectory(
		ResolvedActor{ID: "admin-1", DisplayName: "Ada", Role: "admin"},
		ResolvedActor{ID: "admin-2", DisplayName: "Bo", Role: "staff"},
		ResolvedActor{ID: "host-1", DisplayName: "Hal", Role: "host"},
	)
	return NewQueryService(repo, dir, 3)
}

func ids(res Result) []string {
	out := make([]string, len(res.Records))
	for i, r := range res.Records {
		out[i] = r.EntityID
	}
	return out
}

func TestQuery_ConjunctiveFilters(t *testing.T) {
	qs := newQuery(t)
	ctx := context.Background()

	both, err := qs.Query(ctx, Filter{Severity: SeverityCritical, EntityKind: EntityListing}, Page{Size: 3})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, r := range both.Records {
		if r.Severity != SeverityCritical || r.EntityKind != EntityListing {
			t.Fatalf("record %s does not match both filters", r.EntityID)
		}
	}
	if got := fmt.Sprint(ids(both)); got != "[l-4 l-1]" {
		t.Fatalf("unexpected result %s", got)
	}

	onlySeverity, _ := qs.Query(ctx, Filter{Severity: SeverityCritical}, Page{Size: 3})
	if len(onlySeverity.Records) < len(both.Records) {
		t.Fatalf("removing a filter shrank the result")
	}
	if len(onlySeverity.Records) != 3 {
		t.Fatalf("expected 3 critical records, got %d", len(onlySeverity.Records))
	}
}

func TestQuery_EmptyFilterPagesNewestFirst(t *testing.T) {
	qs := newQuery(t)
	ctx := context.Background()

	p1, _ := qs.Query(ctx, Filter{}, Page{Number: 1, Size: 2})
	p2, _ := qs.Query(ctx, Filter{}, Page{Number: 2, Size: 2})
	p3, _ := qs.Query(ctx, Filter{}, Page{Number: 3, Size: 2})

	if got := fmt.Sprint(ids(p1), ids(p2), ids(p3)); got != "[l-4 l-3] [u-7 l-2] [l-1]" {
		t.Fatalf("unexpected pages %s", got)
	}
	if !p1.HasMore || !p2.HasMore || p3.HasMore {
		t.Fatalf("unexpected HasMore flags %v %v %v", p1.HasMore, p2.HasMore, p3.HasMore)
	}
}

func TestQuery_PageSizeCeiling(t *testing.T) {
	qs := newQuery(t)
	res, _ := qs.Query(context.Background(), Filter{}, Page{Number: 1, Size: 500})
	if res.PageSize != 3 || len(res.Records) != 3 {
		t.Fatalf("expected page size capped at 3, got %d/%d", res.PageSize, len(res.Records))
	}
	if got := qs.Normalize(Page{}); got.Number != 1 || got.Size != 3 {
		t.Fatalf("unexpected default page %+v", got)
	}
}

func TestQuery_UnknownActorIsKeptUnresolved(t *testing.T) {
	qs := newQuery(t)
	res, _ := qs.Query(context.Background(), Filter{EntityID: "l-4"}, Page{})
	if len(res.Records) != 1 {
		t.Fatalf("expected record of deleted actor to be returned")
	}
	if a := res.Records[0].Actor; a.Resolved || a.ID != "ghost" {
		t.Fatalf("expected unresolved ghost actor, got %+v", a)
	}

	res, _ = qs.Query(context.Background(), Filter{ActorID: "admin-1"}, Page{})
	for _, r := range res.Records {
		if !r.Actor.Resolved || r.Actor.DisplayName != "Ada" {
			t.Fatalf("expected resolved actor, got %+v", r.Actor)
		}
	}
}

func TestQuery_FreeTextAndTimeWindow(t *testing.T) {
	qs := newQuery(t)
	ctx := context.Background()

	res, _ := qs.Query(ctx, Filter{FreeText: "LOFT"}, Page{})
	if got := fmt.Sprint(ids(res)); got != "[l-2]" {
		t.Fatalf("unexpected free text result %s", got)
	}

	res, _ = qs.Query(ctx, Filter{FreeText: "host-1"}, Page{})
	if got := fmt.Sprint(ids(res)); got != "[l-3]" {
		t.Fatalf("expected actor id match, got %s", got)
	}

	res, _ = qs.Query(ctx, Filter{OccurredAfter: base.Add(time.Minute), OccurredBefore: base.Add(3 * time.Minute)}, Page{})
	if got := fmt.Sprint(ids(res)); got != "[u-7 l-2]" {
		t.Fatalf("unexpected window result %s", got)
	}
}

func TestQuery_HugePageNumberIsEmpty(t *testing.T) {
	qs := newQuery(t)
	ctx := context.Background()

	for _, n := range []int{math.MaxInt / 10, math.MaxInt - 1, math.MaxInt} {
		res, err := qs.Query(ctx, Filter{}, Page{Number: n, Size: 3})
		if err != nil {
			t.Fatalf("page %d: %v", n, err)
		}
		if len(res.Records) != 0 || res.HasMore {
			t.Fatalf("page %d: expected empty page, got %v (has_more=%v)", n, ids(res), res.HasMore)
		}
		if res.Page < 1 {
			t.Fatalf("page %d normalized to %d", n, res.Page)
		}
	}
}

func TestMemoryRepo_RejectsNegativeWindow(t *testing.T) {
	repo := NewMemoryRepo()
	seed(t, repo)
	if _, err := repo.Query(context.Background(), Filter{}, 2, -36); !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("expected ErrInvalidPage, got %v", err)
	}
}
