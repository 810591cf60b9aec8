package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"rental-platform/internal/audit"
	"rental-platform/internal/auth"
	"rental-platform/internal/listing"
	"rental-platform/internal/metrics"
	"rental-platform/internal/rbac"
	"rental-platform/pkg/logger"
)

// Recorder is the audit side channel. Record must not block or fail.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry)
}

// Trigger requests an out-of-band reconciliation.
type Trigger interface {
	Trigger()
}

type Options struct {
	// Store is the privileged view; guards are evaluated against it.
	Store *listing.Store
	// Views are further stores kept in step with Store (e.g. the public view).
	Views []*listing.Store
	// Triggers fire after every confirmed write.
	Triggers []Trigger

	// Strict makes boundary failures visible as ErrPersistenceUnavailable.
	Strict bool

	Logger  *slog.Logger
	Metrics *metrics.Registry
	Clock   func() time.Time
	NewID   func() string
}

const lockStripes = 64

// Engine runs listing transitions: guard, boundary write, store update and
// audit, in that order.
//
// A confirmed write updates every store with the backend's canonical value.
// A failed write falls back to UpsertLocal with the intended value, tags the
// audit record pending_sync and still succeeds unless Strict is set. The
// next successful reconciliation replaces that local value with server truth.
type Engine struct {
	backend listing.Backend
	audit   Recorder
	opts    Options
	log     *slog.Logger

	// Transitions on one listing run one at a time.
	locks [lockStripes]sync.Mutex
}

func New(backend listing.Backend, rec Recorder, opts Options) *Engine {
	if opts.Store == nil {
		opts.Store = listing.NewStore(listing.ScopePrivileged)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Engine{
		backend: backend,
		audit:   rec,
		opts:    opts,
		log:     logger.OrDefault(opts.Logger).With("component", "lifecycle"),
	}
}

// Store returns the privileged view the engine guards against.
func (e *Engine) Store() *listing.Store { return e.opts.Store }

// Submit creates a listing owned by actor. Moderators skip review.
func (e *Engine) Submit(ctx context.Context, actor auth.Actor, d listing.Draft) (listing.Listing, error) {
	const action = "submit"
	if actor.ID == "" {
		return e.refuse(action, &ValidationError{Field: "owner_id", Reason: "required"})
	}
	d.OwnerID = actor.ID
	d.Status = listing.StatusPending
	if rbac.CanModerate(actor.Role) {
		d.Status = listing.StatusApproved
	}

	now := e.opts.Clock().UTC()
	intended := d.Materialize(e.opts.NewID(), now)
	if err := validateContent(intended); err != nil {
		return e.refuse(action, err)
	}
	if err := ctx.Err(); err != nil {
		return e.abandon(action, err)
	}

	created, err := e.backend.CreateListing(ctx, d)
	if err == nil {
		e.confirm(ctx, actor, action, audit.ActionListingCreated, nil, created)
		return created, nil
	}
	return e.fallback(ctx, actor, action, audit.ActionListingCreated, nil, intended, err)
}

func (e *Engine) Approve(ctx context.Context, actor auth.Actor, id string) (listing.Listing, error) {
	st := listing.StatusApproved
	return e.moderate(ctx, actor, id, "approve", audit.ActionListingApproved, listing.Patch{Status: &st},
		func(cur listing.Listing) string {
			if cur.Status == listing.StatusApproved {
				return "already approved"
			}
			return ""
		})
}

// Reject also clears featured as part of the same transition.
func (e *Engine) Reject(ctx context.Context, actor auth.Actor, id string) (listing.Listing, error) {
	st, off := listing.StatusRejected, false
	return e.moderate(ctx, actor, id, "reject", audit.ActionListingRejected, listing.Patch{Status: &st, Featured: &off},
		func(cur listing.Listing) string {
			if cur.Status == listing.StatusRejected {
				return "already rejected"
			}
			return ""
		})
}

func (e *Engine) Feature(ctx context.Context, actor auth.Actor, id string) (listing.Listing, error) {
	on := true
	return e.moderate(ctx, actor, id, "feature", audit.ActionListingFeatured, listing.Patch{Featured: &on},
		func(cur listing.Listing) string {
			switch {
			case cur.Status != listing.StatusApproved:
				return "only approved listings can be featured"
			case cur.Featured:
				return "already featured"
			}
			return ""
		})
}

func (e *Engine) Unfeature(ctx context.Context, actor auth.Actor, id string) (listing.Listing, error) {
	off := false
	return e.moderate(ctx, actor, id, "unfeature", audit.ActionListingUnfeatured, listing.Patch{Featured: &off},
		func(cur listing.Listing) string {
			if cur.Status != listing.StatusApproved || !cur.Featured {
				return "listing is not featured"
			}
			return ""
		})
}

// Update changes descriptive fields only; status and featured are moderation
// concerns.
func (e *Engine) Update(ctx context.Context, actor auth.Actor, id string, p listing.Patch) (listing.Listing, error) {
	const action = "update"
	if err := validatePatch(p); err != nil {
		return e.refuse(action, err)
	}

	unlock := e.lock(id)
	defer unlock()

	cur, err := e.current(action, id)
	if err != nil {
		return listing.Listing{}, err
	}
	if err := e.ownerOrModerator(action, actor, cur); err != nil {
		return e.refuse(action, err)
	}
	intended := p.Apply(cur, e.opts.Clock().UTC())
	if err := validateContent(intended); err != nil {
		return e.refuse(action, err)
	}
	return e.write(ctx, actor, action, audit.ActionListingUpdated, cur, intended, p)
}

// Delete removes a listing. The returned value is the listing as it was
// before removal, with PendingSync set when the backend did not confirm.
func (e *Engine) Delete(ctx context.Context, actor auth.Actor, id string) (listing.Listing, error) {
	const action = "delete"

	unlock := e.lock(id)
	defer unlock()

	cur, err := e.current(action, id)
	if err != nil {
		return listing.Listing{}, err
	}
	if err := e.ownerOrModerator(action, actor, cur); err != nil {
		return e.refuse(action, err)
	}
	if err := ctx.Err(); err != nil {
		return e.abandon(action, err)
	}

	err = e.backend.DeleteListing(ctx, id)
	switch {
	case err == nil:
		e.remove(id)
		e.record(ctx, actor, audit.ActionListingDeleted, id, &cur, nil, false)
		e.fire()
		e.opts.Metrics.ListingMutation(action, "confirmed")
		return cur, nil
	case errors.Is(err, listing.ErrNotFound):
		return e.vanished(action, id)
	case ctx.Err() != nil:
		return e.abandon(action, ctx.Err())
	}

	e.remove(id)
	e.record(ctx, actor, audit.ActionListingDeleted, id, &cur, nil, true)
	e.log.Warn("listing delete not persisted; removed locally", "listing_id", id, "actor_id", actor.ID, "err", err)
	e.opts.Metrics.ListingMutation(action, "pending_sync")
	cur.PendingSync = true
	if e.opts.Strict {
		return cur, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return cur, nil
}

func (e *Engine) moderate(
	ctx context.Context,
	actor auth.Actor,
	id, action string,
	auditAction audit.Action,
	p listing.Patch,
	illegal func(cur listing.Listing) string,
) (listing.Listing, error) {
	unlock := e.lock(id)
	defer unlock()

	cur, err := e.current(action, id)
	if err != nil {
		return listing.Listing{}, err
	}
	if !rbac.CanModerate(actor.Role) {
		return e.refuse(action, &TransitionError{ListingID: id, From: cur.Status, Featured: cur.Featured, Action: action, Reason: "moderation privilege required"})
	}
	if reason := illegal(cur); reason != "" {
		return e.refuse(action, &TransitionError{ListingID: id, From: cur.Status, Featured: cur.Featured, Action: action, Reason: reason})
	}
	p.Expect = &listing.State{Status: cur.Status, Featured: cur.Featured}
	return e.write(ctx, actor, action, auditAction, cur, p.Apply(cur, e.opts.Clock().UTC()), p)
}

// write sends p to the backend and applies the outcome.
func (e *Engine) write(
	ctx context.Context,
	actor auth.Actor,
	action string,
	auditAction audit.Action,
	cur, intended listing.Listing,
	p listing.Patch,
) (listing.Listing, error) {
	if err := ctx.Err(); err != nil {
		return e.abandon(action, err)
	}
	next, err := e.backend.UpdateListing(ctx, cur.ID, p)
	if err == nil {
		e.confirm(ctx, actor, action, auditAction, &cur, next)
		return next, nil
	}
	if errors.Is(err, listing.ErrNotFound) {
		return e.vanished(action, cur.ID)
	}
	var conflict *listing.ConflictError
	if errors.As(err, &conflict) {
		return e.conflicted(action, conflict.Current)
	}
	return e.fallback(ctx, actor, action, auditAction, &cur, intended, err)
}

func (e *Engine) confirm(ctx context.Context, actor auth.Actor, action string, auditAction audit.Action, before *listing.Listing, after listing.Listing) {
	e.upsert(after)
	e.record(ctx, actor, auditAction, after.ID, before, &after, false)
	e.fire()
	e.opts.Metrics.ListingMutation(action, "confirmed")
}

func (e *Engine) fallback(
	ctx context.Context,
	actor auth.Actor,
	action string,
	auditAction audit.Action,
	before *listing.Listing,
	intended listing.Listing,
	cause error,
) (listing.Listing, error) {
	if ctx.Err() != nil {
		return e.abandon(action, ctx.Err())
	}

	e.upsertLocal(intended)
	intended.PendingSync = true
	e.record(ctx, actor, auditAction, intended.ID, before, &intended, true)
	e.opts.Metrics.ListingMutation(action, "pending_sync")
	e.log.Warn("listing write not persisted; applied locally",
		"action", action,
		"listing_id", intended.ID,
		"actor_id", actor.ID,
		"err", cause,
	)
	if e.opts.Strict {
		return intended, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, cause)
	}
	return intended, nil
}

func (e *Engine) current(action, id string) (listing.Listing, error) {
	cur, ok := e.opts.Store.Get(id)
	if !ok {
		return e.vanished(action, id)
	}
	return cur, nil
}

// vanished handles an id the store or backend does not know. A reconcile is
// requested so the local view catches up.
func (e *Engine) vanished(action, id string) (listing.Listing, error) {
	e.fire()
	e.opts.Metrics.ListingMutation(action, "not_found")
	return listing.Listing{}, fmt.Errorf("listing %s: %w", id, ErrNotFound)
}

// conflicted handles a guard that held locally but not on the server. The
// server's row replaces the stale entry and nothing is audited.
func (e *Engine) conflicted(action string, server listing.Listing) (listing.Listing, error) {
	e.upsert(server)
	e.fire()
	e.opts.Metrics.ListingMutation(action, "conflict")
	e.log.Info("listing changed on the server; transition refused",
		"action", action,
		"listing_id", server.ID,
		"status", server.Status,
		"featured", server.Featured,
	)
	return listing.Listing{}, &TransitionError{
		ListingID: server.ID,
		From:      server.Status,
		Featured:  server.Featured,
		Action:    action,
		Reason:    "listing changed on the server",
	}
}

func (e *Engine) refuse(action string, err error) (listing.Listing, error) {
	e.opts.Metrics.ListingMutation(action, "refused")
	return listing.Listing{}, err
}

func (e *Engine) abandon(action string, err error) (listing.Listing, error) {
	e.opts.Metrics.ListingMutation(action, "abandoned")
	return listing.Listing{}, err
}

func (e *Engine) ownerOrModerator(action string, actor auth.Actor, cur listing.Listing) error {
	if actor.ID != "" && actor.ID == cur.OwnerID {
		return nil
	}
	if rbac.CanModerate(actor.Role) {
		return nil
	}
	return &TransitionError{ListingID: cur.ID, From: cur.Status, Featured: cur.Featured, Action: action, Reason: "only the owner or a moderator may do this"}
}

func (e *Engine) record(ctx context.Context, actor auth.Actor, action audit.Action, id string, before, after *listing.Listing, pending bool) {
	if e.audit == nil {
		return
	}
	entry := audit.Entry{
		ActorID:     actor.ID,
		ActorRole:   actor.Role,
		Action:      action,
		EntityKind:  audit.EntityListing,
		EntityID:    id,
		PendingSync: pending,
	}
	if before != nil {
		entry.Before = *before
	}
	if after != nil {
		entry.After = *after
	}
	e.audit.Record(ctx, entry)
}

func (e *Engine) stores() []*listing.Store {
	return append([]*listing.Store{e.opts.Store}, e.opts.Views...)
}

func (e *Engine) upsert(l listing.Listing) {
	for _, s := range e.stores() {
		s.Upsert(l)
	}
}

func (e *Engine) upsertLocal(l listing.Listing) {
	for _, s := range e.stores() {
		s.UpsertLocal(l)
	}
}

func (e *Engine) remove(id string) {
	for _, s := range e.stores() {
		s.Remove(id)
	}
}

func (e *Engine) fire() {
	for _, t := range e.opts.Triggers {
		t.Trigger()
	}
}

func (e *Engine) lock(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	m := &e.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
