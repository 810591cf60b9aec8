package audit

import (
	"encoding/json"
	"time"
)

// Record is an immutable, append-only audit log entry.
//
// Invariants:
// - Records are never updated or deleted once appended.
// - ID is assigned by the Repository on append and increases monotonically.
// - A nil Before means creation; a nil After means deletion.
// - Context capture is best-effort; do not block critical flows on audit failures.
//
// Storage (Postgres): table audit_records with an INSERT-only trigger, see migrations.
type Record struct {
	ID int64 `json:"id"`

	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role,omitempty"`

	Action     Action     `json:"action"`
	EntityKind EntityKind `json:"entity_kind"`
	EntityID   string     `json:"entity_id"`

	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`

	Severity    Severity `json:"severity"`
	Description string   `json:"description"`

	// PendingSync marks actions applied locally whose write the backend
	// never confirmed. Note carries "pending_sync" for such records.
	PendingSync bool   `json:"pending_sync,omitempty"`
	Note        string `json:"note,omitempty"`

	Context    ClientContext `json:"context"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Clone returns a deep copy so callers can never reach a stored record's bytes.
func (r Record) Clone() Record {
	r.Before = cloneRaw(r.Before)
	r.After = cloneRaw(r.After)
	return r
}

// ClientContext is the caller's network origin, best effort.
type ClientContext struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// AnonymousActor is the actor id for events with no known identity, such as a
// sign-in attempt for an unknown email.
const AnonymousActor = "anonymous"

type EntityKind string

const (
	EntityListing EntityKind = "listing"
	EntityUser    EntityKind = "user"
	EntitySession EntityKind = "session"
	EntityBooking EntityKind = "booking"
	EntityPayment EntityKind = "payment"
	EntityAudit   EntityKind = "audit"
)

type Action string

const (
	ActionListingCreated    Action = "listing_created"
	ActionListingApproved   Action = "listing_approved"
	ActionListingRejected   Action = "listing_rejected"
	ActionListingFeatured   Action = "listing_featured"
	ActionListingUnfeatured Action = "listing_unfeatured"
	ActionListingUpdated    Action = "listing_updated"
	ActionListingDeleted    Action = "listing_deleted"

	ActionUserCreated     Action = "user_created"
	ActionUserUpdated     Action = "user_updated"
	ActionUserDeleted     Action = "user_deleted"
	ActionUserRoleChanged Action = "user_role_changed"

	ActionSessionLogin  Action = "session_login"
	ActionSessionLogout Action = "session_logout"
	ActionLoginFailed   Action = "login_failed"

	ActionBookingCreated   Action = "booking_created"
	ActionBookingCancelled Action = "booking_cancelled"
	ActionBookingFailed    Action = "booking_failed"
	ActionPaymentFailed    Action = "payment_failed"

	ActionAuditExported Action = "audit_exported"
)

// Entry is what callers hand to Pipeline.Record. Before and After are
// marshalled to JSON at record time; nil means absent.
type Entry struct {
	ActorID    string
	ActorRole  string
	Action     Action
	EntityKind EntityKind
	EntityID   string
	Before     any
	After      any

	// PendingSync tags an action applied locally after a failed write.
	PendingSync bool
}

// NotePendingSync is the Note of records whose action the backend never confirmed.
const NotePendingSync = "pending_sync"

func cloneRaw(in json.RawMessage) json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(json.RawMessage, len(in))
	copy(out, in)
	return out
}
