package listing

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("listing: not found")
	ErrConflict = errors.New("listing: stored state changed")
)

// ConflictError is returned by a conditional write whose expected moderation
// state no longer matches the stored row. Current is the stored listing.
type ConflictError struct {
	Current Listing
}

func (e *ConflictError) Error() string {
	return "listing " + e.Current.ID + ": stored state is " + string(e.Current.Status) + featuredSuffix(e.Current.Featured)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func featuredSuffix(f bool) string {
	if f {
		return " (featured)"
	}
	return ""
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// Scope selects how much of the collection a caller may see.
type Scope string

const (
	// ScopePublic is approved listings only.
	ScopePublic Scope = "public"
	// ScopePrivileged includes pending and rejected listings.
	ScopePrivileged Scope = "privileged"
)

// Listing is a property record subject to moderation. The descriptive
// fields are carried through untouched.
type Listing struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	Status   Status `json:"status"`
	Featured bool   `json:"featured"`

	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	PriceMinor  int64    `json:"price_minor"`
	Currency    string   `json:"currency"`
	Location    string   `json:"location"`
	Capacity    int      `json:"capacity"`
	Amenities   []string `json:"amenities,omitempty"`
	Images      []string `json:"images,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// PendingSync marks a value applied locally after a failed write.
	// Values returned by a Backend never carry it.
	PendingSync bool `json:"pending_sync,omitempty"`
}

// Public reports whether the listing may appear on public surfaces.
func (l Listing) Public() bool {
	return l.Status == StatusApproved
}

// Clone returns a copy that shares no slices with l.
func (l Listing) Clone() Listing {
	l.Amenities = cloneStrings(l.Amenities)
	l.Images = cloneStrings(l.Images)
	return l
}

// normalize enforces featured => approved.
func (l Listing) normalize() Listing {
	if l.Status != StatusApproved {
		l.Featured = false
	}
	return l
}

// Draft is a submission payload. Status is chosen by the caller
// (pending, or approved for trusted submitters).
type Draft struct {
	OwnerID     string
	Status      Status
	Title       string
	Description string
	PriceMinor  int64
	Currency    string
	Location    string
	Capacity    int
	Amenities   []string
	Images      []string
}

// Materialize builds the listing a Draft would produce, for local fallback.
func (d Draft) Materialize(id string, now time.Time) Listing {
	st := d.Status
	if st == "" {
		st = StatusPending
	}
	return Listing{
		ID:          id,
		OwnerID:     d.OwnerID,
		Status:      st,
		Title:       d.Title,
		Description: d.Description,
		PriceMinor:  d.PriceMinor,
		Currency:    d.Currency,
		Location:    d.Location,
		Capacity:    d.Capacity,
		Amenities:   cloneStrings(d.Amenities),
		Images:      cloneStrings(d.Images),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// State is the moderation part of a listing.
type State struct {
	Status   Status
	Featured bool
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Status   *Status
	Featured *bool

	// Expect makes the write conditional on the stored moderation state.
	Expect *State

	Title       *string
	Description *string
	PriceMinor  *int64
	Currency    *string
	Location    *string
	Capacity    *int
	Amenities   *[]string
	Images      *[]string
}

// TouchesModeration reports whether the patch changes Status or Featured.
func (p Patch) TouchesModeration() bool {
	return p.Status != nil || p.Featured != nil
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return !p.TouchesModeration() &&
		p.Title == nil && p.Description == nil && p.PriceMinor == nil &&
		p.Currency == nil && p.Location == nil && p.Capacity == nil &&
		p.Amenities == nil && p.Images == nil
}

// Check returns a *ConflictError when Expect is set and cur does not match it.
func (p Patch) Check(cur Listing) error {
	if p.Expect == nil {
		return nil
	}
	if cur.Status != p.Expect.Status || cur.Featured != p.Expect.Featured {
		return &ConflictError{Current: cur.Clone()}
	}
	return nil
}

// Apply returns l with the patch applied and the featured invariant enforced.
func (p Patch) Apply(l Listing, now time.Time) Listing {
	l = l.Clone()
	if p.Status != nil {
		l.Status = *p.Status
	}
	if p.Featured != nil {
		l.Featured = *p.Featured
	}
	if p.Title != nil {
		l.Title = *p.Title
	}
	if p.Description != nil {
		l.Description = *p.Description
	}
	if p.PriceMinor != nil {
		l.PriceMinor = *p.PriceMinor
	}
	if p.Currency != nil {
		l.Currency = *p.Currency
	}
	if p.Location != nil {
		l.Location = *p.Location
	}
	if p.Capacity != nil {
		l.Capacity = *p.Capacity
	}
	if p.Amenities != nil {
		l.Amenities = cloneStrings(*p.Amenities)
	}
	if p.Images != nil {
		l.Images = cloneStrings(*p.Images)
	}
	l.UpdatedAt = now
	return l.normalize()
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
