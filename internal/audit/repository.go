package audit

import (
	"context"
	"errors"
	"time"
)

// Repository is the persistence contract for audit records.
//
// It MUST be append-only: no Update/Delete methods are provided.
// Append assigns ID (monotonic) and returns the stored record.
// Query returns records matching every set Filter field, newest first
// (OccurredAt desc, ID desc), honoring limit and offset.
type Repository interface {
	Append(ctx context.Context, r Record) (Record, error)
	Query(ctx context.Context, f Filter, limit, offset int) ([]Record, error)
}

var ErrInvalidRecord = errors.New("audit: invalid record")

// ErrInvalidPage is returned by repositories for a negative limit or offset.
var ErrInvalidPage = errors.New("audit: invalid page window")

// Filter narrows a query. Zero-valued fields are ignored; set fields are ANDed.
type Filter struct {
	EntityKind     EntityKind
	EntityID       string
	Action         Action
	Severity       Severity
	ActorID        string
	OccurredAfter  time.Time
	OccurredBefore time.Time
	// FreeText is a case-insensitive substring over description, entity id,
	// actor id and action.
	FreeText string
}

func validate(r Record) error {
	if r.Action == "" || r.EntityKind == "" {
		return ErrInvalidRecord
	}
	return nil
}
