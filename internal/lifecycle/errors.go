package lifecycle

import (
	"errors"
	"fmt"

	"rental-platform/internal/listing"
)

var (
	ErrValidation        = errors.New("lifecycle: validation failed")
	ErrInvalidTransition = errors.New("lifecycle: invalid transition")
	ErrNotFound          = listing.ErrNotFound

	// ErrPersistenceUnavailable is only returned in strict mode, after the
	// local fallback has been applied.
	ErrPersistenceUnavailable = errors.New("lifecycle: persistence unavailable")
)

// ValidationError reports a payload that failed required-field checks.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TransitionError reports a guard that was not satisfied.
type TransitionError struct {
	ListingID string
	From      listing.Status
	Featured  bool
	Action    string
	Reason    string
}

func (e *TransitionError) Error() string {
	from := string(e.From)
	if e.Featured {
		from += "+featured"
	}
	return fmt.Sprintf("cannot %s listing %s (%s): %s", e.Action, e.ListingID, from, e.Reason)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
