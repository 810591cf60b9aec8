package lifecycle

import (
	"strings"
	"unicode/utf8"

	"rental-platform/internal/listing"
)

const (
	maxTitleLen = 200
	maxImages   = 20
)

// validateContent checks the descriptive fields every stored listing needs.
func validateContent(l listing.Listing) error {
	switch {
	case strings.TrimSpace(l.Title) == "":
		return &ValidationError{Field: "title", Reason: "required"}
	case utf8.RuneCountInString(l.Title) > maxTitleLen:
		return &ValidationError{Field: "title", Reason: "must be at most 200 characters"}
	case strings.TrimSpace(l.Location) == "":
		return &ValidationError{Field: "location", Reason: "required"}
	case strings.TrimSpace(l.Currency) == "":
		return &ValidationError{Field: "currency", Reason: "required"}
	case l.PriceMinor <= 0:
		return &ValidationError{Field: "price_minor", Reason: "must be positive"}
	case l.Capacity <= 0:
		return &ValidationError{Field: "capacity", Reason: "must be positive"}
	case len(l.Images) > maxImages:
		return &ValidationError{Field: "images", Reason: "at most 20 images"}
	}
	return nil
}

func validatePatch(p listing.Patch) error {
	switch {
	case p.Status != nil:
		return &ValidationError{Field: "status", Reason: "changes through moderation only"}
	case p.Featured != nil:
		return &ValidationError{Field: "featured", Reason: "changes through moderation only"}
	case p.Empty():
		return &ValidationError{Field: "patch", Reason: "nothing to update"}
	}
	return nil
}
