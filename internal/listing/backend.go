package listing

import "context"

// Backend is the authoritative persistence boundary. Every method may fail;
// returned listings are canonical (server-assigned id, status, timestamps).
type Backend interface {
	ListCollection(ctx context.Context, scope Scope) ([]Listing, error)
	CreateListing(ctx context.Context, d Draft) (Listing, error)
	UpdateListing(ctx context.Context, id string, p Patch) (Listing, error)
	DeleteListing(ctx context.Context, id string) error
}
