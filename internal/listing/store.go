package listing

import (
	"sort"
	"sync"
)

// Store holds the best-known collection of listings for one scope.
//
// All writers (reconciliation swaps and engine mutations) serialize on one
// mutex, so readers never observe a partially replaced collection. A
// public-scope store never holds a non-public listing: writes of such a value
// remove the entry instead.
type Store struct {
	scope Scope

	mu   sync.RWMutex
	byID map[string]Listing
	rev  uint64
}

func NewStore(scope Scope) *Store {
	if scope == "" {
		scope = ScopePrivileged
	}
	return &Store{scope: scope, byID: map[string]Listing{}}
}

func (s *Store) Scope() Scope { return s.scope }

// Revision increases on every write. Pair it with ReplaceAllAt.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rev
}

// ReplaceAll atomically swaps the whole collection.
func (s *Store) ReplaceAll(listings []Listing) {
	next := s.build(listings)

	s.mu.Lock()
	s.byID = next
	s.rev++
	s.mu.Unlock()
}

// ReplaceAllAt swaps the collection only if nothing was written since rev.
// It returns false when a newer write would have been clobbered.
func (s *Store) ReplaceAllAt(rev uint64, listings []Listing) bool {
	next := s.build(listings)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rev != rev {
		return false
	}
	s.byID = next
	s.rev++
	return true
}

// Upsert applies a value confirmed by the backend.
func (s *Store) Upsert(l Listing) {
	l.PendingSync = false
	s.put(l)
}

// UpsertLocal applies an optimistic value the backend has not accepted.
// The entry stays marked PendingSync until a reconciliation replaces it.
func (s *Store) UpsertLocal(l Listing) {
	l.PendingSync = true
	s.put(l)
}

// Remove deletes id and reports whether it was present.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[id]
	delete(s.byID, id)
	s.rev++
	return ok
}

func (s *Store) Get(id string) (Listing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.byID[id]
	if !ok {
		return Listing{}, false
	}
	return l.Clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) List() []Listing {
	return s.filter(func(Listing) bool { return true })
}

func (s *Store) ListByOwner(ownerID string) []Listing {
	return s.filter(func(l Listing) bool { return l.OwnerID == ownerID })
}

func (s *Store) ListByStatus(st Status) []Listing {
	return s.filter(func(l Listing) bool { return l.Status == st })
}

// ListFeatured returns approved and featured listings.
func (s *Store) ListFeatured() []Listing {
	return s.filter(func(l Listing) bool { return l.Public() && l.Featured })
}

func (s *Store) ListPublic() []Listing {
	return s.filter(Listing.Public)
}

// Dirty returns entries applied locally and not yet confirmed.
func (s *Store) Dirty() []Listing {
	return s.filter(func(l Listing) bool { return l.PendingSync })
}

func (s *Store) put(l Listing) {
	l = l.Clone().normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scope == ScopePublic && !l.Public() {
		delete(s.byID, l.ID)
	} else {
		s.byID[l.ID] = l
	}
	s.rev++
}

func (s *Store) build(listings []Listing) map[string]Listing {
	next := make(map[string]Listing, len(listings))
	for _, l := range listings {
		l = l.Clone().normalize()
		l.PendingSync = false
		if s.scope == ScopePublic && !l.Public() {
			continue
		}
		next[l.ID] = l
	}
	return next
}

func (s *Store) filter(keep func(Listing) bool) []Listing {
	s.mu.RLock()
	out := make([]Listing, 0, len(s.byID))
	for _, l := range s.byID {
		if keep(l) {
			out = append(out, l.Clone())
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	return out
}

func sortNewestFirst(ls []Listing) {
	sort.Slice(ls, func(i, j int) bool {
		if !ls[i].CreatedAt.Equal(ls[j].CreatedAt) {
			return ls[i].CreatedAt.After(ls[j].CreatedAt)
		}
		return ls[i].ID > ls[j].ID
	})
}
