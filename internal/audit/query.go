package audit

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
)

const DefaultPageSize = 20

// Page selects a window of results. Number starts at 1.
type Page struct {
	Number int
	Size   int
}

// ResolvedActor is the display identity behind a record's ActorID.
// Resolved is false when the directory no longer knows the actor.
type ResolvedActor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
	Resolved    bool   `json:"resolved"`
}

// ActorDirectory looks up actors by id. Missing ids are simply absent from
// the result map.
type ActorDirectory interface {
	LookupActors(ctx context.Context, ids []string) (map[string]ResolvedActor, error)
}

type ResolvedRecord struct {
	Record
	Actor ResolvedActor `json:"actor"`
}

type Result struct {
	Records  []ResolvedRecord `json:"records"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	HasMore  bool             `json:"has_more"`
}

// QueryService is the read side of the audit feed.
type QueryService struct {
	repo        Repository
	directory   ActorDirectory
	maxPageSize int
}

func NewQueryService(repo Repository, directory ActorDirectory, maxPageSize int) *QueryService {
	if maxPageSize <= 0 {
		maxPageSize = 100
	}
	return &QueryService{repo: repo, directory: directory, maxPageSize: maxPageSize}
}

func (s *QueryService) MaxPageSize() int { return s.maxPageSize }

// Normalize clamps a requested page to the server ceiling.
func (s *QueryService) Normalize(p Page) Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > s.maxPageSize {
		p.Size = s.maxPageSize
	}
	// Keeps the page offset representable; such a page is simply empty.
	if last := math.MaxInt/p.Size - 1; p.Number > last {
		p.Number = last
	}
	return p
}

// Query returns one page of records, newest first. Records whose actor can't
// be resolved are kept and marked unresolved. A directory outage degrades to
// every actor unresolved rather than failing the query.
func (s *QueryService) Query(ctx context.Context, f Filter, p Page) (Result, error) {
	p = s.Normalize(p)

	recs, err := s.repo.Query(ctx, f, p.Size+1, (p.Number-1)*p.Size)
	if err != nil {
		return Result{}, fmt.Errorf("audit query: %w", err)
	}
	hasMore := len(recs) > p.Size
	if hasMore {
		recs = recs[:p.Size]
	}

	return Result{
		Records:  s.resolve(ctx, recs),
		Page:     p.Number,
		PageSize: p.Size,
		HasMore:  hasMore,
	}, nil
}

func (s *QueryService) resolve(ctx context.Context, recs []Record) []ResolvedRecord {
	var known map[string]ResolvedActor
	if s.directory != nil && len(recs) > 0 {
		ids := make([]string, 0, len(recs))
		seen := make(map[string]struct{}, len(recs))
		for _, r := range recs {
			if _, ok := seen[r.ActorID]; ok || r.ActorID == "" {
				continue
			}
			seen[r.ActorID] = struct{}{}
			ids = append(ids, r.ActorID)
		}
		// Lookup errors leave known nil.
		known, _ = s.directory.LookupActors(ctx, ids)
	}

	out := make([]ResolvedRecord, len(recs))
	for i, r := range recs {
		a, ok := known[r.ActorID]
		if !ok {
			a = ResolvedActor{ID: r.ActorID, Role: r.ActorRole}
		}
		a.ID = r.ActorID
		a.Resolved = ok
		out[i] = ResolvedRecord{Record: r, Actor: a}
	}
	return out
}

// MemoryDirectory is an in-memory ActorDirectory.
type MemoryDirectory struct {
	mu     sync.RWMutex
	actors map[string]ResolvedActor
}

func NewMemoryDirectory(actors ...ResolvedActor) *MemoryDirectory {
	d := &MemoryDirectory{actors: map[string]ResolvedActor{}}
	for _, a := range actors {
		d.Put(a)
	}
	return d
}

func (d *MemoryDirectory) Put(a ResolvedActor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actors[a.ID] = a
}

func (d *MemoryDirectory) Delete(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.actors, id)
}

func (d *MemoryDirectory) LookupActors(_ context.Context, ids []string) (map[string]ResolvedActor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]ResolvedActor, len(ids))
	for _, id := range ids {
		if a, ok := d.actors[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

// PostgresDirectory resolves actors from the users table. Soft-deleted
// users are treated as unknown.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) LookupActors(ctx context.Context, ids []string) (map[string]ResolvedActor, error) {
	out := make(map[string]ResolvedActor, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	ph := ""
	for i, id := range ids {
		args[i] = id
		if i > 0 {
			ph += ", "
		}
		ph += fmt.Sprintf("$%d", i+1)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id::text, display_name, email, role
		FROM users
		WHERE id::text IN (`+ph+`) AND deleted_at IS NULL
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var a ResolvedActor
		if err := rows.Scan(&a.ID, &a.DisplayName, &a.Email, &a.Role); err != nil {
			return nil, err
		}
		a.Resolved = true
		out[a.ID] = a
	}
	return out, rows.Err()
}
