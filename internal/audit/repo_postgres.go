package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresRepo stores records in audit_records. The table carries an
// INSERT-only trigger; snapshots use the json type so bytes round-trip as written.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const recordColumns = `
id, actor_id, actor_role, action, entity_kind, entity_id,
before, after, severity, description, pending_sync, note,
ip_address, user_agent, request_id, occurred_at
`

func (r *PostgresRepo) Append(ctx context.Context, rec Record) (Record, error) {
	if err := validate(rec); err != nil {
		return Record{}, err
	}
	const q = `
INSERT INTO audit_records (
	actor_id, actor_role, action, entity_kind, entity_id,
	before, after, severity, description, pending_sync, note,
	ip_address, user_agent, request_id, occurred_at
) VALUES ($1, $2, $3, $4, $5, $6::json, $7::json, $8, $9, $10, $11, $12, $13, $14, $15)
RETURNING id
`
	out := rec.Clone()
	if err := r.db.QueryRowContext(ctx, q,
		rec.ActorID,
		rec.ActorRole,
		string(rec.Action),
		string(rec.EntityKind),
		rec.EntityID,
		nullableJSON(rec.Before),
		nullableJSON(rec.After),
		string(rec.Severity),
		rec.Description,
		rec.PendingSync,
		rec.Note,
		rec.Context.IPAddress,
		rec.Context.UserAgent,
		rec.Context.RequestID,
		rec.OccurredAt,
	).Scan(&out.ID); err != nil {
		return Record{}, fmt.Errorf("inserting audit record: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) Query(ctx context.Context, f Filter, limit, offset int) ([]Record, error) {
	if offset < 0 || limit < 0 {
		return nil, ErrInvalidPage
	}
	var (
		clauses []string
		args    []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind = "+arg(string(f.EntityKind)))
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id = "+arg(f.EntityID))
	}
	if f.Action != "" {
		clauses = append(clauses, "action = "+arg(string(f.Action)))
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity = "+arg(string(f.Severity)))
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id = "+arg(f.ActorID))
	}
	if !f.OccurredAfter.IsZero() {
		clauses = append(clauses, "occurred_at >= "+arg(f.OccurredAfter))
	}
	if !f.OccurredBefore.IsZero() {
		clauses = append(clauses, "occurred_at < "+arg(f.OccurredBefore))
	}
	if q := strings.TrimSpace(f.FreeText); q != "" {
		p := arg("%" + escapeLike(q) + "%")
		clauses = append(clauses, fmt.Sprintf(
			"(description ILIKE %[1]s OR entity_id ILIKE %[1]s OR actor_id ILIKE %[1]s OR action ILIKE %[1]s)", p))
	}

	query := "SELECT " + recordColumns + " FROM audit_records"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT " + arg(limit)
	}
	if offset > 0 {
		query += " OFFSET " + arg(offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var (
			rec           Record
			before, after []byte
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.ActorID,
			&rec.ActorRole,
			&rec.Action,
			&rec.EntityKind,
			&rec.EntityID,
			&before,
			&after,
			&rec.Severity,
			&rec.Description,
			&rec.PendingSync,
			&rec.Note,
			&rec.Context.IPAddress,
			&rec.Context.UserAgent,
			&rec.Context.RequestID,
			&rec.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		rec.Before = cloneRaw(before)
		rec.After = cloneRaw(after)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullableJSON(raw []byte) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
