package listing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rental-platform/pkg/utils"
)

// PostgresRepo is the Backend over the listings table (see migrations).
// Amenities and images are stored as jsonb arrays.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const listingColumns = `
id::text, owner_id, status, featured,
title, description, price_minor, currency, location, capacity,
amenities, images, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (Listing, error) {
	var (
		l                 Listing
		amenities, images []byte
	)
	if err := row.Scan(
		&l.ID,
		&l.OwnerID,
		&l.Status,
		&l.Featured,
		&l.Title,
		&l.Description,
		&l.PriceMinor,
		&l.Currency,
		&l.Location,
		&l.Capacity,
		&amenities,
		&images,
		&l.CreatedAt,
		&l.UpdatedAt,
	); err != nil {
		return Listing{}, err
	}
	if err := decodeStrings(amenities, &l.Amenities); err != nil {
		return Listing{}, fmt.Errorf("decode amenities: %w", err)
	}
	if err := decodeStrings(images, &l.Images); err != nil {
		return Listing{}, fmt.Errorf("decode images: %w", err)
	}
	return l, nil
}

func (r *PostgresRepo) ListCollection(ctx context.Context, scope Scope) ([]Listing, error) {
	q := `SELECT ` + listingColumns + ` FROM listings`
	if scope == ScopePublic {
		q += ` WHERE status = 'approved'`
	}
	q += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CreateListing(ctx context.Context, d Draft) (Listing, error) {
	status := d.Status
	if status == "" {
		status = StatusPending
	}
	amenities, err := encodeStrings(d.Amenities)
	if err != nil {
		return Listing{}, err
	}
	images, err := encodeStrings(d.Images)
	if err != nil {
		return Listing{}, err
	}

	q := `
INSERT INTO listings (owner_id, status, featured, title, description, price_minor, currency, location, capacity, amenities, images)
VALUES ($1, $2, false, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb)
RETURNING ` + listingColumns

	return scanListing(r.db.QueryRowContext(ctx, q,
		d.OwnerID,
		string(status),
		d.Title,
		d.Description,
		d.PriceMinor,
		d.Currency,
		d.Location,
		d.Capacity,
		amenities,
		images,
	))
}

// UpdateListing reads the row under a lock, refuses the write when p.Expect
// no longer holds, applies p in Go so the featured invariant has one
// definition, and writes the full row back.
func (r *PostgresRepo) UpdateListing(ctx context.Context, id string, p Patch) (Listing, error) {
	var out Listing
	err := utils.WithTx(ctx, r.db, utils.ListingWriteTx, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := selectForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := p.Check(cur); err != nil {
			return err
		}
		next := p.Apply(cur, time.Now().UTC())

		amenities, err := encodeStrings(next.Amenities)
		if err != nil {
			return err
		}
		images, err := encodeStrings(next.Images)
		if err != nil {
			return err
		}

		q := `
UPDATE listings SET
	status      = $2,
	featured    = $3,
	title       = $4,
	description = $5,
	price_minor = $6,
	currency    = $7,
	location    = $8,
	capacity    = $9,
	amenities   = $10::jsonb,
	images      = $11::jsonb,
	updated_at  = now()
WHERE id = $1
RETURNING ` + listingColumns

		out, err = scanListing(tx.QueryRowContext(ctx, q,
			id,
			string(next.Status),
			next.Featured,
			next.Title,
			next.Description,
			next.PriceMinor,
			next.Currency,
			next.Location,
			next.Capacity,
			amenities,
			images,
		))
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, err
	}
	return out, nil
}

func selectForUpdate(ctx context.Context, q utils.Querier, id string) (Listing, error) {
	return scanListing(q.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1 FOR UPDATE`, id))
}

func (r *PostgresRepo) DeleteListing(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM listings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeStrings(in []string) (string, error) {
	if in == nil {
		in = []string{}
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeStrings(raw []byte, out *[]string) error {
	if len(raw) == 0 {
		*out = nil
		return nil
	}
	var v []string
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	if len(v) == 0 {
		v = nil
	}
	*out = v
	return nil
}
