package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// SQLiteSpool keeps records whose append failed in a local sqlite file so
// operators can inspect them. Nothing reads the spool back automatically.
type SQLiteSpool struct {
	db    *sql.DB
	clock func() time.Time
}

type SpooledRecord struct {
	Record   Record
	Cause    string
	FailedAt time.Time
}

func OpenSQLiteSpool(path string) (*SQLiteSpool, error) {
	if path == "" {
		return nil, errors.New("audit spool path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS failed_audit_records (
		seq       INTEGER PRIMARY KEY AUTOINCREMENT,
		action    TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		payload   BLOB NOT NULL,
		cause     TEXT NOT NULL,
		failed_at TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create spool table: %w", err)
	}
	return &SQLiteSpool{db: db, clock: time.Now}, nil
}

func (s *SQLiteSpool) Save(ctx context.Context, r Record, cause error) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO failed_audit_records (action, entity_id, payload, cause, failed_at) VALUES (?, ?, ?, ?, ?)`,
		string(r.Action), r.EntityID, payload, msg, s.clock().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert spooled record: %w", err)
	}
	return nil
}

// List returns spooled records oldest first.
func (s *SQLiteSpool) List(ctx context.Context) ([]SpooledRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload, cause, failed_at FROM failed_audit_records ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("select spool: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SpooledRecord
	for rows.Next() {
		var (
			payload  []byte
			sr       SpooledRecord
			failedAt string
		)
		if err := rows.Scan(&payload, &sr.Cause, &failedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if err := json.Unmarshal(payload, &sr.Record); err != nil {
			return nil, fmt.Errorf("decode spooled record: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, failedAt); err == nil {
			sr.FailedAt = t
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (s *SQLiteSpool) Close() error {
	return s.db.Close()
}
