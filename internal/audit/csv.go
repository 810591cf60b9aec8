package audit

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"id", "occurred_at", "actor_id", "actor_name", "actor_resolved", "actor_role",
	"action", "severity", "entity_kind", "entity_id", "description",
	"pending_sync", "note", "ip_address", "user_agent", "request_id",
	"before", "after",
}

// WriteCSV writes records with a fixed header row.
func WriteCSV(w io.Writer, records []ResolvedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(csvRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV walks every page matching f, newest first, and writes up to
// limit records (limit <= 0 means no limit). It returns the number written.
func (s *QueryService) ExportCSV(ctx context.Context, w io.Writer, f Filter, limit int) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}

	written := 0
	for page := 1; ; page++ {
		res, err := s.Query(ctx, f, Page{Number: page, Size: s.maxPageSize})
		if err != nil {
			return written, err
		}
		for _, r := range res.Records {
			if limit > 0 && written >= limit {
				cw.Flush()
				return written, cw.Error()
			}
			if err := cw.Write(csvRow(r)); err != nil {
				return written, err
			}
			written++
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return written, err
		}
		if !res.HasMore {
			return written, nil
		}
	}
}

func csvRow(r ResolvedRecord) []string {
	name := r.Actor.DisplayName
	if name == "" {
		name = r.Actor.Email
	}
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.OccurredAt.UTC().Format(time.RFC3339Nano),
		r.ActorID,
		name,
		strconv.FormatBool(r.Actor.Resolved),
		r.ActorRole,
		string(r.Action),
		string(r.Severity),
		string(r.EntityKind),
		r.EntityID,
		r.Description,
		strconv.FormatBool(r.PendingSync),
		r.Note,
		r.Context.IPAddress,
		r.Context.UserAgent,
		r.Context.RequestID,
		string(r.Before),
		string(r.After),
	}
}
