package audit

import (
	"encoding/json"
	"fmt"
	"strings"
)

const pendingSyncSuffix = " (pending sync, not confirmed by server)"

var templates = map[Action]string{
	ActionListingCreated:    `Submitted listing "%s"`,
	ActionListingApproved:   `Approved listing "%s" for public visibility`,
	ActionListingRejected:   `Rejected listing "%s"`,
	ActionListingFeatured:   `Featured listing "%s"`,
	ActionListingUnfeatured: `Removed listing "%s" from featured`,
	ActionListingUpdated:    `Updated listing "%s"`,
	ActionListingDeleted:    `Deleted listing "%s"`,

	ActionUserCreated:     `Created user %s`,
	ActionUserUpdated:     `Updated user %s`,
	ActionUserDeleted:     `Deleted user %s`,
	ActionUserRoleChanged: `Changed role of user %s`,

	ActionSessionLogin:  `Signed in as %s`,
	ActionSessionLogout: `Signed out %s`,
	ActionLoginFailed:   `Failed sign-in attempt for %s`,

	ActionBookingCreated:   `Created booking %s`,
	ActionBookingCancelled: `Cancelled booking %s`,
	ActionBookingFailed:    `Booking %s failed`,
	ActionPaymentFailed:    `Payment %s failed`,
}

// Describe renders the human summary of a record. The subject label comes
// from the snapshot (title, name or email) and falls back to the entity id.
func Describe(r Record) string {
	label := subjectLabel(r)

	var s string
	if tpl, ok := templates[r.Action]; ok {
		s = fmt.Sprintf(tpl, label)
	} else {
		s = fmt.Sprintf("%s on %s %s", humanize(r.Action), r.EntityKind, label)
	}

	if r.Action == ActionAuditExported {
		s = describeExport(r)
	}
	if r.Action == ActionUserRoleChanged {
		if from, to := snapshotField(r.Before, "role"), snapshotField(r.After, "role"); from != "" && to != "" {
			s += fmt.Sprintf(" from %s to %s", from, to)
		}
	}
	if r.PendingSync {
		s += pendingSyncSuffix
	}
	return s
}

func describeExport(r Record) string {
	var m struct {
		Records int `json:"records"`
	}
	_ = json.Unmarshal(r.After, &m)
	s := fmt.Sprintf("Exported %d audit records", m.Records)
	if r.EntityID != "" {
		s += " to " + r.EntityID
	}
	return s
}

func subjectLabel(r Record) string {
	for _, key := range []string{"title", "name", "display_name", "email"} {
		if v := snapshotField(r.After, key); v != "" {
			return v
		}
		if v := snapshotField(r.Before, key); v != "" {
			return v
		}
	}
	if r.EntityID != "" {
		return r.EntityID
	}
	return "(unknown)"
}

func snapshotField(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func humanize(a Action) string {
	s := strings.ReplaceAll(string(a), "_", " ")
	if s == "" {
		return "Action"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
