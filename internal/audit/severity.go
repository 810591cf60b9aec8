package audit

import "strings"

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	default:
		return false
	}
}

var severityByAction = map[Action]Severity{
	ActionListingCreated:    SeverityInfo,
	ActionListingApproved:   SeverityInfo,
	ActionListingRejected:   SeverityWarning,
	ActionListingFeatured:   SeverityInfo,
	ActionListingUnfeatured: SeverityInfo,
	ActionListingUpdated:    SeverityInfo,
	ActionListingDeleted:    SeverityCritical,

	ActionUserCreated:     SeverityInfo,
	ActionUserUpdated:     SeverityInfo,
	ActionUserDeleted:     SeverityCritical,
	ActionUserRoleChanged: SeverityInfo,

	ActionSessionLogin:  SeverityInfo,
	ActionSessionLogout: SeverityInfo,
	ActionLoginFailed:   SeverityWarning,

	ActionBookingCreated:   SeverityInfo,
	ActionBookingCancelled: SeverityWarning,
	ActionBookingFailed:    SeverityError,
	ActionPaymentFailed:    SeverityError,
}

// Classify maps an action to its severity. Known actions use the fixed
// table; unknown ones are classified by suffix:
//
//	*_deleted                                   critical
//	*_rejected *_cancelled *_revoked *_suspended warning
//	*_failed                                    error
//	anything else                               info
func Classify(a Action) Severity {
	if s, ok := severityByAction[a]; ok {
		return s
	}
	name := string(a)
	switch {
	case strings.HasSuffix(name, "_deleted"):
		return SeverityCritical
	case strings.HasSuffix(name, "_rejected"),
		strings.HasSuffix(name, "_cancelled"),
		strings.HasSuffix(name, "_revoked"),
		strings.HasSuffix(name, "_suspended"):
		return SeverityWarning
	case strings.HasSuffix(name, "_failed"):
		return SeverityError
	default:
		return SeverityInfo
	}
}
