package audit

import "time"

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusPartial Status = "partial"
	StatusPending Status = "pending"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusPartial, StatusPending:
		return true
	}
	return false
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Rank orders severities for threshold filtering. Unknown severities rank
// below info so they never satisfy a min-severity filter.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Coarse action buckets. ActionType is free-form ("complaint.resolve"),
// ActionCategory groups it for breakdowns and filtering.
const (
	CategoryAuth       = "auth"
	CategoryBooking    = "booking"
	CategoryOccupancy  = "occupancy"
	CategoryFinancial  = "financial"
	CategoryComplaint  = "complaint"
	CategorySupervisor = "supervisor"
	CategoryCompliance = "compliance"
	CategorySecurity   = "security"
	CategorySystem     = "system"
)

// Values carries the before/after state of a mutated entity. Only keys
// matching the subject entity's field names are meaningful; the store treats
// the map as opaque JSON.
type Values map[string]any

// Event is one immutable audit record. It has no behavior of its own: every
// derived quantity (changed fields, scores, histories) is a function over
// events, never a method that mutates one.
type Event struct {
	EventID   string
	CreatedAt time.Time
	// InsertSeq is assigned by the store and breaks CreatedAt ties so that
	// any retrieved sequence has a strict chronological order.
	InsertSeq int64

	UserID         *string
	UserRole       string
	UserEmail      string
	ImpersonatorID *string

	EntityType string
	EntityID   *string
	EntityName string

	ActionType     string
	ActionCategory string
	Status         Status
	Severity       Severity
	Description    string

	OldValues Values
	NewValues Values

	IPAddress   string
	CountryCode string
	UserAgent   string
	DeviceType  string
	Platform    string
	RequestID   string
	SessionID   string
	HostelID    string

	IsSensitive    bool
	RequiresReview bool
	ComplianceTag  string

	// Tamper-evidence chain, linked by the store at append time.
	HashPrev string
	HashCurr string
}

// IsMutation reports whether the event carries a change payload.
func (e Event) IsMutation() bool {
	return len(e.OldValues) > 0 || len(e.NewValues) > 0
}

// actionVerb returns the segment after the last dot of an action type,
// e.g. "booking.status.update" -> "update".
func actionVerb(actionType string) string {
	for i := len(actionType) - 1; i >= 0; i-- {
		if actionType[i] == '.' {
			return actionType[i+1:]
		}
	}
	return actionType
}

func IsCreateAction(actionType string) bool { return actionVerb(actionType) == "create" }

func IsDeleteAction(actionType string) bool { return actionVerb(actionType) == "delete" }

func IsRestoreAction(actionType string) bool { return actionVerb(actionType) == "restore" }

// IsAccessDenied identifies authorization rejections for risk scoring.
func IsAccessDenied(e Event) bool {
	verb := actionVerb(e.ActionType)
	if verb == "access_denied" || verb == "denied" {
		return true
	}
	return e.ActionCategory == CategoryAuth && e.Status == StatusFailure
}

// IsUnusualActivity flags events a reviewer has to look at: anything marked
// for review at high or critical severity.
func IsUnusualActivity(e Event) bool {
	return e.RequiresReview && e.Severity.Rank() >= SeverityHigh.Rank()
}

// IsSecurityIncident counts toward compliance and security reporting.
func IsSecurityIncident(e Event) bool {
	if e.Severity == SeverityCritical {
		return true
	}
	return e.IsSensitive && e.Status == StatusFailure
}
