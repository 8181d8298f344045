package audit

import (
	"errors"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type SortField string

const (
	SortCreatedAt  SortField = "created_at"
	SortActionType SortField = "action_type"
	SortUserID     SortField = "user_id"
	SortEntityType SortField = "entity_type"
	SortStatus     SortField = "status"
	SortSeverity   SortField = "severity"
)

type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

type Sort struct {
	Field SortField
	Order SortOrder
}

// DefaultSort is newest-first, the listing order admin surfaces expect.
func DefaultSort() Sort {
	return Sort{Field: SortCreatedAt, Order: OrderDesc}
}

type TimeRange struct {
	Start time.Time
	End   time.Time
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Filter is the declarative query specification. All dimensions are
// optional and combine with AND. Single-value and list-value variants of
// the same dimension are mutually exclusive, and at most one time-filter
// mechanism may be active; Validate enforces both before any store access.
type Filter struct {
	UserID         *string
	UserIDs        []string
	UserRole       *string
	UserRoles      []string
	UserEmail      string
	ExcludeUserIDs []string

	HostelID  *string
	HostelIDs []string

	EntityType  *string
	EntityTypes []string
	EntityID    *string
	EntityIDs   []string

	ActionType       *string
	ActionTypes      []string
	ActionCategory   *string
	ActionCategories []string
	ActionPattern    string

	DatetimeRange *TimeRange
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	LastHours     int `validate:"omitempty,gte=1"`
	LastDays      int `validate:"omitempty,gte=1"`

	Status       *Status  `validate:"omitempty,oneof=success failure partial pending"`
	Statuses     []Status `validate:"dive,oneof=success failure partial pending"`
	OnlyFailures bool
	Severity     *Severity `validate:"omitempty,oneof=critical high medium low info"`
	MinSeverity  *Severity `validate:"omitempty,oneof=critical high medium low info"`

	IsSensitive    *bool
	RequiresReview *bool
	ComplianceTag  string

	IPAddress   *string
	IPAddresses []string
	CountryCode string
	DeviceType  string
	Platform    string

	SearchQuery       string
	SearchDescription bool
	SearchEntityName  bool
	SearchUserEmail   bool

	SortBy    SortField `validate:"omitempty,oneof=created_at action_type user_id entity_type status severity"`
	SortOrder SortOrder `validate:"omitempty,oneof=asc desc"`

	Page     int `validate:"omitempty,gte=1"`
	PageSize int `validate:"omitempty,gte=1,lte=200"`
}

var filterValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks well-formedness. It never reinterprets a conflicting
// specification: conflicts fail loudly.
func (f Filter) Validate() error {
	if err := filterValidator.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return invalid(verrs[0].Field(), "failed "+verrs[0].Tag()+" constraint")
		}
		return invalid("", err.Error())
	}

	exclusive := []struct {
		name   string
		single bool
		list   bool
	}{
		{"user_id", f.UserID != nil, len(f.UserIDs) > 0},
		{"user_role", f.UserRole != nil, len(f.UserRoles) > 0},
		{"hostel_id", f.HostelID != nil, len(f.HostelIDs) > 0},
		{"entity_type", f.EntityType != nil, len(f.EntityTypes) > 0},
		{"entity_id", f.EntityID != nil, len(f.EntityIDs) > 0},
		{"action_type", f.ActionType != nil, len(f.ActionTypes) > 0},
		{"action_category", f.ActionCategory != nil, len(f.ActionCategories) > 0},
		{"status", f.Status != nil, len(f.Statuses) > 0},
		{"ip_address", f.IPAddress != nil, len(f.IPAddresses) > 0},
	}
	for _, dim := range exclusive {
		if dim.single && dim.list {
			return invalid(dim.name, "single and list variants are mutually exclusive")
		}
	}

	timeMechanisms := 0
	if f.DatetimeRange != nil {
		timeMechanisms++
	}
	if f.CreatedAfter != nil || f.CreatedBefore != nil {
		timeMechanisms++
	}
	if f.LastHours > 0 {
		timeMechanisms++
	}
	if f.LastDays > 0 {
		timeMechanisms++
	}
	if timeMechanisms > 1 {
		return invalid("time", "at most one time-filter mechanism may be active")
	}
	if f.DatetimeRange != nil && !f.DatetimeRange.Start.IsZero() && !f.DatetimeRange.End.IsZero() &&
		f.DatetimeRange.End.Before(f.DatetimeRange.Start) {
		return invalid("datetime_range", "end precedes start")
	}

	if f.Severity != nil && f.MinSeverity != nil {
		return invalid("severity", "severity_level and min_severity are mutually exclusive")
	}

	if f.ActionPattern != "" {
		if _, err := path.Match(f.ActionPattern, "probe"); err != nil {
			return invalid("action_pattern", "malformed wildcard pattern")
		}
	}
	return nil
}

// Predicate is the normalized conjunction handed to a store. The time
// window is already resolved against a concrete "now", so evaluating the
// same predicate later stays deterministic.
type Predicate struct {
	UserIDs        []string
	ExcludeUserIDs []string
	UserRoles      []string
	UserEmail      string

	HostelIDs   []string
	EntityTypes []string
	EntityIDs   []string

	ActionTypes      []string
	ActionCategories []string
	ActionPattern    string

	From time.Time
	To   time.Time

	Statuses    []Status
	Severity    Severity
	MinSeverity Severity

	IsSensitive    *bool
	RequiresReview *bool
	ComplianceTag  string

	IPAddresses []string
	CountryCode string
	DeviceType  string
	Platform    string

	Search            string
	SearchDescription bool
	SearchEntityName  bool
	SearchUserEmail   bool
}

// Predicate validates the filter and resolves relative time mechanisms
// against now. This is the only path from a Filter to a store query.
func (f Filter) Predicate(now time.Time) (Predicate, error) {
	if err := f.Validate(); err != nil {
		return Predicate{}, err
	}

	p := Predicate{
		UserIDs:          coalesce(f.UserID, f.UserIDs),
		ExcludeUserIDs:   f.ExcludeUserIDs,
		UserRoles:        coalesce(f.UserRole, f.UserRoles),
		UserEmail:        f.UserEmail,
		HostelIDs:        coalesce(f.HostelID, f.HostelIDs),
		EntityTypes:      coalesce(f.EntityType, f.EntityTypes),
		EntityIDs:        coalesce(f.EntityID, f.EntityIDs),
		ActionTypes:      coalesce(f.ActionType, f.ActionTypes),
		ActionCategories: coalesce(f.ActionCategory, f.ActionCategories),
		ActionPattern:    f.ActionPattern,
		IsSensitive:      f.IsSensitive,
		RequiresReview:   f.RequiresReview,
		ComplianceTag:    f.ComplianceTag,
		CountryCode:      f.CountryCode,
		DeviceType:       f.DeviceType,
		Platform:         f.Platform,
		Search:           strings.TrimSpace(f.SearchQuery),
	}

	if f.IPAddress != nil {
		p.IPAddresses = []string{*f.IPAddress}
	} else {
		p.IPAddresses = f.IPAddresses
	}

	statuses := f.Statuses
	if f.Status != nil {
		statuses = []Status{*f.Status}
	}
	if f.OnlyFailures {
		// Narrows an explicit status filter rather than widening it. A
		// status set that excludes failure cannot match anything, so the
		// combination is rejected instead of silently matching nothing.
		if len(statuses) > 0 && !containsStatus(statuses, StatusFailure) {
			return Predicate{}, invalid("only_failures", "conflicts with a status filter that excludes failure")
		}
		statuses = []Status{StatusFailure}
	}
	p.Statuses = statuses

	if f.Severity != nil {
		p.Severity = *f.Severity
	}
	if f.MinSeverity != nil {
		p.MinSeverity = *f.MinSeverity
	}

	switch {
	case f.DatetimeRange != nil:
		p.From, p.To = f.DatetimeRange.Start, f.DatetimeRange.End
	case f.CreatedAfter != nil || f.CreatedBefore != nil:
		if f.CreatedAfter != nil {
			p.From = *f.CreatedAfter
		}
		if f.CreatedBefore != nil {
			p.To = *f.CreatedBefore
		}
	case f.LastHours > 0:
		p.From = now.Add(-time.Duration(f.LastHours) * time.Hour)
	case f.LastDays > 0:
		p.From = now.AddDate(0, 0, -f.LastDays)
	}

	if p.Search != "" && !f.SearchDescription && !f.SearchEntityName && !f.SearchUserEmail {
		p.SearchDescription, p.SearchEntityName, p.SearchUserEmail = true, true, true
	} else {
		p.SearchDescription = f.SearchDescription
		p.SearchEntityName = f.SearchEntityName
		p.SearchUserEmail = f.SearchUserEmail
	}
	return p, nil
}

func coalesce(single *string, list []string) []string {
	if single != nil {
		return []string{*single}
	}
	return list
}

// SortSpec resolves the requested ordering, defaulting to newest-first.
func (f Filter) SortSpec() Sort {
	s := Sort{Field: f.SortBy, Order: f.SortOrder}
	if s.Field == "" {
		s.Field = SortCreatedAt
	}
	if s.Order == "" {
		s.Order = OrderDesc
	}
	return s
}

// Pagination resolves page and page size with their documented defaults.
func (f Filter) Pagination() (page, pageSize int) {
	page, pageSize = f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return page, pageSize
}

// Matches evaluates the conjunction against one event. The in-memory store
// and tests use this directly; the postgres store translates the same
// predicate to SQL.
func (p Predicate) Matches(e Event) bool {
	userID := ""
	if e.UserID != nil {
		userID = *e.UserID
	}
	if len(p.UserIDs) > 0 && !contains(p.UserIDs, userID) {
		return false
	}
	if len(p.ExcludeUserIDs) > 0 && contains(p.ExcludeUserIDs, userID) {
		return false
	}
	if len(p.UserRoles) > 0 && !contains(p.UserRoles, e.UserRole) {
		return false
	}
	if p.UserEmail != "" && !containsFold(e.UserEmail, p.UserEmail) {
		return false
	}
	if len(p.HostelIDs) > 0 && !contains(p.HostelIDs, e.HostelID) {
		return false
	}
	if len(p.EntityTypes) > 0 && !contains(p.EntityTypes, e.EntityType) {
		return false
	}
	if len(p.EntityIDs) > 0 {
		if e.EntityID == nil || !contains(p.EntityIDs, *e.EntityID) {
			return false
		}
	}
	if len(p.ActionTypes) > 0 && !contains(p.ActionTypes, e.ActionType) {
		return false
	}
	if len(p.ActionCategories) > 0 && !contains(p.ActionCategories, e.ActionCategory) {
		return false
	}
	if p.ActionPattern != "" {
		if ok, err := path.Match(p.ActionPattern, e.ActionType); err != nil || !ok {
			return false
		}
	}
	if !p.From.IsZero() && e.CreatedAt.Before(p.From) {
		return false
	}
	if !p.To.IsZero() && e.CreatedAt.After(p.To) {
		return false
	}
	if len(p.Statuses) > 0 {
		found := false
		for _, s := range p.Statuses {
			if e.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if p.Severity != "" && e.Severity != p.Severity {
		return false
	}
	if p.MinSeverity != "" && e.Severity.Rank() < p.MinSeverity.Rank() {
		return false
	}
	if p.IsSensitive != nil && e.IsSensitive != *p.IsSensitive {
		return false
	}
	if p.RequiresReview != nil && e.RequiresReview != *p.RequiresReview {
		return false
	}
	if p.ComplianceTag != "" && e.ComplianceTag != p.ComplianceTag {
		return false
	}
	if len(p.IPAddresses) > 0 && !contains(p.IPAddresses, e.IPAddress) {
		return false
	}
	if p.CountryCode != "" && e.CountryCode != p.CountryCode {
		return false
	}
	if p.DeviceType != "" && e.DeviceType != p.DeviceType {
		return false
	}
	if p.Platform != "" && e.Platform != p.Platform {
		return false
	}
	if p.Search != "" {
		hit := false
		if p.SearchDescription && containsFold(e.Description, p.Search) {
			hit = true
		}
		if p.SearchEntityName && containsFold(e.EntityName, p.Search) {
			hit = true
		}
		if p.SearchUserEmail && containsFold(e.UserEmail, p.Search) {
			hit = true
		}
		if !hit {
			return false
		}
	}
	return true
}

func containsStatus(list []Status, v Status) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
