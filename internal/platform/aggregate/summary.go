package aggregate

import (
	"sort"
	"time"

	"github.com/hostelworks/backoffice-audit/internal/platform/audit"
)

// Period bounds an aggregation window. Zero boundaries mean unbounded.
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) Contains(t time.Time) bool {
	if !p.Start.IsZero() && t.Before(p.Start) {
		return false
	}
	if !p.End.IsZero() && t.After(p.End) {
		return false
	}
	return true
}

// Summary is the operational rollup over one filtered event set. It is
// derived state: recomputing it over the same events yields the same values.
type Summary struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	TotalEvents int `json:"total_events"`
	Successful  int `json:"successful"`
	Failed      int `json:"failed"`
	Partial     int `json:"partial"`
	Pending     int `json:"pending"`

	SuccessRate float64 `json:"success_rate"`
	FailureRate float64 `json:"failure_rate"`

	ByCategory   map[string]int `json:"by_category"`
	ByRole       map[string]int `json:"by_role"`
	ByEntityType map[string]int `json:"by_entity_type"`

	MostActiveCategory   string `json:"most_active_category"`
	MostActiveRole       string `json:"most_active_role"`
	MostActiveEntityType string `json:"most_active_entity_type"`

	UniqueUsers       int `json:"unique_users"`
	SensitiveEvents   int `json:"sensitive_events"`
	PendingReview     int `json:"pending_review"`
	CriticalEvents    int `json:"critical_events"`
	AccessDenied      int `json:"access_denied"`
	SecurityIncidents int `json:"security_incidents"`

	SecurityHealthScore float64 `json:"security_health_score"`
}

// BuildSummary folds events into a Summary. A malformed event (missing
// category, unknown status) drops out of the affected breakdown only; it
// still counts toward the total.
func BuildSummary(events []audit.Event, period Period) Summary {
	s := Summary{
		PeriodStart:  period.Start,
		PeriodEnd:    period.End,
		ByCategory:   make(map[string]int),
		ByRole:       make(map[string]int),
		ByEntityType: make(map[string]int),
	}
	users := make(map[string]struct{})

	for _, e := range events {
		s.TotalEvents++
		switch e.Status {
		case audit.StatusSuccess:
			s.Successful++
		case audit.StatusFailure:
			s.Failed++
		case audit.StatusPartial:
			s.Partial++
		case audit.StatusPending:
			s.Pending++
		}
		if e.ActionCategory != "" {
			s.ByCategory[e.ActionCategory]++
		}
		if e.UserRole != "" {
			s.ByRole[e.UserRole]++
		}
		if e.EntityType != "" {
			s.ByEntityType[e.EntityType]++
		}
		if e.UserID != nil {
			users[*e.UserID] = struct{}{}
		}
		if e.IsSensitive {
			s.SensitiveEvents++
		}
		if e.RequiresReview {
			s.PendingReview++
		}
		if e.Severity == audit.SeverityCritical {
			s.CriticalEvents++
		}
		if audit.IsAccessDenied(e) {
			s.AccessDenied++
		}
		if audit.IsSecurityIncident(e) {
			s.SecurityIncidents++
		}
	}

	s.UniqueUsers = len(users)
	s.SuccessRate = SuccessRate(s.Successful, s.TotalEvents)
	s.FailureRate = FailureRate(s.Failed, s.TotalEvents)
	s.MostActiveCategory = argMax(s.ByCategory)
	s.MostActiveRole = argMax(s.ByRole)
	s.MostActiveEntityType = argMax(s.ByEntityType)
	s.SecurityHealthScore = SecurityHealthScore(s.TotalEvents, s.Failed, s.CriticalEvents, s.AccessDenied)
	return s
}

// argMax picks the highest-count key. Ties break lexicographically so the
// result is stable across runs.
func argMax(counts map[string]int) string {
	best := ""
	bestCount := -1
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if counts[k] > bestCount {
			best = k
			bestCount = counts[k]
		}
	}
	return best
}

// UserActivity is the per-actor rollup feeding top-N report sections and
// risk review queues.
type UserActivity struct {
	UserID             string  `json:"user_id"`
	UserRole           string  `json:"user_role"`
	UserEmail          string  `json:"user_email,omitempty"`
	TotalEvents        int     `json:"total_events"`
	FailedActions      int     `json:"failed_actions"`
	AccessDenied       int     `json:"access_denied"`
	UnusualActivity    bool    `json:"unusual_activity"`
	UniqueIPs          int     `json:"unique_ips"`
	Countries          int     `json:"countries"`
	DistinctCategories int     `json:"distinct_categories"`
	ActivityScore      float64 `json:"activity_score"`
	RiskLevel          string  `json:"risk_level"`
}

// BuildUserActivity groups events by actor. System-initiated events (no
// user id) are skipped: they have no actor to score. Output is ordered by
// volume descending, then user id for determinism.
func BuildUserActivity(events []audit.Event) []UserActivity {
	type acc struct {
		activity   UserActivity
		ips        map[string]struct{}
		countries  map[string]struct{}
		categories map[string]struct{}
	}
	byUser := make(map[string]*acc)

	for _, e := range events {
		if e.UserID == nil {
			continue
		}
		id := *e.UserID
		a, ok := byUser[id]
		if !ok {
			a = &acc{
				activity:   UserActivity{UserID: id},
				ips:        make(map[string]struct{}),
				countries:  make(map[string]struct{}),
				categories: make(map[string]struct{}),
			}
			byUser[id] = a
		}
		a.activity.TotalEvents++
		if e.UserRole != "" {
			a.activity.UserRole = e.UserRole
		}
		if e.UserEmail != "" {
			a.activity.UserEmail = e.UserEmail
		}
		if e.Status == audit.StatusFailure {
			a.activity.FailedActions++
		}
		if audit.IsAccessDenied(e) {
			a.activity.AccessDenied++
		}
		if audit.IsUnusualActivity(e) {
			a.activity.UnusualActivity = true
		}
		if e.IPAddress != "" {
			a.ips[e.IPAddress] = struct{}{}
		}
		if e.CountryCode != "" {
			a.countries[e.CountryCode] = struct{}{}
		}
		if e.ActionCategory != "" {
			a.categories[e.ActionCategory] = struct{}{}
		}
	}

	out := make([]UserActivity, 0, len(byUser))
	for _, a := range byUser {
		a.activity.UniqueIPs = len(a.ips)
		a.activity.Countries = len(a.countries)
		a.activity.DistinctCategories = len(a.categories)
		a.activity.ActivityScore = ActivityScore(a.activity.TotalEvents, a.activity.DistinctCategories)
		a.activity.RiskLevel = RiskLevel(
			a.activity.FailedActions,
			a.activity.AccessDenied,
			a.activity.UnusualActivity,
			a.activity.UniqueIPs,
			a.activity.Countries,
		)
		out = append(out, a.activity)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalEvents != out[j].TotalEvents {
			return out[i].TotalEvents > out[j].TotalEvents
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// EntityChangeSummary counts lifecycle actions per entity type.
type EntityChangeSummary struct {
	EntityType     string `json:"entity_type"`
	TotalEvents    int    `json:"total_events"`
	Creates        int    `json:"creates"`
	Updates        int    `json:"updates"`
	Deletes        int    `json:"deletes"`
	UniqueEntities int    `json:"unique_entities"`
}

func BuildEntityChangeSummaries(events []audit.Event) []EntityChangeSummary {
	type acc struct {
		summary  EntityChangeSummary
		entities map[string]struct{}
	}
	byType := make(map[string]*acc)

	for _, e := range events {
		if e.EntityType == "" {
			continue
		}
		a, ok := byType[e.EntityType]
		if !ok {
			a = &acc{summary: EntityChangeSummary{EntityType: e.EntityType}, entities: make(map[string]struct{})}
			byType[e.EntityType] = a
		}
		a.summary.TotalEvents++
		switch {
		case audit.IsCreateAction(e.ActionType):
			a.summary.Creates++
		case audit.IsDeleteAction(e.ActionType):
			a.summary.Deletes++
		case e.IsMutation():
			a.summary.Updates++
		}
		if e.EntityID != nil {
			a.entities[*e.EntityID] = struct{}{}
		}
	}

	out := make([]EntityChangeSummary, 0, len(byType))
	for _, a := range byType {
		a.summary.UniqueEntities = len(a.entities)
		out = append(out, a.summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityType < out[j].EntityType })
	return out
}
