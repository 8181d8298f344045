package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hostelworks/backoffice-audit/internal/platform/aggregate"
	"github.com/hostelworks/backoffice-audit/internal/platform/audit"
	"github.com/hostelworks/backoffice-audit/internal/platform/clock"
)

// IdentityDirectory resolves a user id to a display name for report
// enrichment. Implementations must tolerate unknown or deleted users; the
// assembler falls back to the raw id on any error.
type IdentityDirectory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// HostelDirectory resolves a hostel id to its display name, same fallback
// rule as IdentityDirectory.
type HostelDirectory interface {
	HostelName(ctx context.Context, hostelID string) (string, error)
}

// Scope narrows a report to one tenant. The zero value is platform-wide.
type Scope struct {
	HostelID string
}

type ExecutiveSummary struct {
	TotalEvents       int     `json:"total_events"`
	SuccessRate       float64 `json:"success_rate"`
	RequiresAttention bool    `json:"requires_attention"`
}

type CategoryAnalytics struct {
	Category string  `json:"category"`
	Events   int     `json:"events"`
	Share    float64 `json:"share"`
}

// UserActivityLine pairs a user rollup with its resolved display name.
type UserActivityLine struct {
	aggregate.UserActivity
	DisplayName string `json:"display_name"`
}

type ComplianceReport struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	HostelID    string    `json:"hostel_id,omitempty"`
	HostelName  string    `json:"hostel_name,omitempty"`

	TotalEvents       int            `json:"total_events"`
	CompliantEvents   int            `json:"compliant_events"`
	ComplianceRate    float64        `json:"compliance_rate"`
	ComplianceGrade   string         `json:"compliance_grade"`
	SecurityIncidents int            `json:"security_incidents"`
	RiskAssessment    string         `json:"risk_assessment"`
	SensitiveEvents   int            `json:"sensitive_events"`
	PendingReview     int            `json:"pending_review"`
	EventsByTag       map[string]int `json:"events_by_tag"`

	GeneratedAt time.Time `json:"generated_at"`
}

type SecurityAuditReport struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	HostelID    string    `json:"hostel_id,omitempty"`
	HostelName  string    `json:"hostel_name,omitempty"`

	TotalEvents         int     `json:"total_events"`
	FailedActions       int     `json:"failed_actions"`
	AccessDenied        int     `json:"access_denied"`
	CriticalEvents      int     `json:"critical_events"`
	SensitiveEvents     int     `json:"sensitive_events"`
	SecurityHealthScore float64 `json:"security_health_score"`
	OverallRiskScore    float64 `json:"overall_risk_score"`
	ThreatLevel         string  `json:"threat_level"`

	HighRiskUsers []UserActivityLine `json:"high_risk_users"`

	GeneratedAt time.Time `json:"generated_at"`
}

// AuditReport is the top-level dashboard document.
type AuditReport struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	HostelID    string    `json:"hostel_id,omitempty"`
	HostelName  string    `json:"hostel_name,omitempty"`

	Executive         ExecutiveSummary                `json:"executive_summary"`
	Summary           aggregate.Summary               `json:"summary"`
	CategoryAnalytics []CategoryAnalytics             `json:"category_analytics"`
	TopUsers          []UserActivityLine              `json:"top_users"`
	EntityChanges     []aggregate.EntityChangeSummary `json:"entity_changes"`
	Trend             aggregate.TrendAnalysis         `json:"trend"`

	Compliance *ComplianceReport    `json:"compliance,omitempty"`
	Security   *SecurityAuditReport `json:"security,omitempty"`

	OverallHealthScore float64 `json:"overall_health_score"`

	// Findings and recommendations come from caller-supplied business
	// rules; the assembler only carries them.
	Findings        []string `json:"findings,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}

// BuildOptions selects optional sub-reports and carries caller-supplied
// narrative sections.
type BuildOptions struct {
	IncludeCompliance bool
	IncludeSecurity   bool
	Findings          []string
	Recommendations   []string
}

// Top-N cap for the user activity section.
const topUserLimit = 10

// Assembler builds reports from the event store. It holds no state between
// calls; every report is recomputed from the underlying event set.
type Assembler struct {
	Store    audit.Store
	Clock    clock.Clock
	Identity IdentityDirectory
	Hostels  HostelDirectory
}

func NewAssembler(store audit.Store, clk clock.Clock) *Assembler {
	return &Assembler{Store: store, Clock: clk}
}

func (a *Assembler) now() time.Time {
	if a.Clock == nil {
		return time.Now().UTC()
	}
	return a.Clock.Now().UTC()
}

func (a *Assembler) fetch(ctx context.Context, period aggregate.Period, scope Scope) ([]audit.Event, error) {
	pred := audit.Predicate{From: period.Start, To: period.End}
	if scope.HostelID != "" {
		pred.HostelIDs = []string{scope.HostelID}
	}
	events, _, err := a.Store.Query(ctx, pred, audit.Sort{Field: audit.SortCreatedAt, Order: audit.OrderAsc}, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch events for report: %w", err)
	}
	return events, nil
}

func (a *Assembler) hostelName(ctx context.Context, hostelID string) string {
	if hostelID == "" || a.Hostels == nil {
		return ""
	}
	name, err := a.Hostels.HostelName(ctx, hostelID)
	if err != nil || name == "" {
		return hostelID
	}
	return name
}

func (a *Assembler) displayName(ctx context.Context, userID string) string {
	if a.Identity == nil {
		return userID
	}
	name, err := a.Identity.DisplayName(ctx, userID)
	if err != nil || name == "" {
		return userID
	}
	return name
}

func (a *Assembler) userLines(ctx context.Context, users []aggregate.UserActivity) []UserActivityLine {
	lines := make([]UserActivityLine, 0, len(users))
	for _, u := range users {
		lines = append(lines, UserActivityLine{UserActivity: u, DisplayName: a.displayName(ctx, u.UserID)})
	}
	return lines
}

// BuildAuditReport assembles the executive dashboard document for the
// period and scope, optionally embedding compliance and security
// sub-reports built over the same event set.
func (a *Assembler) BuildAuditReport(ctx context.Context, period aggregate.Period, scope Scope, opts BuildOptions) (AuditReport, error) {
	events, err := a.fetch(ctx, period, scope)
	if err != nil {
		return AuditReport{}, err
	}

	summary := aggregate.BuildSummary(events, period)
	users := aggregate.BuildUserActivity(events)
	if len(users) > topUserLimit {
		users = users[:topUserLimit]
	}

	categories := make([]CategoryAnalytics, 0, len(summary.ByCategory))
	for _, cat := range sortedKeys(summary.ByCategory) {
		categories = append(categories, CategoryAnalytics{
			Category: cat,
			Events:   summary.ByCategory[cat],
			Share:    aggregate.Percent(summary.ByCategory[cat], summary.TotalEvents),
		})
	}

	r := AuditReport{
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		HostelID:    scope.HostelID,
		HostelName:  a.hostelName(ctx, scope.HostelID),
		Executive: ExecutiveSummary{
			TotalEvents:       summary.TotalEvents,
			SuccessRate:       summary.SuccessRate,
			RequiresAttention: summary.SecurityIncidents > 0 || summary.PendingReview > 0,
		},
		Summary:           summary,
		CategoryAnalytics: categories,
		TopUsers:          a.userLines(ctx, users),
		EntityChanges:     aggregate.BuildEntityChangeSummaries(events),
		Trend:             aggregate.BuildTrend(events, period),
		Findings:          opts.Findings,
		Recommendations:   opts.Recommendations,
		GeneratedAt:       a.now(),
	}

	var complianceRate, riskScore *float64
	if opts.IncludeCompliance {
		c := a.assembleCompliance(ctx, events, period, scope)
		r.Compliance = &c
		complianceRate = &c.ComplianceRate
	}
	if opts.IncludeSecurity {
		s := a.assembleSecurity(ctx, events, period, scope)
		r.Security = &s
		riskScore = &s.OverallRiskScore
	}
	r.OverallHealthScore = OverallHealthScore(summary.SecurityHealthScore, complianceRate, riskScore)
	return r, nil
}

// BuildComplianceReport builds the standalone compliance variant.
func (a *Assembler) BuildComplianceReport(ctx context.Context, period aggregate.Period, scope Scope) (ComplianceReport, error) {
	events, err := a.fetch(ctx, period, scope)
	if err != nil {
		return ComplianceReport{}, err
	}
	return a.assembleCompliance(ctx, events, period, scope), nil
}

// BuildSecurityReport builds the standalone security variant.
func (a *Assembler) BuildSecurityReport(ctx context.Context, period aggregate.Period, scope Scope) (SecurityAuditReport, error) {
	events, err := a.fetch(ctx, period, scope)
	if err != nil {
		return SecurityAuditReport{}, err
	}
	return a.assembleSecurity(ctx, events, period, scope), nil
}

func (a *Assembler) assembleCompliance(ctx context.Context, events []audit.Event, period aggregate.Period, scope Scope) ComplianceReport {
	summary := aggregate.BuildSummary(events, period)

	byTag := make(map[string]int)
	for _, e := range events {
		if e.ComplianceTag != "" {
			byTag[e.ComplianceTag]++
		}
	}

	compliant := summary.TotalEvents - summary.Failed
	rate := 100.00
	if summary.TotalEvents > 0 {
		rate = aggregate.Percent(compliant, summary.TotalEvents)
	}

	return ComplianceReport{
		PeriodStart:       period.Start,
		PeriodEnd:         period.End,
		HostelID:          scope.HostelID,
		HostelName:        a.hostelName(ctx, scope.HostelID),
		TotalEvents:       summary.TotalEvents,
		CompliantEvents:   compliant,
		ComplianceRate:    rate,
		ComplianceGrade:   ComplianceGrade(rate),
		SecurityIncidents: summary.SecurityIncidents,
		RiskAssessment:    RiskAssessment(rate, summary.SecurityIncidents),
		SensitiveEvents:   summary.SensitiveEvents,
		PendingReview:     summary.PendingReview,
		EventsByTag:       byTag,
		GeneratedAt:       a.now(),
	}
}

func (a *Assembler) assembleSecurity(ctx context.Context, events []audit.Event, period aggregate.Period, scope Scope) SecurityAuditReport {
	summary := aggregate.BuildSummary(events, period)

	highRisk := make([]aggregate.UserActivity, 0)
	for _, u := range aggregate.BuildUserActivity(events) {
		if u.RiskLevel == "high" || u.RiskLevel == "critical" {
			highRisk = append(highRisk, u)
		}
	}

	risk := aggregate.Round2(100 - summary.SecurityHealthScore)
	return SecurityAuditReport{
		PeriodStart:         period.Start,
		PeriodEnd:           period.End,
		HostelID:            scope.HostelID,
		HostelName:          a.hostelName(ctx, scope.HostelID),
		TotalEvents:         summary.TotalEvents,
		FailedActions:       summary.Failed,
		AccessDenied:        summary.AccessDenied,
		CriticalEvents:      summary.CriticalEvents,
		SensitiveEvents:     summary.SensitiveEvents,
		SecurityHealthScore: summary.SecurityHealthScore,
		OverallRiskScore:    risk,
		ThreatLevel:         ThreatLevel(risk),
		HighRiskUsers:       a.userLines(ctx, highRisk),
		GeneratedAt:         a.now(),
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
