package report

import (
	"context"
	"testing"
	"time"

	"github.com/hostelworks/backoffice-audit/internal/platform/aggregate"
	"github.com/hostelworks/backoffice-audit/internal/platform/audit"
	"github.com/hostelworks/backoffice-audit/internal/platform/clock"
)

func strp(s string) *string { return &s }

type staticDirectory map[string]string

func (d staticDirectory) DisplayName(_ context.Context, userID string) (string, error) {
	return d[userID], nil
}

func (d staticDirectory) HostelName(_ context.Context, hostelID string) (string, error) {
	return d[hostelID], nil
}

func seedReportStore(t *testing.T, base time.Time) *audit.MemoryStore {
	t.Helper()
	s := audit.NewMemoryStore(clock.Fixed{T: base})
	ctx := context.Background()

	events := []audit.Event{
		{
			UserID: strp("alice"), UserRole: "manager", CreatedAt: base, HostelID: "h1",
			ActionType: "booking.create", ActionCategory: audit.CategoryBooking,
			EntityType: "booking", EntityID: strp("b1"),
			Status: audit.StatusSuccess, Severity: audit.SeverityInfo,
			ComplianceTag: "gdpr",
		},
		{
			UserID: strp("alice"), UserRole: "manager", CreatedAt: base.Add(time.Hour), HostelID: "h1",
			ActionType: "booking.update", ActionCategory: audit.CategoryBooking,
			EntityType: "booking", EntityID: strp("b1"),
			Status:    audit.StatusSuccess, Severity: audit.SeverityLow,
			OldValues: audit.Values{"status": "pending"},
			NewValues: audit.Values{"status": "confirmed"},
		},
		{
			UserID: strp("bob"), UserRole: "receptionist", CreatedAt: base.Add(2 * time.Hour), HostelID: "h1",
			ActionType: "auth.login", ActionCategory: audit.CategoryAuth,
			Status: audit.StatusFailure, Severity: audit.SeverityMedium,
		},
		{
			UserID: strp("bob"), UserRole: "receptionist", CreatedAt: base.Add(3 * time.Hour), HostelID: "h2",
			ActionType: "financial.refund", ActionCategory: audit.CategoryFinancial,
			EntityType: "payment", EntityID: strp("p1"),
			Status: audit.StatusSuccess, Severity: audit.SeverityCritical,
			IsSensitive: true, RequiresReview: true, ComplianceTag: "pci",
		},
	}
	for i, e := range events {
		if _, err := s.Append(ctx, e); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	return s
}

func TestBuildAuditReport(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store := seedReportStore(t, base)

	a := NewAssembler(store, clock.Fixed{T: now})
	a.Identity = staticDirectory{"alice": "Alice Moreau"}
	a.Hostels = staticDirectory{"h1": "Downtown Hostel"}

	r, err := a.BuildAuditReport(context.Background(), aggregate.Period{}, Scope{}, BuildOptions{
		IncludeCompliance: true,
		IncludeSecurity:   true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if r.Executive.TotalEvents != 4 {
		t.Fatalf("executive total = %d", r.Executive.TotalEvents)
	}
	if !r.Executive.RequiresAttention {
		t.Fatalf("pending review should require attention")
	}
	if !r.GeneratedAt.Equal(now) {
		t.Fatalf("generated at = %v", r.GeneratedAt)
	}

	if len(r.CategoryAnalytics) != 3 {
		t.Fatalf("category analytics = %+v", r.CategoryAnalytics)
	}
	// Sorted alphabetically: auth, booking, financial.
	if r.CategoryAnalytics[0].Category != audit.CategoryAuth || r.CategoryAnalytics[0].Share != 25.00 {
		t.Fatalf("first category = %+v", r.CategoryAnalytics[0])
	}

	if len(r.TopUsers) != 2 {
		t.Fatalf("top users = %d", len(r.TopUsers))
	}
	if r.TopUsers[0].DisplayName != "Alice Moreau" {
		t.Fatalf("display name = %q", r.TopUsers[0].DisplayName)
	}
	// No directory entry falls back to the raw id.
	if r.TopUsers[1].DisplayName != "bob" {
		t.Fatalf("fallback display name = %q", r.TopUsers[1].DisplayName)
	}

	if r.Compliance == nil || r.Security == nil {
		t.Fatalf("expected embedded sub-reports")
	}
	if r.OverallHealthScore == 0 {
		t.Fatalf("overall health score missing")
	}
}

func TestBuildAuditReportScoped(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := seedReportStore(t, base)

	a := NewAssembler(store, clock.Fixed{T: base})
	a.Hostels = staticDirectory{"h1": "Downtown Hostel"}

	r, err := a.BuildAuditReport(context.Background(), aggregate.Period{}, Scope{HostelID: "h1"}, BuildOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if r.Executive.TotalEvents != 3 {
		t.Fatalf("scoped total = %d", r.Executive.TotalEvents)
	}
	if r.HostelName != "Downtown Hostel" {
		t.Fatalf("hostel name = %q", r.HostelName)
	}
}

func TestBuildComplianceReport(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := seedReportStore(t, base)
	a := NewAssembler(store, clock.Fixed{T: base})

	c, err := a.BuildComplianceReport(context.Background(), aggregate.Period{}, Scope{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if c.TotalEvents != 4 || c.CompliantEvents != 3 {
		t.Fatalf("compliance counts: %+v", c)
	}
	if c.ComplianceRate != 75.00 {
		t.Fatalf("compliance rate = %v", c.ComplianceRate)
	}
	if c.ComplianceGrade != "D" {
		t.Fatalf("grade = %s", c.ComplianceGrade)
	}
	if c.RiskAssessment != "high" {
		t.Fatalf("risk assessment = %s", c.RiskAssessment)
	}
	if c.EventsByTag["gdpr"] != 1 || c.EventsByTag["pci"] != 1 {
		t.Fatalf("events by tag = %v", c.EventsByTag)
	}
}

func TestBuildComplianceReportEmpty(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := NewAssembler(audit.NewMemoryStore(clock.Fixed{T: base}), clock.Fixed{T: base})

	c, err := a.BuildComplianceReport(context.Background(), aggregate.Period{}, Scope{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if c.ComplianceRate != 100.00 || c.ComplianceGrade != "A+" {
		t.Fatalf("empty compliance: rate=%v grade=%s", c.ComplianceRate, c.ComplianceGrade)
	}
	if c.RiskAssessment != "low" {
		t.Fatalf("empty risk = %s", c.RiskAssessment)
	}
}

func TestBuildSecurityReport(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := seedReportStore(t, base)
	a := NewAssembler(store, clock.Fixed{T: base})

	s, err := a.BuildSecurityReport(context.Background(), aggregate.Period{}, Scope{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if s.TotalEvents != 4 || s.FailedActions != 1 || s.CriticalEvents != 1 || s.AccessDenied != 1 {
		t.Fatalf("security counts: %+v", s)
	}
	// Health = 100 - (1/4*30 + 1/4*50 + 1/4*20) = 75.
	if s.SecurityHealthScore != 75.00 {
		t.Fatalf("health = %v", s.SecurityHealthScore)
	}
	if s.OverallRiskScore != 25.00 {
		t.Fatalf("risk = %v", s.OverallRiskScore)
	}
	if s.ThreatLevel != "low" {
		t.Fatalf("threat = %s", s.ThreatLevel)
	}
	// Nobody crosses the high-risk point thresholds in this set.
	if len(s.HighRiskUsers) != 0 {
		t.Fatalf("high risk users = %+v", s.HighRiskUsers)
	}
}
