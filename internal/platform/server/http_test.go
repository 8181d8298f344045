package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hostelworks/backoffice-audit/internal/platform/audit"
	"github.com/hostelworks/backoffice-audit/internal/platform/clock"
	"github.com/hostelworks/backoffice-audit/internal/platform/export"
	"github.com/hostelworks/backoffice-audit/internal/platform/report"
)

func newTestServer(t *testing.T, now time.Time) (*Server, *audit.MemoryStore) {
	t.Helper()
	store := audit.NewMemoryStore(clock.Fixed{T: now})
	clk := clock.Fixed{T: now}
	return &Server{
		Store:     store,
		Clock:     clk,
		Assembler: report.NewAssembler(store, clk),
		Exporter:  export.Builtin{},
		Logger:    zerolog.Nop(),
	}, store
}

func appendTestEvent(t *testing.T, store *audit.MemoryStore, e audit.Event) audit.Event {
	t.Helper()
	stored, err := store.Append(context.Background(), e)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return stored
}

func TestHandleAppend(t *testing.T) {
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	srv, _ := newTestServer(t, now)
	h := srv.Routes()

	body := `{
		"user_id": "alice",
		"user_role": "manager",
		"entity_type": "booking",
		"entity_id": "b1",
		"action_type": "booking.update",
		"action_category": "booking",
		"status": "success",
		"old_values": {"status": "pending"},
		"new_values": {"status": "confirmed"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/v1/audit/events", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["event_id"] == "" {
		t.Fatalf("missing event id: %v", got)
	}
	if got["hash_prev"] != audit.GenesisHash {
		t.Fatalf("hash_prev = %v", got["hash_prev"])
	}
	if got["severity"] != "info" {
		t.Fatalf("severity = %v", got["severity"])
	}
	fields, _ := got["changed_fields"].([]any)
	if len(fields) != 1 || fields[0] != "status" {
		t.Fatalf("changed_fields = %v", got["changed_fields"])
	}
}

func TestHandleAppendRejectsInvalid(t *testing.T) {
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	srv, _ := newTestServer(t, now)
	h := srv.Routes()

	req := httptest.NewRequest(http.MethodPost, "/v1/audit/events",
		strings.NewReader(`{"action_type": "booking.create"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing fields: code = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/audit/events",
		strings.NewReader(`{"insert_seq": 99, "action_type": "x", "action_category": "auth", "status": "success"}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: code = %d", rec.Code)
	}
}

func TestHandleListAndGet(t *testing.T) {
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	srv, store := newTestServer(t, now)
	h := srv.Routes()

	alice := "alice"
	first := appendTestEvent(t, store, audit.Event{
		UserID: &alice, ActionType: "auth.login", ActionCategory: audit.CategoryAuth,
		Status: audit.StatusSuccess, HostelID: "h1", CreatedAt: now,
	})
	appendTestEvent(t, store, audit.Event{
		UserID: &alice, ActionType: "booking.create", ActionCategory: audit.CategoryBooking,
		Status: audit.StatusFailure, HostelID: "h2", CreatedAt: now.Add(time.Minute),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/events?hostel_id=h1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: code = %d, body %s", rec.Code, rec.Body.String())
	}
	var list listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 1 || len(list.Events) != 1 {
		t.Fatalf("list = %+v", list)
	}
	if list.Events[0].EventID != first.EventID {
		t.Fatalf("wrong event: %s", list.Events[0].EventID)
	}
	if list.Page != 1 || list.PageSize != audit.DefaultPageSize {
		t.Fatalf("pagination defaults: %+v", list)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/events/"+first.EventID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get: code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/events/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing: code = %d", rec.Code)
	}
}

func TestHandleListRejectsConflictingFilter(t *testing.T) {
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	srv, _ := newTestServer(t, now)
	h := srv.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/audit/events?user_id=alice&user_ids=bob,carol", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("conflicting filter: code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/audit/events?last_hours=24&last_days=7", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("two time mechanisms: code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/audit/events?page=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad integer: code = %d", rec.Code)
	}
}

func TestHandleHistory(t *testing.T) {
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	srv, store := newTestServer(t, now)
	h := srv.Routes()

	alice := "alice"
	b1 := "b1"
	appendTestEvent(t, store, audit.Event{
		UserID: &alice, EntityType: "booking", EntityID: &b1,
		ActionType: "booking.create", ActionCategory: audit.CategoryBooking,
		Status: audit.StatusSuccess, CreatedAt: now.AddDate(0, 0, -2),
		NewValues: audit.Values{"status": "pending"},
	})
	appendTestEvent(t, store, audit.Event{
		UserID: &alice, EntityType: "booking", EntityID: &b1,
		ActionType: "booking.update", ActionCategory: audit.CategoryBooking,
		Status:    audit.StatusSuccess, CreatedAt: now.AddDate(0, 0, -1),
		OldValues: audit.Values{"status": "pending"},
		NewValues: audit.Values{"status": "confirmed"},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/entities/booking/b1/history", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("history: code = %d, body %s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["total_changes"] != float64(2) {
		t.Fatalf("total_changes = %v", got["total_changes"])
	}
	if got["entity_type"] != "booking" || got["entity_id"] != "b1" {
		t.Fatalf("identity = %v/%v", got["entity_type"], got["entity_id"])
	}
}

func TestHandleReports(t *testing.T) {
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	srv, store := newTestServer(t, now)
	h := srv.Routes()

	appendTestEvent(t, store, audit.Event{
		ActionType: "booking.create", ActionCategory: audit.CategoryBooking,
		Status: audit.StatusSuccess, CreatedAt: now.Add(-time.Hour),
	})
	appendTestEvent(t, store, audit.Event{
		ActionType: "auth.login", ActionCategory: audit.CategoryAuth,
		Status: audit.StatusFailure, CreatedAt: now.Add(-time.Minute),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/reports/summary", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("summary: code = %d, body %s", rec.Code, rec.Body.String())
	}
	var summary map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	exec, _ := summary["executive_summary"].(map[string]any)
	if exec["total_events"] != float64(2) {
		t.Fatalf("executive = %v", exec)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/reports/compliance", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("compliance: code = %d", rec.Code)
	}
	var compliance map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &compliance); err != nil {
		t.Fatalf("decode compliance: %v", err)
	}
	if compliance["compliance_rate"] != float64(50) {
		t.Fatalf("compliance rate = %v", compliance["compliance_rate"])
	}
	if compliance["compliance_grade"] != "F" {
		t.Fatalf("grade = %v", compliance["compliance_grade"])
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/reports/security", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("security: code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/reports/summary?from=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad period: code = %d", rec.Code)
	}
}

func TestHandleExportCSV(t *testing.T) {
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	srv, store := newTestServer(t, now)
	h := srv.Routes()

	appendTestEvent(t, store, audit.Event{
		EventID: "e1", ActionType: "booking.create", ActionCategory: audit.CategoryBooking,
		Status: audit.StatusSuccess, CreatedAt: now,
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/export?format=csv", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("export: code = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "audit_export.csv") {
		t.Fatalf("content disposition = %q", cd)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("booking.create")) {
		t.Fatalf("export body missing event: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/export?format=docx", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad format: code = %d", rec.Code)
	}
}

func TestGuardBlocksUntrustedReportAccess(t *testing.T) {
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	srv, store := newTestServer(t, now)

	guard, err := NewRemoteAccessGuard(clock.Fixed{T: now}, store, []string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	srv.Guard = guard
	h := srv.Routes()

	req := httptest.NewRequest(http.MethodGet, "/v1/audit/reports/summary", nil)
	req.RemoteAddr = "203.0.113.7:4242"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("untrusted: code = %d", rec.Code)
	}

	// The denial itself lands in the audit trail.
	events := store.Events()
	if len(events) != 1 || events[0].ActionType != "security.remote_access.denied" {
		t.Fatalf("denial not recorded: %+v", events)
	}

	// Event endpoints stay reachable from anywhere.
	req = httptest.NewRequest(http.MethodGet, "/v1/audit/events", nil)
	req.RemoteAddr = "203.0.113.7:4242"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("events from untrusted ip: code = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/audit/reports/summary", nil)
	req.RemoteAddr = "10.1.2.3:4242"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("trusted: code = %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))
	h := srv.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: code = %d", rec.Code)
	}
}
