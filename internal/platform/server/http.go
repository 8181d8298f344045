package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/hostelworks/backoffice-audit/internal/platform/aggregate"
	"github.com/hostelworks/backoffice-audit/internal/platform/audit"
	"github.com/hostelworks/backoffice-audit/internal/platform/auth"
	"github.com/hostelworks/backoffice-audit/internal/platform/clock"
	"github.com/hostelworks/backoffice-audit/internal/platform/export"
	"github.com/hostelworks/backoffice-audit/internal/platform/history"
	"github.com/hostelworks/backoffice-audit/internal/platform/report"
)

// Export responses are capped so a single request cannot stream the whole
// table through the renderer.
const maxExportRows = 10000

// Server owns the REST surface over the audit trail.
type Server struct {
	Store     audit.Store
	Clock     clock.Clock
	Assembler *report.Assembler
	Exporter  export.Backend
	Metrics   *Metrics
	Cache     *ReportCache
	Logger    zerolog.Logger

	Auth       func(http.Handler) http.Handler
	Guard      *RemoteAccessGuard
	RatePerMin int
}

func (s *Server) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

// Routes assembles the chi router with the full middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogger)
	if s.RatePerMin > 0 {
		r.Use(httprate.LimitByIP(s.RatePerMin, time.Minute))
	}
	if s.Guard != nil {
		r.Use(s.Guard.Wrap)
	}

	r.Get("/healthz", s.handleHealthz)

	r.Route("/v1/audit", func(r chi.Router) {
		if s.Auth != nil {
			r.Use(s.Auth)
		}
		r.Post("/events", s.handleAppend)
		r.Get("/events", s.handleList)
		r.Get("/events/{id}", s.handleGet)
		r.Get("/entities/{type}/{id}/history", s.handleHistory)
		r.Get("/reports/summary", s.handleSummaryReport)
		r.Get("/reports/compliance", s.handleComplianceReport)
		r.Get("/reports/security", s.handleSecurityReport)
		r.Get("/export", s.handleExport)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.Logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// eventJSON is the wire shape of an audit event. The domain Event stays
// free of serialization tags so the store and the API can evolve
// independently.
type eventJSON struct {
	EventID   string    `json:"event_id"`
	CreatedAt time.Time `json:"created_at"`
	InsertSeq int64     `json:"insert_seq"`

	UserID         *string `json:"user_id"`
	UserRole       string  `json:"user_role,omitempty"`
	UserEmail      string  `json:"user_email,omitempty"`
	ImpersonatorID *string `json:"impersonator_id,omitempty"`

	EntityType string  `json:"entity_type,omitempty"`
	EntityID   *string `json:"entity_id"`
	EntityName string  `json:"entity_name,omitempty"`

	ActionType     string `json:"action_type"`
	ActionCategory string `json:"action_category"`
	Status         string `json:"status"`
	Severity       string `json:"severity"`
	Description    string `json:"description,omitempty"`

	OldValues audit.Values `json:"old_values,omitempty"`
	NewValues audit.Values `json:"new_values,omitempty"`

	IPAddress   string `json:"ip_address,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	DeviceType  string `json:"device_type,omitempty"`
	Platform    string `json:"platform,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	HostelID    string `json:"hostel_id,omitempty"`

	IsSensitive    bool   `json:"is_sensitive"`
	RequiresReview bool   `json:"requires_review"`
	ComplianceTag  string `json:"compliance_tag,omitempty"`

	HashPrev string `json:"hash_prev"`
	HashCurr string `json:"hash_curr"`

	ChangedFields []string `json:"changed_fields,omitempty"`
}

func toEventJSON(e audit.Event) eventJSON {
	return eventJSON{
		EventID:        e.EventID,
		CreatedAt:      e.CreatedAt,
		InsertSeq:      e.InsertSeq,
		UserID:         e.UserID,
		UserRole:       e.UserRole,
		UserEmail:      e.UserEmail,
		ImpersonatorID: e.ImpersonatorID,
		EntityType:     e.EntityType,
		EntityID:       e.EntityID,
		EntityName:     e.EntityName,
		ActionType:     e.ActionType,
		ActionCategory: e.ActionCategory,
		Status:         string(e.Status),
		Severity:       string(e.Severity),
		Description:    e.Description,
		OldValues:      e.OldValues,
		NewValues:      e.NewValues,
		IPAddress:      e.IPAddress,
		CountryCode:    e.CountryCode,
		UserAgent:      e.UserAgent,
		DeviceType:     e.DeviceType,
		Platform:       e.Platform,
		RequestID:      e.RequestID,
		SessionID:      e.SessionID,
		HostelID:       e.HostelID,
		IsSensitive:    e.IsSensitive,
		RequiresReview: e.RequiresReview,
		ComplianceTag:  e.ComplianceTag,
		HashPrev:       e.HashPrev,
		HashCurr:       e.HashCurr,
		ChangedFields:  audit.ChangedFields(e),
	}
}

// appendRequest is the client-supplied subset of an event. Store-assigned
// fields (sequence, chain hashes) are not accepted from clients.
type appendRequest struct {
	EventID   string     `json:"event_id"`
	CreatedAt *time.Time `json:"created_at"`

	UserID         *string `json:"user_id"`
	UserRole       string  `json:"user_role"`
	UserEmail      string  `json:"user_email"`
	ImpersonatorID *string `json:"impersonator_id"`

	EntityType string  `json:"entity_type"`
	EntityID   *string `json:"entity_id"`
	EntityName string  `json:"entity_name"`

	ActionType     string `json:"action_type"`
	ActionCategory string `json:"action_category"`
	Status         string `json:"status"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`

	OldValues audit.Values `json:"old_values"`
	NewValues audit.Values `json:"new_values"`

	IPAddress   string `json:"ip_address"`
	CountryCode string `json:"country_code"`
	UserAgent   string `json:"user_agent"`
	DeviceType  string `json:"device_type"`
	Platform    string `json:"platform"`
	RequestID   string `json:"request_id"`
	SessionID   string `json:"session_id"`
	HostelID    string `json:"hostel_id"`

	IsSensitive    bool   `json:"is_sensitive"`
	RequiresReview bool   `json:"requires_review"`
	ComplianceTag  string `json:"compliance_tag"`
}

func (req appendRequest) toEvent() audit.Event {
	e := audit.Event{
		EventID:        req.EventID,
		UserID:         req.UserID,
		UserRole:       req.UserRole,
		UserEmail:      req.UserEmail,
		ImpersonatorID: req.ImpersonatorID,
		EntityType:     req.EntityType,
		EntityID:       req.EntityID,
		EntityName:     req.EntityName,
		ActionType:     req.ActionType,
		ActionCategory: req.ActionCategory,
		Status:         audit.Status(req.Status),
		Severity:       audit.Severity(req.Severity),
		Description:    req.Description,
		OldValues:      req.OldValues,
		NewValues:      req.NewValues,
		IPAddress:      req.IPAddress,
		CountryCode:    req.CountryCode,
		UserAgent:      req.UserAgent,
		DeviceType:     req.DeviceType,
		Platform:       req.Platform,
		RequestID:      req.RequestID,
		SessionID:      req.SessionID,
		HostelID:       req.HostelID,
		IsSensitive:    req.IsSensitive,
		RequiresReview: req.RequiresReview,
		ComplianceTag:  req.ComplianceTag,
	}
	if req.CreatedAt != nil {
		e.CreatedAt = *req.CreatedAt
	}
	return e
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	if actor, ok := auth.ActorFromContext(r.Context()); ok && !actor.CanAppend() {
		writeError(w, http.StatusForbidden, "role may not append events")
		return
	}

	var req appendRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.Metrics.ObserveAppendFailure("decode")
		writeError(w, http.StatusBadRequest, "malformed event payload: "+err.Error())
		return
	}

	stored, err := s.Store.Append(r.Context(), req.toEvent())
	if err != nil {
		if audit.IsValidation(err) {
			s.Metrics.ObserveAppendFailure("validation")
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.Metrics.ObserveAppendFailure("storage")
		s.Logger.Error().Err(err).Msg("append failed")
		writeError(w, http.StatusInternalServerError, "append failed")
		return
	}
	s.Metrics.ObserveAppend(stored.ActionCategory, string(stored.Status))
	writeJSON(w, http.StatusCreated, toEventJSON(stored))
}

type listResponse struct {
	Events   []eventJSON `json:"events"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if !s.requireRead(w, r) {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pred, err := f.Predicate(s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, pageSize := f.Pagination()

	start := time.Now()
	events, total, err := s.Store.Query(r.Context(), pred, f.SortSpec(), pageSize, (page-1)*pageSize)
	s.Metrics.ObserveQuery(time.Since(start).Seconds())
	if err != nil {
		s.Logger.Error().Err(err).Msg("query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	out := listResponse{Events: make([]eventJSON, 0, len(events)), Total: total, Page: page, PageSize: pageSize}
	for _, e := range events {
		out.Events = append(out.Events, toEventJSON(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if !s.requireRead(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	e, err := s.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		s.Logger.Error().Err(err).Str("event_id", id).Msg("get failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, toEventJSON(e))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireRead(w, r) {
		return
	}
	entityType := chi.URLParam(r, "type")
	entityID := chi.URLParam(r, "id")

	opts := history.Options{Now: s.now()}
	var err error
	if opts.From, err = qTime(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if opts.To, err = qTime(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h, err := history.Reconstruct(r.Context(), s.Store, entityType, entityID, opts)
	if err != nil {
		s.Logger.Error().Err(err).Str("entity_type", entityType).Str("entity_id", entityID).Msg("history failed")
		writeError(w, http.StatusInternalServerError, "history reconstruction failed")
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleSummaryReport(w http.ResponseWriter, r *http.Request) {
	s.serveReport(w, r, "summary", func(period aggregate.Period, scope report.Scope) (any, error) {
		opts := report.BuildOptions{
			IncludeCompliance: qFlag(r, "include_compliance"),
			IncludeSecurity:   qFlag(r, "include_security"),
		}
		return s.Assembler.BuildAuditReport(r.Context(), period, scope, opts)
	})
}

func (s *Server) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	s.serveReport(w, r, "compliance", func(period aggregate.Period, scope report.Scope) (any, error) {
		return s.Assembler.BuildComplianceReport(r.Context(), period, scope)
	})
}

func (s *Server) handleSecurityReport(w http.ResponseWriter, r *http.Request) {
	s.serveReport(w, r, "security", func(period aggregate.Period, scope report.Scope) (any, error) {
		return s.Assembler.BuildSecurityReport(r.Context(), period, scope)
	})
}

func (s *Server) serveReport(w http.ResponseWriter, r *http.Request, kind string, build func(aggregate.Period, report.Scope) (any, error)) {
	if !s.requireRead(w, r) {
		return
	}
	period, scope, err := parseReportScope(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := ""
	if s.Cache != nil {
		key = s.Cache.Key(kind,
			period.Start.Format(time.RFC3339), period.End.Format(time.RFC3339),
			scope.HostelID, r.URL.RawQuery)
		if body, ok := s.Cache.Get(r.Context(), key); ok {
			s.Metrics.ObserveCache("hit")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(body)
			return
		}
		s.Metrics.ObserveCache("miss")
	}

	doc, err := build(period, scope)
	if err != nil {
		s.Logger.Error().Err(err).Str("kind", kind).Msg("report build failed")
		writeError(w, http.StatusInternalServerError, "report build failed")
		return
	}
	s.Metrics.ObserveReport(kind)

	body, err := json.Marshal(doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "report encoding failed")
		return
	}
	if s.Cache != nil {
		s.Cache.Set(r.Context(), key, body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

var exportColumns = []string{
	"event_id", "created_at", "user_id", "user_role", "entity_type",
	"entity_id", "entity_name", "action_type", "action_category", "status",
	"severity", "description", "ip_address", "hostel_id",
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !s.requireRead(w, r) {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pred, err := f.Predicate(s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, total, err := s.Store.Query(r.Context(), pred, f.SortSpec(), maxExportRows, 0)
	if err != nil {
		s.Logger.Error().Err(err).Msg("export query failed")
		writeError(w, http.StatusInternalServerError, "export query failed")
		return
	}

	doc := export.Document{
		Title: "Audit Trail Export",
		Meta: map[string]string{
			"generated_at": s.now().Format(time.RFC3339),
			"total":        strconv.Itoa(total),
		},
		Columns: exportColumns,
	}
	for _, e := range events {
		doc.Rows = append(doc.Rows, []string{
			e.EventID,
			e.CreatedAt.Format(time.RFC3339),
			export.Cell(deref(e.UserID)),
			e.UserRole,
			e.EntityType,
			export.Cell(deref(e.EntityID)),
			e.EntityName,
			e.ActionType,
			e.ActionCategory,
			string(e.Status),
			string(e.Severity),
			e.Description,
			e.IPAddress,
			e.HostelID,
		})
	}

	body, contentType, err := s.Exporter.Render(r.Context(), format, doc)
	if err != nil {
		if errors.Is(err, export.ErrUnsupportedFormat) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "export rendering failed")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="audit_export.`+string(format)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) requireRead(w http.ResponseWriter, r *http.Request) bool {
	if actor, ok := auth.ActorFromContext(r.Context()); ok && !actor.CanRead() {
		writeError(w, http.StatusForbidden, "role may not read the audit trail")
		return false
	}
	return true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseFilter maps query parameters onto the declarative filter. Parsing
// stops at the first malformed value; semantic validation happens in
// Filter.Validate.
func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		UserID:         qStrPtr(q, "user_id"),
		UserIDs:        qList(q, "user_ids"),
		UserRole:       qStrPtr(q, "user_role"),
		UserRoles:      qList(q, "user_roles"),
		UserEmail:      q.Get("user_email"),
		ExcludeUserIDs: qList(q, "exclude_user_ids"),

		HostelID:  qStrPtr(q, "hostel_id"),
		HostelIDs: qList(q, "hostel_ids"),

		EntityType:  qStrPtr(q, "entity_type"),
		EntityTypes: qList(q, "entity_types"),
		EntityID:    qStrPtr(q, "entity_id"),
		EntityIDs:   qList(q, "entity_ids"),

		ActionType:       qStrPtr(q, "action_type"),
		ActionTypes:      qList(q, "action_types"),
		ActionCategory:   qStrPtr(q, "action_category"),
		ActionCategories: qList(q, "action_categories"),
		ActionPattern:    q.Get("action_pattern"),

		OnlyFailures: qFlag(r, "only_failures"),

		ComplianceTag: q.Get("compliance_tag"),

		IPAddress:   qStrPtr(q, "ip_address"),
		IPAddresses: qList(q, "ip_addresses"),
		CountryCode: q.Get("country_code"),
		DeviceType:  q.Get("device_type"),
		Platform:    q.Get("platform"),

		SearchQuery:       q.Get("search"),
		SearchDescription: qFlag(r, "search_description"),
		SearchEntityName:  qFlag(r, "search_entity_name"),
		SearchUserEmail:   qFlag(r, "search_user_email"),

		SortBy:    audit.SortField(q.Get("sort_by")),
		SortOrder: audit.SortOrder(q.Get("sort_order")),
	}

	if v := q.Get("status"); v != "" {
		st := audit.Status(v)
		f.Status = &st
	}
	for _, v := range qList(q, "statuses") {
		f.Statuses = append(f.Statuses, audit.Status(v))
	}
	if v := q.Get("severity"); v != "" {
		sv := audit.Severity(v)
		f.Severity = &sv
	}
	if v := q.Get("min_severity"); v != "" {
		sv := audit.Severity(v)
		f.MinSeverity = &sv
	}

	var err error
	if f.IsSensitive, err = qBoolPtr(q, "is_sensitive"); err != nil {
		return f, err
	}
	if f.RequiresReview, err = qBoolPtr(q, "requires_review"); err != nil {
		return f, err
	}

	var start, end time.Time
	if start, err = qTime(r, "start_date"); err != nil {
		return f, err
	}
	if end, err = qTime(r, "end_date"); err != nil {
		return f, err
	}
	if !start.IsZero() || !end.IsZero() {
		f.DatetimeRange = &audit.TimeRange{Start: start, End: end}
	}
	if f.CreatedAfter, err = qTimePtr(r, "created_after"); err != nil {
		return f, err
	}
	if f.CreatedBefore, err = qTimePtr(r, "created_before"); err != nil {
		return f, err
	}
	if f.LastHours, err = qInt(q, "last_hours"); err != nil {
		return f, err
	}
	if f.LastDays, err = qInt(q, "last_days"); err != nil {
		return f, err
	}
	if f.Page, err = qInt(q, "page"); err != nil {
		return f, err
	}
	if f.PageSize, err = qInt(q, "page_size"); err != nil {
		return f, err
	}
	return f, nil
}

func parseReportScope(r *http.Request) (aggregate.Period, report.Scope, error) {
	var period aggregate.Period
	var err error
	if period.Start, err = qTime(r, "from"); err != nil {
		return period, report.Scope{}, err
	}
	if period.End, err = qTime(r, "to"); err != nil {
		return period, report.Scope{}, err
	}
	if !period.Start.IsZero() && !period.End.IsZero() && period.End.Before(period.Start) {
		return period, report.Scope{}, errors.New("report period end precedes start")
	}
	return period, report.Scope{HostelID: r.URL.Query().Get("hostel_id")}, nil
}

func qStrPtr(q map[string][]string, key string) *string {
	vs := q[key]
	if len(vs) == 0 || vs[0] == "" {
		return nil
	}
	return &vs[0]
}

func qList(q map[string][]string, key string) []string {
	var out []string
	for _, raw := range q[key] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func qFlag(r *http.Request, key string) bool {
	switch strings.ToLower(r.URL.Query().Get(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func qBoolPtr(q map[string][]string, key string) (*bool, error) {
	vs := q[key]
	if len(vs) == 0 || vs[0] == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(vs[0])
	if err != nil {
		return nil, errors.New("query parameter " + key + " must be a boolean")
	}
	return &b, nil
}

func qInt(q map[string][]string, key string) (int, error) {
	vs := q[key]
	if len(vs) == 0 || vs[0] == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(vs[0])
	if err != nil {
		return 0, errors.New("query parameter " + key + " must be an integer")
	}
	return n, nil
}

func qTime(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errors.New("query parameter " + key + " must be RFC 3339")
	}
	return t.UTC(), nil
}

func qTimePtr(r *http.Request, key string) (*time.Time, error) {
	t, err := qTime(r, key)
	if err != nil {
		return nil, err
	}
	if t.IsZero() {
		return nil, nil
	}
	return &t, nil
}
