package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hostelworks/backoffice-audit/internal/platform/audit"
	"github.com/hostelworks/backoffice-audit/internal/platform/clock"
)

// Schema for the audit_events table. Applied externally; kept here as the
// single reference for column names and types.
const AuditEventsDDL = `
CREATE TABLE IF NOT EXISTS audit_events (
  event_id        text PRIMARY KEY,
  created_at      timestamptz NOT NULL,
  insert_seq      bigint GENERATED ALWAYS AS IDENTITY UNIQUE,
  user_id         text,
  user_role       text NOT NULL DEFAULT '',
  user_email      text NOT NULL DEFAULT '',
  impersonator_id text,
  entity_type     text NOT NULL DEFAULT '',
  entity_id       text,
  entity_name     text NOT NULL DEFAULT '',
  action_type     text NOT NULL,
  action_category text NOT NULL,
  status          text NOT NULL,
  severity        text NOT NULL,
  description     text NOT NULL DEFAULT '',
  old_values      jsonb,
  new_values      jsonb,
  ip_address      text NOT NULL DEFAULT '',
  country_code    text NOT NULL DEFAULT '',
  user_agent      text NOT NULL DEFAULT '',
  device_type     text NOT NULL DEFAULT '',
  platform        text NOT NULL DEFAULT '',
  request_id      text NOT NULL DEFAULT '',
  session_id      text NOT NULL DEFAULT '',
  hostel_id       text NOT NULL DEFAULT '',
  is_sensitive    boolean NOT NULL DEFAULT false,
  requires_review boolean NOT NULL DEFAULT false,
  compliance_tag  text NOT NULL DEFAULT '',
  hash_prev       text NOT NULL,
  hash_curr       text NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_created_at_idx ON audit_events (created_at DESC, insert_seq DESC);
CREATE INDEX IF NOT EXISTS audit_events_entity_idx ON audit_events (entity_type, entity_id);
CREATE INDEX IF NOT EXISTS audit_events_user_idx ON audit_events (user_id);
CREATE INDEX IF NOT EXISTS audit_events_hostel_idx ON audit_events (hostel_id);
`

// PostgresStore implements audit.Store over hand-written SQL. The table is
// insert-only: no UPDATE or DELETE statement exists anywhere in this file.
type PostgresStore struct {
	db  *sql.DB
	clk clock.Clock
}

func NewPostgresStore(db *sql.DB, clk clock.Clock) *PostgresStore {
	return &PostgresStore{db: db, clk: clk}
}

// chainLockID keys the advisory lock that serializes chain appends.
const chainLockID int64 = 0x61756469745f6368 // "audit_ch"

// pgTime matches timestamptz precision. The hash covers created_at, so it
// must be computed over the microseconds the row will actually store, or a
// read-back event would recompute a different hash.
func pgTime(t time.Time) time.Time {
	return t.Truncate(time.Microsecond).UTC()
}

func (s *PostgresStore) now() time.Time {
	if s.clk == nil {
		return time.Now().UTC()
	}
	return s.clk.Now().UTC()
}

func (s *PostgresStore) Append(ctx context.Context, e audit.Event) (audit.Event, error) {
	if err := audit.ValidateAppend(e); err != nil {
		return audit.Event{}, err
	}
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	e.CreatedAt = pgTime(e.CreatedAt)
	if e.Severity == "" {
		e.Severity = audit.SeverityInfo
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return audit.Event{}, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Serialize chain linkage with a transaction-scoped advisory lock. A
	// row lock on the current tail cannot do this: an empty table has no
	// row to lock, and under read committed a transaction that waited on
	// the tail re-reads the pre-commit snapshot once the lock releases.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockID); err != nil {
		return audit.Event{}, fmt.Errorf("lock chain head: %w", err)
	}
	const tailQ = `
SELECT hash_curr
FROM audit_events
ORDER BY insert_seq DESC
LIMIT 1
`
	prev := audit.GenesisHash
	if err := tx.QueryRowContext(ctx, tailQ).Scan(&prev); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return audit.Event{}, fmt.Errorf("read chain tail: %w", err)
		}
	}
	e.HashPrev = prev
	e.HashCurr = audit.ComputeHash(prev, e)

	oldJSON, err := valuesJSON(e.OldValues)
	if err != nil {
		return audit.Event{}, err
	}
	newJSON, err := valuesJSON(e.NewValues)
	if err != nil {
		return audit.Event{}, err
	}

	const insQ = `
INSERT INTO audit_events (
  event_id, created_at,
  user_id, user_role, user_email, impersonator_id,
  entity_type, entity_id, entity_name,
  action_type, action_category, status, severity, description,
  old_values, new_values,
  ip_address, country_code, user_agent, device_type, platform,
  request_id, session_id, hostel_id,
  is_sensitive, requires_review, compliance_tag,
  hash_prev, hash_curr
) VALUES (
  $1, $2::timestamptz,
  $3, $4, $5, $6,
  $7, $8, $9,
  $10, $11, $12, $13, $14,
  $15::jsonb, $16::jsonb,
  $17, $18, $19, $20, $21,
  $22, $23, $24,
  $25, $26, $27,
  $28, $29
)
RETURNING insert_seq
`
	err = tx.QueryRowContext(ctx, insQ,
		e.EventID,
		e.CreatedAt.UTC(),
		e.UserID,
		e.UserRole,
		e.UserEmail,
		e.ImpersonatorID,
		e.EntityType,
		e.EntityID,
		e.EntityName,
		e.ActionType,
		e.ActionCategory,
		string(e.Status),
		string(e.Severity),
		e.Description,
		oldJSON,
		newJSON,
		e.IPAddress,
		e.CountryCode,
		e.UserAgent,
		e.DeviceType,
		e.Platform,
		e.RequestID,
		e.SessionID,
		e.HostelID,
		e.IsSensitive,
		e.RequiresReview,
		e.ComplianceTag,
		e.HashPrev,
		e.HashCurr,
	).Scan(&e.InsertSeq)
	if err != nil {
		return audit.Event{}, fmt.Errorf("insert audit event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return audit.Event{}, fmt.Errorf("commit audit event: %w", err)
	}
	return e, nil
}

const eventColumns = `
event_id, created_at, insert_seq,
user_id, user_role, user_email, impersonator_id,
entity_type, entity_id, entity_name,
action_type, action_category, status, severity, description,
old_values, new_values,
ip_address, country_code, user_agent, device_type, platform,
request_id, session_id, hostel_id,
is_sensitive, requires_review, compliance_tag,
hash_prev, hash_curr
`

func (s *PostgresStore) Get(ctx context.Context, id string) (audit.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM audit_events WHERE event_id = $1`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Event{}, audit.ErrNotFound
	}
	if err != nil {
		return audit.Event{}, fmt.Errorf("get audit event %s: %w", id, err)
	}
	return e, nil
}

func (s *PostgresStore) Query(ctx context.Context, p audit.Predicate, srt audit.Sort, limit, offset int) ([]audit.Event, int, error) {
	where, args := buildWhere(p)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM audit_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	q := `SELECT ` + eventColumns + ` FROM audit_events` + where + orderClause(srt)
	if limit > 0 {
		q += " LIMIT " + strconv.Itoa(limit)
	}
	if offset > 0 {
		q += " OFFSET " + strconv.Itoa(offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	out := make([]audit.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (audit.Event, error) {
	var (
		e                      audit.Event
		userID, impersonatorID sql.NullString
		entityID               sql.NullString
		status, severity       string
		oldJSON, newJSON       []byte
	)
	err := row.Scan(
		&e.EventID,
		&e.CreatedAt,
		&e.InsertSeq,
		&userID,
		&e.UserRole,
		&e.UserEmail,
		&impersonatorID,
		&e.EntityType,
		&entityID,
		&e.EntityName,
		&e.ActionType,
		&e.ActionCategory,
		&status,
		&severity,
		&e.Description,
		&oldJSON,
		&newJSON,
		&e.IPAddress,
		&e.CountryCode,
		&e.UserAgent,
		&e.DeviceType,
		&e.Platform,
		&e.RequestID,
		&e.SessionID,
		&e.HostelID,
		&e.IsSensitive,
		&e.RequiresReview,
		&e.ComplianceTag,
		&e.HashPrev,
		&e.HashCurr,
	)
	if err != nil {
		return audit.Event{}, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.Status = audit.Status(status)
	e.Severity = audit.Severity(severity)
	if userID.Valid {
		e.UserID = &userID.String
	}
	if impersonatorID.Valid {
		e.ImpersonatorID = &impersonatorID.String
	}
	if entityID.Valid {
		e.EntityID = &entityID.String
	}
	if len(oldJSON) > 0 {
		_ = json.Unmarshal(oldJSON, &e.OldValues)
	}
	if len(newJSON) > 0 {
		_ = json.Unmarshal(newJSON, &e.NewValues)
	}
	return e, nil
}

func valuesJSON(v audit.Values) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode values payload: %w", err)
	}
	return b, nil
}

// buildWhere translates the normalized predicate into a WHERE clause. It
// mirrors Predicate.Matches exactly; the two must not drift.
func buildWhere(p audit.Predicate) (string, []any) {
	conds := make([]string, 0, 8)
	args := make([]any, 0, 8)

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	inList := func(column string, values []string) {
		ph := make([]string, 0, len(values))
		for _, v := range values {
			ph = append(ph, arg(v))
		}
		conds = append(conds, column+" IN ("+strings.Join(ph, ",")+")")
	}

	if len(p.UserIDs) > 0 {
		inList("user_id", p.UserIDs)
	}
	if len(p.ExcludeUserIDs) > 0 {
		ph := make([]string, 0, len(p.ExcludeUserIDs))
		for _, v := range p.ExcludeUserIDs {
			ph = append(ph, arg(v))
		}
		conds = append(conds, "(user_id IS NULL OR user_id NOT IN ("+strings.Join(ph, ",")+"))")
	}
	if len(p.UserRoles) > 0 {
		inList("user_role", p.UserRoles)
	}
	if p.UserEmail != "" {
		conds = append(conds, "user_email ILIKE "+arg("%"+escapeLike(p.UserEmail)+"%"))
	}
	if len(p.HostelIDs) > 0 {
		inList("hostel_id", p.HostelIDs)
	}
	if len(p.EntityTypes) > 0 {
		inList("entity_type", p.EntityTypes)
	}
	if len(p.EntityIDs) > 0 {
		inList("entity_id", p.EntityIDs)
	}
	if len(p.ActionTypes) > 0 {
		inList("action_type", p.ActionTypes)
	}
	if len(p.ActionCategories) > 0 {
		inList("action_category", p.ActionCategories)
	}
	if p.ActionPattern != "" {
		conds = append(conds, "action_type LIKE "+arg(wildcardToLike(p.ActionPattern)))
	}
	if !p.From.IsZero() {
		conds = append(conds, "created_at >= "+arg(p.From.UTC()))
	}
	if !p.To.IsZero() {
		conds = append(conds, "created_at <= "+arg(p.To.UTC()))
	}
	if len(p.Statuses) > 0 {
		ph := make([]string, 0, len(p.Statuses))
		for _, v := range p.Statuses {
			ph = append(ph, arg(string(v)))
		}
		conds = append(conds, "status IN ("+strings.Join(ph, ",")+")")
	}
	if p.Severity != "" {
		conds = append(conds, "severity = "+arg(string(p.Severity)))
	}
	if p.MinSeverity != "" {
		atLeast := severitiesAtLeast(p.MinSeverity)
		ph := make([]string, 0, len(atLeast))
		for _, v := range atLeast {
			ph = append(ph, arg(string(v)))
		}
		conds = append(conds, "severity IN ("+strings.Join(ph, ",")+")")
	}
	if p.IsSensitive != nil {
		conds = append(conds, "is_sensitive = "+arg(*p.IsSensitive))
	}
	if p.RequiresReview != nil {
		conds = append(conds, "requires_review = "+arg(*p.RequiresReview))
	}
	if p.ComplianceTag != "" {
		conds = append(conds, "compliance_tag = "+arg(p.ComplianceTag))
	}
	if len(p.IPAddresses) > 0 {
		inList("ip_address", p.IPAddresses)
	}
	if p.CountryCode != "" {
		conds = append(conds, "country_code = "+arg(p.CountryCode))
	}
	if p.DeviceType != "" {
		conds = append(conds, "device_type = "+arg(p.DeviceType))
	}
	if p.Platform != "" {
		conds = append(conds, "platform = "+arg(p.Platform))
	}
	if p.Search != "" {
		term := "%" + escapeLike(p.Search) + "%"
		ors := make([]string, 0, 3)
		if p.SearchDescription {
			ors = append(ors, "description ILIKE "+arg(term))
		}
		if p.SearchEntityName {
			ors = append(ors, "entity_name ILIKE "+arg(term))
		}
		if p.SearchUserEmail {
			ors = append(ors, "user_email ILIKE "+arg(term))
		}
		if len(ors) > 0 {
			conds = append(conds, "("+strings.Join(ors, " OR ")+")")
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func severitiesAtLeast(min audit.Severity) []audit.Severity {
	all := []audit.Severity{
		audit.SeverityCritical,
		audit.SeverityHigh,
		audit.SeverityMedium,
		audit.SeverityLow,
		audit.SeverityInfo,
	}
	out := make([]audit.Severity, 0, len(all))
	for _, s := range all {
		if s.Rank() >= min.Rank() {
			out = append(out, s)
		}
	}
	return out
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

// wildcardToLike converts the filter's * / ? wildcards to SQL LIKE syntax.
func wildcardToLike(pattern string) string {
	escaped := escapeLike(pattern)
	escaped = strings.ReplaceAll(escaped, "*", "%")
	return strings.ReplaceAll(escaped, "?", "_")
}

func orderClause(srt audit.Sort) string {
	column := "created_at"
	switch srt.Field {
	case audit.SortActionType:
		column = "action_type"
	case audit.SortUserID:
		column = "user_id"
	case audit.SortEntityType:
		column = "entity_type"
	case audit.SortStatus:
		column = "status"
	case audit.SortSeverity:
		column = `CASE severity
WHEN 'critical' THEN 5 WHEN 'high' THEN 4 WHEN 'medium' THEN 3
WHEN 'low' THEN 2 WHEN 'info' THEN 1 ELSE 0 END`
	}
	dir := "DESC"
	tie := "DESC"
	if srt.Order == audit.OrderAsc {
		dir, tie = "ASC", "ASC"
	}
	return " ORDER BY " + column + " " + dir + ", created_at " + tie + ", insert_seq " + tie
}
