// Package history reconstructs the change timeline of one entity from its
// audit events. A reconstruction is a pure function of stored state:
// calling it twice with no intervening appends yields identical results.
package history

import (
	"context"
	"time"

	"github.com/hostelworks/backoffice-audit/internal/platform/audit"
)

// Querier is the slice of the store the reconstructor needs. audit.Store
// satisfies it.
type Querier interface {
	Query(ctx context.Context, p audit.Predicate, s audit.Sort, limit, offset int) ([]audit.Event, int, error)
}

// Change is one timeline entry, oldest-first.
type Change struct {
	EventID        string       `json:"event_id"`
	Timestamp      time.Time    `json:"timestamp"`
	ActionType     string       `json:"action_type"`
	ActionCategory string       `json:"action_category"`
	Status         audit.Status `json:"status"`
	ChangedBy      *string      `json:"changed_by"`
	ChangedByRole  string       `json:"changed_by_role,omitempty"`
	OldValues      audit.Values `json:"old_values,omitempty"`
	NewValues      audit.Values `json:"new_values,omitempty"`
	ChangedFields  []string     `json:"changed_fields,omitempty"`
	ChangeSummary  string       `json:"change_summary,omitempty"`
}

// FieldChange is one entry of a single field's history.
type FieldChange struct {
	Timestamp time.Time `json:"timestamp"`
	OldValue  any       `json:"old_value"`
	NewValue  any       `json:"new_value"`
	ChangedBy *string   `json:"changed_by"`
}

// History is the assembled timeline plus entity-level facts derived from
// it. An entity with zero events gets an empty-but-valid History: absence
// of an audit trail is a legitimate state, not an error.
type History struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`

	TotalChanges int      `json:"total_changes"`
	Changes      []Change `json:"changes"`

	CreatedAt *time.Time `json:"created_at"`
	CreatedBy *string    `json:"created_by"`

	LastModifiedAt *time.Time `json:"last_modified_at"`
	LastModifiedBy *string    `json:"last_modified_by"`

	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy *string    `json:"deleted_by,omitempty"`

	UniqueModifiers int  `json:"unique_modifiers"`
	EntityAgeDays   *int `json:"entity_age_days"`
	// ChangeFrequency is changes per day of entity age; nil when the
	// creation time is unknown or nothing changed.
	ChangeFrequency *float64 `json:"change_frequency"`
}

// Options narrows the reconstruction window. The zero value means the full
// lifetime of the entity.
type Options struct {
	From time.Time
	To   time.Time
	Now  time.Time
}

// Reconstruct fetches every event for (entityType, entityID) and assembles
// the timeline in strict ascending (CreatedAt, InsertSeq) order, reversing
// the store's default newest-first retrieval.
func Reconstruct(ctx context.Context, q Querier, entityType, entityID string, opts Options) (History, error) {
	pred := audit.Predicate{
		EntityTypes: []string{entityType},
		EntityIDs:   []string{entityID},
		From:        opts.From,
		To:          opts.To,
	}
	events, _, err := q.Query(ctx, pred, audit.Sort{Field: audit.SortCreatedAt, Order: audit.OrderAsc}, 0, 0)
	if err != nil {
		return History{}, err
	}

	h := History{
		EntityType:   entityType,
		EntityID:     entityID,
		TotalChanges: len(events),
		Changes:      make([]Change, 0, len(events)),
	}

	modifiers := make(map[string]struct{})
	for _, e := range events {
		fields := audit.ChangedFields(e)
		h.Changes = append(h.Changes, Change{
			EventID:        e.EventID,
			Timestamp:      e.CreatedAt,
			ActionType:     e.ActionType,
			ActionCategory: e.ActionCategory,
			Status:         e.Status,
			ChangedBy:      e.UserID,
			ChangedByRole:  e.UserRole,
			OldValues:      e.OldValues,
			NewValues:      e.NewValues,
			ChangedFields:  fields,
			ChangeSummary:  audit.ChangeSummary(fields),
		})
		if e.UserID != nil {
			modifiers[*e.UserID] = struct{}{}
		}

		if h.CreatedAt == nil && audit.IsCreateAction(e.ActionType) {
			t := e.CreatedAt
			h.CreatedAt = &t
			h.CreatedBy = e.UserID
		}
		switch {
		case audit.IsDeleteAction(e.ActionType):
			t := e.CreatedAt
			h.IsDeleted = true
			h.DeletedAt = &t
			h.DeletedBy = e.UserID
		case audit.IsRestoreAction(e.ActionType):
			h.IsDeleted = false
			h.DeletedAt = nil
			h.DeletedBy = nil
		}
	}

	if n := len(events); n > 0 {
		last := events[n-1]
		t := last.CreatedAt
		h.LastModifiedAt = &t
		h.LastModifiedBy = last.UserID
	}
	h.UniqueModifiers = len(modifiers)

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if h.CreatedAt != nil {
		age := int(now.Sub(*h.CreatedAt).Hours() / 24)
		if age < 0 {
			age = 0
		}
		h.EntityAgeDays = &age
		if h.TotalChanges > 0 {
			// An entity younger than a day is scored over one day.
			days := age
			if days == 0 {
				days = 1
			}
			freq := float64(h.TotalChanges) / float64(days)
			h.ChangeFrequency = &freq
		}
	}
	return h, nil
}

// FieldHistory filters the timeline to changes touching one field,
// answering "show me every time this field changed".
func (h History) FieldHistory(field string) []FieldChange {
	out := make([]FieldChange, 0)
	for _, c := range h.Changes {
		touched := false
		for _, f := range c.ChangedFields {
			if f == field {
				touched = true
				break
			}
		}
		if !touched {
			continue
		}
		fc := FieldChange{Timestamp: c.Timestamp, ChangedBy: c.ChangedBy}
		if c.OldValues != nil {
			fc.OldValue = c.OldValues[field]
		}
		if c.NewValues != nil {
			fc.NewValue = c.NewValues[field]
		}
		out = append(out, fc)
	}
	return out
}
