package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostelworks/backoffice-audit/internal/platform/clock"
)

// Store is the append-only persistence contract. Events are never updated
// or deleted; corrections are modeled as new events.
type Store interface {
	// Append validates classification fields, defaults CreatedAt, assigns
	// the event id and insert sequence, links the hash chain, and persists
	// exactly one row. Storage failures propagate without retry so the
	// calling subsystem sees the gap.
	Append(ctx context.Context, e Event) (Event, error)
	// Get returns ErrNotFound for an unknown id.
	Get(ctx context.Context, id string) (Event, error)
	// Query returns the matching page plus the total match count. A limit
	// of zero or less means unbounded retrieval for aggregation use.
	Query(ctx context.Context, p Predicate, s Sort, limit, offset int) ([]Event, int, error)
}

// ValidateAppend enforces the required classification fields before any
// store touches the event.
func ValidateAppend(e Event) error {
	if e.ActionType == "" {
		return invalid("action_type", "required")
	}
	if e.ActionCategory == "" {
		return invalid("action_category", "required")
	}
	if e.Status == "" {
		return invalid("status", "required")
	}
	if !e.Status.Valid() {
		return invalid("status", "unknown status "+string(e.Status))
	}
	if e.Severity != "" && !e.Severity.Valid() {
		return invalid("severity_level", "unknown severity "+string(e.Severity))
	}
	return nil
}

// MemoryStore keeps the full chain in process. It backs tests and
// single-node deployments without a database.
type MemoryStore struct {
	Clock clock.Clock

	mu      sync.Mutex
	events  []Event
	byID    map[string]int
	last    string
	nextSeq int64
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{Clock: clk, byID: make(map[string]int), last: GenesisHash}
}

func (s *MemoryStore) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

func (s *MemoryStore) Append(_ context.Context, e Event) (Event, error) {
	if err := ValidateAppend(e); err != nil {
		return Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e.EventID == "" {
		e.EventID = uuid.NewString()
	} else if _, exists := s.byID[e.EventID]; exists {
		return Event{}, fmt.Errorf("append %s: duplicate event id", e.EventID)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	s.nextSeq++
	e.InsertSeq = s.nextSeq

	// Refuse to extend a chain whose tail no longer recomputes.
	if len(s.events) > 0 {
		prev := s.events[len(s.events)-1]
		if ComputeHash(prev.HashPrev, prev) != prev.HashCurr {
			return Event{}, ErrCorruptChain
		}
	}
	e.HashPrev = s.last
	e.HashCurr = ComputeHash(s.last, e)

	s.events = append(s.events, e)
	s.byID[e.EventID] = len(s.events) - 1
	s.last = e.HashCurr
	return e, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return Event{}, ErrNotFound
	}
	return s.events[idx], nil
}

func (s *MemoryStore) Query(_ context.Context, p Predicate, srt Sort, limit, offset int) ([]Event, int, error) {
	s.mu.Lock()
	matched := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		if p.Matches(e) {
			matched = append(matched, e)
		}
	}
	s.mu.Unlock()

	sortEvents(matched, srt)
	total := len(matched)

	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

// Events returns a copy of the full chain in append order, for chain
// verification and exports.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// sortEvents orders events by the requested field with insertion order as
// the final tie-break, so equal keys still yield a strict sequence.
func sortEvents(events []Event, srt Sort) {
	if srt.Field == "" {
		srt.Field = SortCreatedAt
	}
	asc := srt.Order != OrderDesc
	sort.SliceStable(events, func(i, j int) bool {
		c := compareEvents(events[i], events[j], srt.Field)
		if c == 0 {
			c = compareSeq(events[i], events[j])
		}
		if asc {
			return c < 0
		}
		return c > 0
	})
}

func compareSeq(a, b Event) int {
	switch {
	case a.CreatedAt.Before(b.CreatedAt):
		return -1
	case a.CreatedAt.After(b.CreatedAt):
		return 1
	case a.InsertSeq < b.InsertSeq:
		return -1
	case a.InsertSeq > b.InsertSeq:
		return 1
	}
	return 0
}

func compareEvents(a, b Event, field SortField) int {
	switch field {
	case SortActionType:
		return compareStrings(a.ActionType, b.ActionType)
	case SortUserID:
		return compareStrings(deref(a.UserID), deref(b.UserID))
	case SortEntityType:
		return compareStrings(a.EntityType, b.EntityType)
	case SortStatus:
		return compareStrings(string(a.Status), string(b.Status))
	case SortSeverity:
		switch {
		case a.Severity.Rank() < b.Severity.Rank():
			return -1
		case a.Severity.Rank() > b.Severity.Rank():
			return 1
		}
		return 0
	default:
		return compareSeq(a, b)
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
