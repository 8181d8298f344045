package audit

import (
	"fmt"
	"sort"
	"strings"
)

// ChangedFields derives the set of fields an event mutated: every key
// present in either values map whose old and new values differ. A key that
// appears in only one map counts as changed. The result is sorted so the
// derivation is deterministic.
func ChangedFields(e Event) []string {
	if !e.IsMutation() {
		return nil
	}
	keys := make(map[string]struct{}, len(e.OldValues)+len(e.NewValues))
	for k := range e.OldValues {
		keys[k] = struct{}{}
	}
	for k := range e.NewValues {
		keys[k] = struct{}{}
	}
	fields := make([]string, 0, len(keys))
	for k := range keys {
		oldV, hasOld := e.OldValues[k]
		newV, hasNew := e.NewValues[k]
		if hasOld && hasNew && valueEqual(oldV, newV) {
			continue
		}
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// valueEqual compares payload values by their printed form. Payloads arrive
// through JSON so numeric types are already normalized to float64.
func valueEqual(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// ChangeSummary renders a field list for display. Past three fields the
// remainder collapses into a count: "Changed: a, b, c and 2 more".
func ChangeSummary(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	if len(fields) <= 3 {
		return "Changed: " + strings.Join(fields, ", ")
	}
	return fmt.Sprintf("Changed: %s and %d more", strings.Join(fields[:3], ", "), len(fields)-3)
}
