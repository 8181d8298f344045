// Command chainverify checks the tamper-evidence hash chain of an exported
// audit event file. The input is a JSON array of events in ascending insert
// order, as produced by GET /v1/audit/events.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hostelworks/backoffice-audit/internal/platform/audit"
)

type wireEvent struct {
	EventID        string       `json:"event_id"`
	CreatedAt      time.Time    `json:"created_at"`
	UserID         *string      `json:"user_id"`
	ActionType     string       `json:"action_type"`
	ActionCategory string       `json:"action_category"`
	Status         string       `json:"status"`
	OldValues      audit.Values `json:"old_values"`
	NewValues      audit.Values `json:"new_values"`
	HashPrev       string       `json:"hash_prev"`
	HashCurr       string       `json:"hash_curr"`
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: chainverify <events.json>")
		os.Exit(2)
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "read events: %v\n", err)
		os.Exit(1)
	}

	var wire []wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		fmt.Fprintf(os.Stderr, "parse events: %v\n", err)
		os.Exit(1)
	}

	events := make([]audit.Event, 0, len(wire))
	for _, w := range wire {
		events = append(events, audit.Event{
			EventID:        w.EventID,
			CreatedAt:      w.CreatedAt,
			UserID:         w.UserID,
			ActionType:     w.ActionType,
			ActionCategory: w.ActionCategory,
			Status:         audit.Status(w.Status),
			OldValues:      w.OldValues,
			NewValues:      w.NewValues,
			HashPrev:       w.HashPrev,
			HashCurr:       w.HashCurr,
		})
	}

	if i := audit.VerifyChain(events); i >= 0 {
		fmt.Fprintf(os.Stderr, "chain corrupt at index %d (event %s)\n", i, events[i].EventID)
		os.Exit(1)
	}

	fmt.Printf("chain intact: %d events verified\n", len(events))
}
