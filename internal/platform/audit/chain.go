package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GenesisHash seeds the tamper-evidence chain before any event exists.
const GenesisHash = "GENESIS"

// ComputeHash links an event to its predecessor. The digest covers the
// fields a tamperer would want to rewrite: identity, timestamp, actor,
// classification, and the change payload.
func ComputeHash(prev string, e Event) string {
	h := sha256.New()
	_, _ = h.Write([]byte(prev))
	_, _ = h.Write([]byte("|" + e.EventID))
	_, _ = h.Write([]byte("|" + e.CreatedAt.UTC().Format(time.RFC3339Nano)))
	userID := ""
	if e.UserID != nil {
		userID = *e.UserID
	}
	_, _ = h.Write([]byte("|" + userID + "|" + e.ActionType + "|" + e.ActionCategory + "|" + string(e.Status)))
	old, _ := json.Marshal(e.OldValues)
	cur, _ := json.Marshal(e.NewValues)
	_, _ = h.Write([]byte(fmt.Sprintf("|%x|%x", old, cur)))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain walks events in append order and returns the index of the
// first event whose recorded hash does not recompute, or -1 when intact.
func VerifyChain(events []Event) int {
	prev := GenesisHash
	for i, e := range events {
		if e.HashPrev != prev {
			return i
		}
		if ComputeHash(prev, e) != e.HashCurr {
			return i
		}
		prev = e.HashCurr
	}
	return -1
}
