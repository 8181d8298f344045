package audit

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get for an event id that was never appended.
// A history lookup over an entity with no events is not an error.
var ErrNotFound = errors.New("audit event not found")

// ErrCorruptChain signals that a previously appended event no longer matches
// its recorded hash. Appends refuse to extend a corrupted chain.
var ErrCorruptChain = errors.New("audit chain corruption detected")

// ValidationError reports a malformed filter specification or append input.
// It is surfaced to the caller before any store access and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError anywhere in its chain.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
