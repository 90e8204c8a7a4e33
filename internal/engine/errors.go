package engine

import (
	"errors"
	"fmt"
)

// ValidationError reports the first pre-save or pre-submit violation.
// Field names the offending attribute ("title", "blocks",
// "style.backgroundColor", "slug", or a block id).
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConflictError reports a uniqueness collision, carrying the same
// user-facing message whether it came from the pre-check or the store
// constraint.
type ConflictError struct {
	Message string
}

func (e ConflictError) Error() string { return e.Message }

// ErrNotAvailable marks a campaign that resolved but is outside its
// active window or not in active status.
var ErrNotAvailable = errors.New("not currently available")
