package bids

import "fmt"

// NotFoundError reports that an index query matched no imaging entries.
// Callers of the completion and pruning passes treat it as "nothing to do".
type NotFoundError struct {
	Subject string
	Session string
}

func (e *NotFoundError) Error() string {
	if e.Session != "" {
		return fmt.Sprintf("no imaging entries found for sub-%s ses-%s", e.Subject, e.Session)
	}
	return fmt.Sprintf("no imaging entries found for sub-%s", e.Subject)
}

// MissingFieldError reports a sidecar that lacks a field the caller
// established it must carry.
type MissingFieldError struct {
	Path  string
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("field %q not found in %s", e.Field, e.Path)
}
