package config

import "fmt"

// ValidationError reports input that prevents a run from starting.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Invalid builds a ValidationError for checks done outside this package.
func Invalid(field, reason string) error {
	return invalid(field, reason)
}
