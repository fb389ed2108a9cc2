package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrCapacityExceeded = errors.New("capacity exceeded")
)

// ConfigurationError rejects a malformed window or slot definition before it
// is persisted.
type ConfigurationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s %s", e.Entity, e.Field, e.Reason)
}

func configErr(entity, field, reason string) error {
	return &ConfigurationError{Entity: entity, Field: field, Reason: reason}
}

// ValidationError reports request data that is well-formed but not acceptable,
// e.g. a duplicate amenity name.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// DependencyError blocks a delete while active records still depend on the
// target. Dependents carries whatever the caller needs to present them.
type DependencyError struct {
	Entity     string
	ID         int64
	Count      int
	Dependents any
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s %d has %d active dependents", e.Entity, e.ID, e.Count)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
