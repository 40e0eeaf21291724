package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a vendor, schema entity or edit request does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for malformed mutations
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict is returned when a unique attribute is already taken
	ErrConflict = errors.New("conflict")
)

// Violation is a single field-level rule failure
type Violation struct {
	Field   string      `json:"field"`
	Rule    string      `json:"rule"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message"`
}

// ValidationError carries every violated rule of a rejected edit.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// StaleSchemaError reports a schema mutation whose expected version was overtaken.
type StaleSchemaError struct {
	Expected int64
	Actual   int64
}

func (e *StaleSchemaError) Error() string {
	return fmt.Sprintf("stale schema: expected version %d, current is %d", e.Expected, e.Actual)
}

// InvalidStateTransitionError reports a decision on an edit request that is no longer pending.
type InvalidStateTransitionError struct {
	ID   string
	From ReviewState
	To   ReviewState
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("edit request %s: cannot move from %s to %s", e.ID, e.From, e.To)
}
