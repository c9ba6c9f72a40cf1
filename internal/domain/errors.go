package domain

import (
	"fmt"
	"strings"
)

// NotFoundError is returned when a task id does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.ID)
}

// FieldError describes a single field constraint violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when input violates a field constraint, a
// hierarchy invariant, or an import batch contains duplicate ids.
type ValidationError struct {
	Message     string       `json:"message"`
	FieldErrors []FieldError `json:"field_errors,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.FieldErrors) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.FieldErrors))
	for _, fe := range e.FieldErrors {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, "; "))
}

// NewValidationError builds a ValidationError with a single message.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// NewFieldError builds a ValidationError for one field.
func NewFieldError(field, message string) *ValidationError {
	return &ValidationError{
		Message:     "validation failed",
		FieldErrors: []FieldError{{Field: field, Message: message}},
	}
}

// ConflictError is returned when an import batch collides with existing ids
// under the fail policy. It carries the colliding ids.
type ConflictError struct {
	ConflictingIDs []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("one or more task ids already exist: %s", strings.Join(e.ConflictingIDs, ", "))
}

// PreconditionFailedError is returned when an If-Match or
// If-Unmodified-Since precondition rejects a stale write.
type PreconditionFailedError struct {
	Message string
}

func (e *PreconditionFailedError) Error() string {
	return e.Message
}
