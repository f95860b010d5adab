// Package engineerr defines the stable error taxonomy used across the
// engine (spec.md §7). Workers and the orchestrator check these with
// errors.Is/errors.As rather than matching error strings.
package engineerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conditions spec.md §7 calls out by name.
var (
	ErrNotFound             = errors.New("not found")
	ErrComparisonInProgress = errors.New("comparison-in-progress")
	ErrConflict             = errors.New("conflict")
	ErrConnectionFailed     = errors.New("connection failed")
	ErrFileAccessDenied     = errors.New("file access denied")
)

// ValidationError wraps a malformed request field. It is surfaced via the
// external API, never by the engine's internal collaborators.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NotFoundError identifies which kind of entity and id was missing.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ConflictError identifies a uniqueness or state-transition conflict.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// NewComparisonInProgress builds the collision error for a subscription
// that already has a comparison running (spec.md §4.2, B2).
func NewComparisonInProgress(subscriptionID string) error {
	return fmt.Errorf("subscription %s: %w", subscriptionID, ErrComparisonInProgress)
}
