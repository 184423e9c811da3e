package appointment

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error kinds. Every typed error below matches exactly one of these with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("scheduling conflict")
	ErrInvalidState      = errors.New("invalid state transition")
	ErrExpiredInvitation = errors.New("invitation expired")
	ErrNotFound          = errors.New("appointment not found")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError reports malformed input. Raised before any state mutation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// OrNil returns nil when no field was rejected.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Has reports whether field was rejected with msg.
func (e *ValidationError) Has(field, msg string) bool {
	for _, f := range e.Fields {
		if f.Field == field && f.Message == msg {
			return true
		}
	}
	return false
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// PolicyRule names a scheduling policy check.
type PolicyRule string

const (
	RuleBusinessHours PolicyRule = "business_hours"
	RuleWeekend       PolicyRule = "weekend"
)

// PolicyError is a validation kind raised by scheduling policy rather than by
// malformed input. It is distinguishable from ValidationError with errors.As.
type PolicyError struct {
	Rule    PolicyRule
	Message string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy %s: %s", e.Rule, e.Message)
}

func (e *PolicyError) Is(target error) bool { return target == ErrValidation }

// ConflictError reports an overlapping booking or a lost concurrent write.
type ConflictError struct {
	ConflictingIDs []string
	Reason         string
}

func (e *ConflictError) Error() string {
	if len(e.ConflictingIDs) == 0 {
		return "scheduling conflict: " + e.Reason
	}
	return fmt.Sprintf("scheduling conflict: %s (%s)", e.Reason, strings.Join(e.ConflictingIDs, ", "))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// InvalidStateError reports a transition not allowed from the current status.
type InvalidStateError struct {
	ID        string
	Current   Status
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s appointment %s in status %s", e.Operation, e.ID, e.Current)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// ExpiredInvitationError reports a response after the invitation window closed.
type ExpiredInvitationError struct {
	ParticipantID string
	ExpiredAt     time.Time
}

func (e *ExpiredInvitationError) Error() string {
	return fmt.Sprintf("invitation for participant %s expired at %s", e.ParticipantID, e.ExpiredAt.Format(time.RFC3339))
}

func (e *ExpiredInvitationError) Is(target error) bool { return target == ErrExpiredInvitation }
