package appointment

import (
	"context"
	"errors"
	"time"
)

// Repository errors shared by every store implementation.
var (
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrStatusMismatch is returned by guarded updates when the stored status
	// is no longer the expected one.
	ErrStatusMismatch = errors.New("appointment status changed concurrently")
)

// StatusUpdate carries the fields written together with a status change.
// Nil pointers leave the stored value untouched.
type StatusUpdate struct {
	Status            Status
	ApproverID        *string
	RejectionReason   *string
	CanceledBy        *string
	InvitationsSentAt *time.Time
	CompletedAt       *time.Time
}

// Filter selects appointments for sweeps and listings. Zero times are unbounded.
type Filter struct {
	Statuses      []Status
	ResponsibleID string
	StartFrom     time.Time // inclusive
	StartTo       time.Time // exclusive
	EndBefore     time.Time // exclusive
}

// Repository persists appointments and their participants.
type Repository interface {
	// Create inserts a and its participants. The overlap check against
	// BlockingStatuses for a.ResponsibleID is repeated inside the write and
	// serialized per responsible party; a lost race returns *ConflictError.
	Create(ctx context.Context, a *Appointment, participants []*Participant) error
	GetByID(ctx context.Context, id string) (*Appointment, error)
	// UpdateStatus applies upd only if the stored status equals expected,
	// otherwise ErrStatusMismatch.
	UpdateStatus(ctx context.Context, id string, expected Status, upd StatusUpdate) (*Appointment, error)
	UpdateDetails(ctx context.Context, id string, expected Status, title, description, location string) (*Appointment, error)
	// Reschedule closes id (guarded by expected) with status closed and
	// creates next in one transaction, with the same overlap guarantee as Create.
	Reschedule(ctx context.Context, id string, expected, closed Status, next *Appointment) error
	UpdateRejectionCount(ctx context.Context, id string, count int) error
	ListOverlapping(ctx context.Context, responsibleID string, r Range, excludeID string) ([]*Appointment, error)
	List(ctx context.Context, f Filter) ([]*Appointment, error)
	// ListRejectionAlertsDue returns non-terminal appointments with at least
	// threshold declines whose admin alert flag is unset.
	ListRejectionAlertsDue(ctx context.Context, threshold int) ([]*Appointment, error)
	// MarkRejectionAlertSent sets the flag; false if it was already set.
	MarkRejectionAlertSent(ctx context.Context, id string) (bool, error)

	AddParticipants(ctx context.Context, appointmentID string, ps []*Participant) error
	ListParticipants(ctx context.Context, appointmentID string) ([]*Participant, error)
	GetParticipant(ctx context.Context, id string) (*Participant, error)
	// RecordResponse stores p's response unless the parent appointment is
	// terminal, in which case ErrStatusMismatch.
	RecordResponse(ctx context.Context, p *Participant) error
}
