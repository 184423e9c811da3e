// internal/domain/notification/repository.go
package notification

import (
	"context"
	"errors"
	"time"
)

var (
	ErrLogEntryNotFound   = errors.New("notification log entry not found")
	ErrPreferenceNotFound = errors.New("notification preference not found")
	// ErrClaimLost means the entry is no longer pending under the caller's
	// claim: another worker reclaimed it or finished it.
	ErrClaimLost = errors.New("notification claim lost")
)

// Repository defines operations for the notification log and preferences.
type Repository interface {
	// InsertLogIfAbsent inserts e unless an entry for (AppointmentID, Type,
	// MetaKey) exists. It returns the stored entry and whether it was inserted.
	// Must be a uniqueness-constrained insert, not read-then-write.
	InsertLogIfAbsent(ctx context.Context, e *LogEntry) (*LogEntry, bool, error)
	// ReclaimLog takes over a pending entry whose claim is older than
	// staleBefore, stamping claimedAt. False if another worker holds it.
	ReclaimLog(ctx context.Context, id string, staleBefore, claimedAt time.Time) (bool, error)
	// RenewClaim moves the claim of a pending entry from held to renewed.
	// ErrClaimLost if the stored claim is not held.
	RenewClaim(ctx context.Context, id string, held, renewed time.Time) error
	// UpdateLog writes e only while the stored entry is pending under the
	// claim held; otherwise ErrClaimLost. The claim becomes e.ClaimedAt.
	UpdateLog(ctx context.Context, e *LogEntry, held time.Time) error
	GetLog(ctx context.Context, appointmentID string, t Type, metaKey string) (*LogEntry, error)
	ListLogs(ctx context.Context, f LogFilter) ([]*LogEntry, error)

	GetPreferences(ctx context.Context, userID string) (*Preference, error)
	UpsertPreferences(ctx context.Context, p *Preference) error
}
