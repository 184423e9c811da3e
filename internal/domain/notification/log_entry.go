package notification

import "time"

// LogEntry is the idempotency record for one (appointment, type, meta key).
// Corresponds to the 'notification_log' table; the triple is unique.
type LogEntry struct {
	ID            string
	AppointmentID string
	Type          Type
	MetaKey       string // e.g. calendar day for daily reminders; empty when one send ever
	Status        DeliveryStatus
	Attempts      int    // delivery rounds made so far
	LastError     string // detail of the last failed delivery, if any
	Recipients    int    // deliveries that succeeded
	ClaimedAt     time.Time
	SentAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LogFilter selects entries for the admin delivery-status view.
type LogFilter struct {
	AppointmentID string
	Statuses      []DeliveryStatus
	Limit         int
}
