// internal/domain/notification/shared_types.go
package notification

// Type identifies which notification is being dispatched for an appointment.
type Type string

const (
	TypeApprovalRequest     Type = "approval_request"
	TypeApproved            Type = "approved"
	TypeRejected            Type = "rejected"
	TypeDailyReminder       Type = "daily_reminder"
	TypeHourlyReminder      Type = "hourly_reminder"
	TypeAdminRejectionAlert Type = "admin_rejection_alert"
	TypeInvitation          Type = "invitation" // keyed per participant
)

func (t Type) Valid() bool {
	switch t {
	case TypeApprovalRequest, TypeApproved, TypeRejected, TypeDailyReminder,
		TypeHourlyReminder, TypeAdminRejectionAlert, TypeInvitation:
		return true
	}
	return false
}

// Category returns the preference category a notification type falls under.
func (t Type) Category() Category {
	if t == TypeAdminRejectionAlert {
		return CategorySystem
	}
	return CategoryAppointments
}

// DeliveryStatus is the state of a notification log entry.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"    // claimed, delivery not finished
	DeliverySent       DeliveryStatus = "sent"       // every delivery succeeded
	DeliveryError      DeliveryStatus = "error"      // gave up; never retried by later sweeps
	DeliverySuppressed DeliveryStatus = "suppressed" // appointment left the relevant state before delivery
)

// Final reports whether no further attempt will be made for the entry.
func (s DeliveryStatus) Final() bool {
	return s != DeliveryPending
}

// Category groups notification types for user preferences.
type Category string

const (
	CategoryAppointments Category = "appointments"
	CategoryCaseUpdates  Category = "case_updates"
	CategorySystem       Category = "system"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
)
