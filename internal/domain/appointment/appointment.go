package appointment

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTitleLength bounds Appointment.Title, counted in runes.
const MaxTitleLength = 200

// Type tags what kind of item is being scheduled.
type Type string

const (
	TypeMeeting      Type = "meeting"
	TypeHearing      Type = "hearing"
	TypeDeadline     Type = "deadline"
	TypeConsultation Type = "consultation"
	TypeOther        Type = "other"
)

func (t Type) Valid() bool {
	switch t {
	case TypeMeeting, TypeHearing, TypeDeadline, TypeConsultation, TypeOther:
		return true
	}
	return false
}

// Appointment is one schedulable item with an approval lifecycle.
// Corresponds to the 'appointments' table.
type Appointment struct {
	ID                     string
	Title                  string
	Description            string
	Location               string
	StartTime              time.Time
	EndTime                time.Time
	Status                 Status
	Type                   Type
	RequesterID            string  // users.id of who asked for it
	ApproverID             *string // nil until approved or rejected
	RejectionReason        *string // set iff canonical status is rejected
	CanceledBy             *string
	ResponsibleID          string  // party or resource whose agenda is booked
	ProcessID              *string // optional case/process reference
	RescheduledFromID      *string // set on the row opened by a reschedule
	InvitationsSentAt      *time.Time
	RejectionCount         int  // declined invitations
	AdminRejectionNotified bool // admin_notificado_rejeicoes
	CompletedAt            *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Range returns the half-open interval [StartTime, EndTime).
func (a *Appointment) Range() Range {
	return Range{Start: a.StartTime, End: a.EndTime}
}

// EffectiveStatus derives completion lazily: an approved appointment whose end
// has passed reads as completed even before the sweep persists it.
func (a *Appointment) EffectiveStatus(now time.Time) Status {
	if a.Status.IsApproved() && now.After(a.EndTime) {
		return TargetStatus(a.Status, StatusCompleted)
	}
	return a.Status
}

// Validate checks the field-level invariants for a new appointment.
func (a *Appointment) Validate(now time.Time) error {
	verr := &ValidationError{}
	title := strings.TrimSpace(a.Title)
	switch {
	case title == "":
		verr.Add("title", "title is required")
	case utf8.RuneCountInString(title) > MaxTitleLength:
		verr.Add("title", "title is too long")
	}
	if a.StartTime.IsZero() || a.EndTime.IsZero() {
		verr.Add("start_time", "start and end time are required")
	} else {
		if !a.EndTime.After(a.StartTime) {
			verr.Add("end_time", "end before start")
		}
		if !a.StartTime.After(now) {
			verr.Add("start_time", "start in past")
		}
	}
	if a.RequesterID == "" {
		verr.Add("requester_id", "requester is required")
	}
	if a.ResponsibleID == "" {
		verr.Add("responsible_id", "responsible party is required")
	}
	if !a.Type.Valid() {
		verr.Add("type", "unknown appointment type")
	}
	return verr.OrNil()
}

// Range is a half-open time interval.
type Range struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether [r.Start, r.End) and [o.Start, o.End) intersect.
// Touching ranges do not overlap.
func (r Range) Overlaps(o Range) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// IsToday reports whether start falls on the same calendar day as now,
// in now's location.
func IsToday(start, now time.Time) bool {
	s := start.In(now.Location())
	y1, m1, d1 := s.Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// DayKey formats the calendar day of t in loc; used as the dedup key for
// daily reminders.
func DayKey(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("2006-01-02")
}

// DayBounds returns [00:00, next 00:00) of t's day in t's location.
func DayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}

// ReminderBand is the tolerance window around the one-hour reminder.
type ReminderBand struct {
	Min time.Duration
	Max time.Duration
}

// DefaultReminderBand is the smallest band that tolerates sweep jitter.
var DefaultReminderBand = ReminderBand{Min: 45 * time.Minute, Max: 75 * time.Minute}

// StartsWithinReminderWindow reports whether start - now lies in [band.Min, band.Max].
func StartsWithinReminderWindow(start, now time.Time, band ReminderBand) bool {
	until := start.Sub(now)
	return until >= band.Min && until <= band.Max
}
