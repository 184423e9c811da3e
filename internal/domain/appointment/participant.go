package appointment

import (
	"net/mail"
	"strings"
	"time"
)

// Response is a participant's answer to an invitation.
type Response string

const (
	ResponsePending  Response = "pending"
	ResponseAccepted Response = "accepted"
	ResponseDeclined Response = "declined"
)

// Participant is a person invited to an appointment, either a known user or
// an external email-only invitee.
type Participant struct {
	ID            string
	AppointmentID string
	UserID        *string
	Email         string
	Response      Response
	Reason        *string
	RespondedAt   *time.Time
	CreatedAt     time.Time
}

// NormalizeEmail validates addr and returns the bare lower-cased address.
func NormalizeEmail(addr string) (string, error) {
	parsed, err := mail.ParseAddress(strings.TrimSpace(addr))
	if err != nil {
		verr := &ValidationError{}
		verr.Add("email", "invalid email address")
		return "", verr
	}
	return strings.ToLower(parsed.Address), nil
}

// Tally counts responses across participants.
type Tally struct {
	Accepted int
	Declined int
	Pending  int
}

func (t Tally) Total() int { return t.Accepted + t.Declined + t.Pending }

func TallyResponses(ps []*Participant) Tally {
	var t Tally
	for _, p := range ps {
		switch p.Response {
		case ResponseAccepted:
			t.Accepted++
		case ResponseDeclined:
			t.Declined++
		default:
			t.Pending++
		}
	}
	return t
}
