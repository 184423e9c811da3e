package appointment_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"legal_agenda/internal/domain/appointment"
)

var base = time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

func TestRangeOverlaps(t *testing.T) {
	rng := func(startMin, endMin int) appointment.Range {
		return appointment.Range{
			Start: base.Add(time.Duration(startMin) * time.Minute),
			End:   base.Add(time.Duration(endMin) * time.Minute),
		}
	}
	tests := []struct {
		name string
		a, b appointment.Range
		want bool
	}{
		{"identical", rng(0, 60), rng(0, 60), true},
		{"partial", rng(0, 60), rng(30, 90), true},
		{"contained", rng(0, 60), rng(10, 20), true},
		{"touching end", rng(0, 60), rng(60, 120), false},
		{"touching start", rng(60, 120), rng(0, 60), false},
		{"disjoint", rng(0, 30), rng(90, 120), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Fatalf("a.Overlaps(b) = %v, want %v", got, tt.want)
			}
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Fatalf("b.Overlaps(a) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	now := base.Add(-time.Hour)
	valid := func() *appointment.Appointment {
		return &appointment.Appointment{
			Title:         "Audiência de conciliação",
			StartTime:     base,
			EndTime:       base.Add(time.Hour),
			Type:          appointment.TypeHearing,
			RequesterID:   "u1",
			ResponsibleID: "u2",
		}
	}
	tests := []struct {
		name   string
		mutate func(*appointment.Appointment)
		field  string
		msg    string
	}{
		{"end before start", func(a *appointment.Appointment) { a.EndTime = a.StartTime.Add(-time.Minute) }, "end_time", "end before start"},
		{"empty range", func(a *appointment.Appointment) { a.EndTime = a.StartTime }, "end_time", "end before start"},
		{"start in past", func(a *appointment.Appointment) { a.StartTime = now.Add(-time.Minute) }, "start_time", "start in past"},
		{"start equals now", func(a *appointment.Appointment) { a.StartTime = now }, "start_time", "start in past"},
		{"blank title", func(a *appointment.Appointment) { a.Title = " \t" }, "title", "title is required"},
		{"long title", func(a *appointment.Appointment) { a.Title = strings.Repeat("á", appointment.MaxTitleLength+1) }, "title", "title is too long"},
		{"unknown type", func(a *appointment.Appointment) { a.Type = "party" }, "type", "unknown appointment type"},
		{"no responsible", func(a *appointment.Appointment) { a.ResponsibleID = "" }, "responsible_id", "responsible party is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid()
			tt.mutate(a)
			err := a.Validate(now)
			var verr *appointment.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if !verr.Has(tt.field, tt.msg) {
				t.Fatalf("fields = %+v, want %s: %s", verr.Fields, tt.field, tt.msg)
			}
		})
	}

	a := valid()
	a.Title = strings.Repeat("á", appointment.MaxTitleLength)
	if err := a.Validate(now); err != nil {
		t.Fatalf("title at the limit rejected: %v", err)
	}
}

func TestEffectiveStatus(t *testing.T) {
	a := &appointment.Appointment{StartTime: base, EndTime: base.Add(time.Hour), Status: appointment.StatusApproved}
	if got := a.EffectiveStatus(base.Add(30 * time.Minute)); got != appointment.StatusApproved {
		t.Fatalf("during: %s", got)
	}
	if got := a.EffectiveStatus(base.Add(time.Hour)); got != appointment.StatusApproved {
		t.Fatalf("at end: %s", got)
	}
	if got := a.EffectiveStatus(base.Add(time.Hour + time.Second)); got != appointment.StatusCompleted {
		t.Fatalf("after end: %s", got)
	}
	a.Status = appointment.StatusConfirmado
	if got := a.EffectiveStatus(base.Add(2 * time.Hour)); got != appointment.StatusFinalizado {
		t.Fatalf("extended after end: %s", got)
	}
	a.Status = appointment.StatusRequested
	if got := a.EffectiveStatus(base.Add(2 * time.Hour)); got != appointment.StatusRequested {
		t.Fatalf("requested never completes: %s", got)
	}
}

func TestStartsWithinReminderWindow(t *testing.T) {
	band := appointment.DefaultReminderBand
	tests := []struct {
		until time.Duration
		want  bool
	}{
		{44 * time.Minute, false},
		{45 * time.Minute, true},
		{60 * time.Minute, true},
		{75 * time.Minute, true},
		{75*time.Minute + time.Second, false},
		{-time.Minute, false},
	}
	for _, tt := range tests {
		if got := appointment.StartsWithinReminderWindow(base.Add(tt.until), base, band); got != tt.want {
			t.Errorf("until %s: got %v, want %v", tt.until, got, tt.want)
		}
	}
}

func TestIsTodayAndDayKey(t *testing.T) {
	brt := time.FixedZone("BRT", -3*60*60)
	now := time.Date(2026, time.March, 2, 22, 0, 0, 0, brt) // 01:00 UTC next day

	if !appointment.IsToday(time.Date(2026, time.March, 2, 23, 30, 0, 0, brt), now) {
		t.Errorf("same local day not today")
	}
	if appointment.IsToday(time.Date(2026, time.March, 3, 0, 30, 0, 0, brt), now) {
		t.Errorf("next local day reported today")
	}
	// a UTC instant on the same local day
	if !appointment.IsToday(time.Date(2026, time.March, 3, 1, 30, 0, 0, time.UTC), now) {
		t.Errorf("UTC instant not converted to local day")
	}
	if got := appointment.DayKey(now, brt); got != "2026-03-02" {
		t.Errorf("DayKey local = %s", got)
	}
	if got := appointment.DayKey(now, time.UTC); got != "2026-03-03" {
		t.Errorf("DayKey UTC = %s", got)
	}
	start, end := appointment.DayBounds(now)
	if start.Hour() != 0 || end.Sub(start) != 24*time.Hour || !start.Before(now) || !end.After(now) {
		t.Errorf("DayBounds = %s, %s", start, end)
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"Ana@Firm.Test", "ana@firm.test", false},
		{"  Ana Souza <ANA@firm.test> ", "ana@firm.test", false},
		{"not-an-email", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := appointment.NormalizeEmail(tt.in)
		if tt.wantErr {
			if !errors.Is(err, appointment.ErrValidation) {
				t.Errorf("NormalizeEmail(%q) err = %v, want validation error", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestTallyResponses(t *testing.T) {
	ps := []*appointment.Participant{
		{Response: appointment.ResponseAccepted},
		{Response: appointment.ResponseDeclined},
		{Response: appointment.ResponseDeclined},
		{Response: appointment.ResponsePending},
	}
	got := appointment.TallyResponses(ps)
	if got != (appointment.Tally{Accepted: 1, Declined: 2, Pending: 1}) || got.Total() != 4 {
		t.Fatalf("tally = %+v", got)
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		kind error
	}{
		{&appointment.ValidationError{}, appointment.ErrValidation},
		{&appointment.PolicyError{Rule: appointment.RuleWeekend}, appointment.ErrValidation},
		{&appointment.ConflictError{}, appointment.ErrConflict},
		{&appointment.InvalidStateError{}, appointment.ErrInvalidState},
		{&appointment.ExpiredInvitationError{}, appointment.ErrExpiredInvitation},
	}
	all := []error{appointment.ErrConflict, appointment.ErrInvalidState, appointment.ErrExpiredInvitation, appointment.ErrNotFound}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.kind) {
			t.Errorf("%T is not %v", tt.err, tt.kind)
		}
		for _, other := range all {
			if other != tt.kind && errors.Is(tt.err, other) {
				t.Errorf("%T also matches %v", tt.err, other)
			}
		}
	}
}
