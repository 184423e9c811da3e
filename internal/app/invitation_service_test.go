package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"legal_agenda/internal/app"
	"legal_agenda/internal/domain/appointment"
	"legal_agenda/internal/domain/notification"
)

// tomorrow 10:00, far enough for the invitation window to expire first
var tomorrow = time.Date(2026, time.March, 3, 10, 0, 0, 0, brt)

// invited books an appointment with one internal and one external participant.
func (e *env) invited(t *testing.T) (*appointment.Appointment, []*appointment.Participant) {
	t.Helper()
	a := e.book(t, tomorrow, time.Hour, func(in *app.CreateInput) {
		in.Participants = []app.ParticipantInput{
			{UserID: e.adminUser.ID, Email: e.adminUser.Email},
			{Email: "cliente@example.com"},
		}
	})
	ps, err := e.apptRepo.ListParticipants(context.Background(), a.ID)
	if err != nil || len(ps) != 2 {
		t.Fatalf("participants = %d, %v", len(ps), err)
	}
	return a, ps
}

func (e *env) sendInvitations(t *testing.T, id string) {
	t.Helper()
	if _, err := e.inv.SendInvitations(context.Background(), e.actor(e.assistant), id); err != nil {
		t.Fatalf("send invitations: %v", err)
	}
}

func TestSendInvitations(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, ps := e.invited(t)
	e.sender.reset()

	sent, err := e.inv.SendInvitations(ctx, e.actor(e.assistant), a.ID)
	if err != nil {
		t.Fatalf("send invitations: %v", err)
	}
	if len(sent) != 2 {
		t.Fatalf("invited = %d, want 2", len(sent))
	}
	stored := e.stored(t, a.ID)
	if stored.Status != appointment.StatusEnviandoConvites || stored.InvitationsSentAt == nil {
		t.Fatalf("stored = %+v", stored)
	}
	for _, p := range ps {
		entry := e.logEntry(t, a.ID, notification.TypeInvitation, app.InvitationKey(p.ID, t0))
		if entry.Status != notification.DeliverySent {
			t.Fatalf("invitation for %s: %s", p.Email, entry.Status)
		}
	}
	// internal participant on both channels, external by email only
	if got := e.sender.count(); got != 3 {
		t.Fatalf("deliveries = %d, want 3", got)
	}
	for _, s := range e.sender.sent {
		if s.ch != notification.ChannelInApp {
			continue
		}
		if len(s.msg.Actions) != 2 || !strings.HasPrefix(s.msg.Actions[0].Data, app.CallbackInviteAccept) {
			t.Fatalf("in-app invitation actions = %+v", s.msg.Actions)
		}
	}

	if _, err := e.inv.SendInvitations(ctx, e.actor(e.assistant), a.ID); !errors.Is(err, appointment.ErrInvalidState) {
		t.Fatalf("resend inside window: err = %v, want invalid state", err)
	}
}

func TestSendInvitationsRequiresParticipants(t *testing.T) {
	e := newEnv(t)
	a := e.book(t, tomorrow, time.Hour)
	_, err := e.inv.SendInvitations(context.Background(), e.actor(e.assistant), a.ID)
	var verr *appointment.ValidationError
	if !errors.As(err, &verr) || !verr.Has("participants", "no participants awaiting an invitation") {
		t.Fatalf("err = %v, want participants validation error", err)
	}
}

func TestAddParticipantsSkipsKnownAddresses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, _ := e.invited(t)

	added, err := e.inv.AddParticipants(ctx, e.actor(e.assistant), a.ID, []app.ParticipantInput{
		{Email: "CLIENTE@example.com"},
		{Email: "perito@example.com"},
	})
	if err != nil {
		t.Fatalf("add participants: %v", err)
	}
	if len(added) != 1 || added[0].Email != "perito@example.com" {
		t.Fatalf("added = %+v", added)
	}
	if _, err := e.inv.AddParticipants(ctx, e.actor(e.lawyer), a.ID, nil); err != nil {
		t.Fatalf("responsible party may manage participants: %v", err)
	}
}

func TestInvitationAggregation(t *testing.T) {
	tests := []struct {
		name     string
		rule     func(*app.InvitationRule)
		answers  []bool // per participant, in order
		want     appointment.Status
		rejected int
	}{
		{
			name:    "all accept approves",
			answers: []bool{true, true},
			want:    appointment.StatusAprovado,
		},
		{
			name:    "one accept is not enough for all",
			answers: []bool{true},
			want:    appointment.StatusEnviandoConvites,
		},
		{
			name:    "quorum of one approves",
			rule:    func(r *app.InvitationRule) { r.Approval = app.ApprovalQuorum; r.Quorum = 1 },
			answers: []bool{true},
			want:    appointment.StatusAprovado,
		},
		{
			name:     "declines in alert mode keep the request open",
			answers:  []bool{false, false},
			want:     appointment.StatusEnviandoConvites,
			rejected: 2,
		},
		{
			name:     "declines in reject mode reject",
			rule:     func(r *app.InvitationRule) { r.OnRejection = app.RejectionReject; r.RejectionThreshold = 1 },
			answers:  []bool{false},
			want:     appointment.StatusRecusado,
			rejected: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []envOption
			if tt.rule != nil {
				opts = append(opts, tt.rule)
			}
			e := newEnv(t, opts...)
			ctx := context.Background()
			a, ps := e.invited(t)
			e.sendInvitations(t, a.ID)
			e.clock.Advance(time.Hour)

			for i, accepted := range tt.answers {
				if err := e.inv.RecordResponse(ctx, a.ID, ps[i].ID, accepted, "agenda cheia"); err != nil {
					t.Fatalf("response %d: %v", i, err)
				}
			}
			stored := e.stored(t, a.ID)
			if stored.Status != tt.want {
				t.Fatalf("status = %s, want %s", stored.Status, tt.want)
			}
			if stored.RejectionCount != tt.rejected {
				t.Fatalf("rejection count = %d, want %d", stored.RejectionCount, tt.rejected)
			}
			if tt.want.Canonical() != appointment.StatusRequested {
				if stored.ApproverID == nil || *stored.ApproverID != app.SystemActor.UserID {
					t.Fatalf("approver = %v, want system", stored.ApproverID)
				}
			}
		})
	}
}

func TestRecordResponseGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("before invitations were sent", func(t *testing.T) {
		e := newEnv(t)
		a, ps := e.invited(t)
		if err := e.inv.RecordResponse(ctx, a.ID, ps[0].ID, true, ""); !errors.Is(err, appointment.ErrInvalidState) {
			t.Fatalf("err = %v, want invalid state", err)
		}
	})

	t.Run("after the window", func(t *testing.T) {
		e := newEnv(t)
		a, ps := e.invited(t)
		e.sendInvitations(t, a.ID)
		e.clock.Advance(25 * time.Hour)
		err := e.inv.RecordResponse(ctx, a.ID, ps[0].ID, true, "")
		var xerr *appointment.ExpiredInvitationError
		if !errors.As(err, &xerr) || !errors.Is(err, appointment.ErrExpiredInvitation) {
			t.Fatalf("err = %v, want ExpiredInvitationError", err)
		}
		if !xerr.ExpiredAt.Equal(t0.Add(24 * time.Hour)) {
			t.Fatalf("expired at = %s", xerr.ExpiredAt)
		}
	})

	t.Run("terminal appointment", func(t *testing.T) {
		e := newEnv(t)
		a, ps := e.invited(t)
		e.sendInvitations(t, a.ID)
		if _, err := e.appts.Cancel(ctx, e.actor(e.assistant), a.ID); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if err := e.inv.RecordResponse(ctx, a.ID, ps[0].ID, true, ""); !errors.Is(err, appointment.ErrInvalidState) {
			t.Fatalf("err = %v, want invalid state", err)
		}
		if p, _ := e.apptRepo.GetParticipant(ctx, ps[0].ID); p.Response != appointment.ResponsePending {
			t.Fatalf("response stored on canceled appointment")
		}
	})

	t.Run("participant of another appointment", func(t *testing.T) {
		e := newEnv(t)
		a, _ := e.invited(t)
		e.sendInvitations(t, a.ID)
		if err := e.inv.RecordResponse(ctx, a.ID, "unknown", true, ""); !errors.Is(err, appointment.ErrParticipantNotFound) {
			t.Fatalf("err = %v, want ErrParticipantNotFound", err)
		}
	})
}

func TestRespondAs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, ps := e.invited(t)
	e.sendInvitations(t, a.ID)

	internal := ps[0]
	if _, err := e.inv.RespondAs(ctx, e.actor(e.lawyer), internal.ID, true, ""); !errors.Is(err, app.ErrNotAuthorized) {
		t.Fatalf("other user: err = %v, want ErrNotAuthorized", err)
	}
	if _, err := e.inv.RespondAs(ctx, e.actor(e.adminUser), ps[1].ID, true, ""); !errors.Is(err, app.ErrNotAuthorized) {
		t.Fatalf("external participant answered through a user: err = %v", err)
	}
	p, err := e.inv.RespondAs(ctx, e.actor(e.adminUser), internal.ID, false, "viagem")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if p.AppointmentID != a.ID {
		t.Fatalf("participant = %+v", p)
	}
	stored, _ := e.apptRepo.GetParticipant(ctx, internal.ID)
	if stored.Response != appointment.ResponseDeclined || stored.Reason == nil || *stored.Reason != "viagem" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestRejectionAlertSentOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, ps := e.invited(t)
	e.sendInvitations(t, a.ID)
	for _, p := range ps {
		if err := e.inv.RecordResponse(ctx, a.ID, p.ID, false, ""); err != nil {
			t.Fatalf("decline: %v", err)
		}
	}
	e.sender.reset()

	res, err := e.rem.RunSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Dispatched != 1 {
		t.Fatalf("result = %+v, want one alert", res)
	}
	if !e.stored(t, a.ID).AdminRejectionNotified {
		t.Fatalf("alert flag not set")
	}
	for _, s := range e.sender.sent {
		if s.to.UserID != e.adminUser.ID {
			t.Fatalf("alert sent to non-admin %s", s.to.UserID)
		}
	}

	res, err = e.rem.RunSweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if res.Scanned != 0 {
		t.Fatalf("second sweep = %+v, want nothing to do", res)
	}
}
