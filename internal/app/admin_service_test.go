package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"legal_agenda/internal/app"
	"legal_agenda/internal/domain/appointment"
	"legal_agenda/internal/domain/notification"
	"legal_agenda/internal/domain/user"
)

func TestAdminAddUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	admin := e.actor(e.adminUser)

	tests := []struct {
		name    string
		actor   app.Actor
		tg      int64
		email   string
		role    user.Role
		wantErr error
	}{
		{"creates lawyer", admin, 201, "Nova@Firm.test", user.RoleLawyer, nil},
		{"duplicate telegram id", admin, 102, "", user.RoleLawyer, app.ErrUserAlreadyExists},
		{"unknown role", admin, 202, "", user.Role("intern"), appointment.ErrValidation},
		{"bad email", admin, 203, "nope", user.RoleAssistant, appointment.ErrValidation},
		{"not admin", e.actor(e.lawyer), 204, "", user.RoleAssistant, app.ErrNotAuthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := e.admin.AddUser(ctx, tt.actor, tt.tg, "Nova Pessoa", tt.email, tt.role)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("add user: %v", err)
			}
			if u.Email != "nova@firm.test" || !u.IsActive {
				t.Fatalf("user = %+v", u)
			}
		})
	}
}

func TestAdminDeactivateUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	admin := e.actor(e.adminUser)

	u, err := e.admin.DeactivateUser(ctx, admin, e.lawyer.TelegramID)
	if err != nil || u.IsActive {
		t.Fatalf("deactivate = %+v, %v", u, err)
	}
	if _, err := e.admin.DeactivateUser(ctx, admin, e.lawyer.TelegramID); !errors.Is(err, app.ErrUserAlreadyInactive) {
		t.Fatalf("second deactivate: err = %v", err)
	}
	if _, err := e.admin.DeactivateUser(ctx, admin, 999); !errors.Is(err, user.ErrUserNotFound) {
		t.Fatalf("unknown user: err = %v", err)
	}

	// inactive approvers stop receiving approval requests
	e.sender.reset()
	e.book(t, at(10, 0), time.Hour)
	for _, s := range e.sender.sent {
		if s.to.UserID == e.lawyer.ID {
			t.Fatalf("inactive lawyer notified")
		}
	}
}

func TestAdminListings(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pending := e.book(t, at(10, 0), time.Hour)
	approved := e.book(t, at(14, 0), time.Hour)
	e.approve(t, approved.ID)

	list, err := e.admin.ListPending(ctx, e.actor(e.lawyer))
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(list) != 1 || list[0].ID != pending.ID {
		t.Fatalf("pending = %+v", list)
	}
	if _, err := e.admin.ListPending(ctx, e.actor(e.assistant)); !errors.Is(err, app.ErrNotAuthorized) {
		t.Fatalf("assistant: err = %v", err)
	}

	entries, err := e.admin.ListDeliveries(ctx, e.actor(e.adminUser), notification.LogFilter{AppointmentID: approved.ID})
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want approval_request and approved", len(entries))
	}
	entries, err = e.admin.ListDeliveries(ctx, e.actor(e.adminUser), notification.LogFilter{
		Statuses: []notification.DeliveryStatus{notification.DeliveryError},
	})
	if err != nil || len(entries) != 0 {
		t.Fatalf("error entries = %d, %v", len(entries), err)
	}
	if _, err := e.admin.ListDeliveries(ctx, e.actor(e.lawyer), notification.LogFilter{}); !errors.Is(err, app.ErrNotAuthorized) {
		t.Fatalf("lawyer: err = %v", err)
	}
}

func TestSetPreference(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	pref, err := e.admin.SetPreference(ctx, e.actor(e.assistant), e.assistant.ID, notification.CategoryAppointments, notification.ChannelInApp, false)
	if err != nil {
		t.Fatalf("own preference: %v", err)
	}
	if pref.Enabled(notification.CategoryAppointments, notification.ChannelInApp) || !pref.Enabled(notification.CategoryAppointments, notification.ChannelEmail) {
		t.Fatalf("flags = %+v", pref.Flags)
	}
	if _, err := e.admin.SetPreference(ctx, e.actor(e.assistant), e.lawyer.ID, notification.CategoryAppointments, notification.ChannelEmail, false); !errors.Is(err, app.ErrNotAuthorized) {
		t.Fatalf("other user's preference: err = %v", err)
	}

	// the approved notice now reaches the requester by email only
	a := e.book(t, at(10, 0), time.Hour)
	e.sender.reset()
	e.approve(t, a.ID)
	if got := e.sender.count(); got != 1 || e.sender.sent[0].ch != notification.ChannelEmail {
		t.Fatalf("deliveries = %+v", e.sender.sent)
	}
}
