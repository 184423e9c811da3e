package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"legal_agenda/internal/app"
	"legal_agenda/internal/domain/appointment"
	"legal_agenda/internal/domain/notification"
	"legal_agenda/internal/domain/user"
	"legal_agenda/internal/infra/clock"
	"legal_agenda/internal/infra/logger"
	"legal_agenda/internal/infra/memstore"
)

var brt = time.FixedZone("BRT", -3*60*60)

// monday 2026-03-02 08:00 local
var t0 = time.Date(2026, time.March, 2, 8, 0, 0, 0, brt)

type sentMsg struct {
	to notification.Recipient
	ch notification.Channel
	msg notification.Message
}

// fakeSender records deliveries. fail, when set, is consulted before each
// send with the 1-based call number.
type fakeSender struct {
	mu    sync.Mutex
	calls int
	sent  []sentMsg
	fail  func(call int, to notification.Recipient, ch notification.Channel) error
}

func (f *fakeSender) Send(ctx context.Context, to notification.Recipient, ch notification.Channel, msg notification.Message) error {
	f.mu.Lock()
	f.calls++
	n, hook := f.calls, f.fail
	f.mu.Unlock()
	if hook != nil {
		if err := hook(n, to, ch); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentMsg{to: to, ch: ch, msg: msg})
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = 0
	f.sent = nil
	f.fail = nil
}

func (f *fakeSender) setFail(hook func(call int, to notification.Recipient, ch notification.Channel) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = 0
	f.fail = hook
}

type env struct {
	clock  *clock.Manual
	sender *fakeSender

	apptRepo  *memstore.AppointmentRepository
	notifRepo *memstore.NotificationRepository
	userRepo  *memstore.UserRepository

	disp  *app.Dispatcher
	appts *app.AppointmentService
	inv   *app.InvitationService
	rem   *app.ReminderService
	admin *app.AdminService

	adminUser, lawyer, assistant *user.User
}

func (e *env) actor(u *user.User) app.Actor { return app.ActorFor(u) }

type envOption func(*app.InvitationRule)

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	c := clock.NewManual(t0)
	e := &env{
		clock:     c,
		sender:    &fakeSender{},
		apptRepo:  memstore.NewAppointmentRepository(c),
		notifRepo: memstore.NewNotificationRepository(),
		userRepo:  memstore.NewUserRepository(),
	}
	ctx := context.Background()
	mk := func(name, email string, tg int64, role user.Role) *user.User {
		u := &user.User{ID: name, Name: name, Email: email, TelegramID: tg, Role: role, IsActive: true, CreatedAt: t0, UpdatedAt: t0}
		if err := e.userRepo.Create(ctx, u); err != nil {
			t.Fatalf("create user %s: %v", name, err)
		}
		return u
	}
	e.adminUser = mk("ana-admin", "ana@firm.test", 101, user.RoleAdmin)
	e.lawyer = mk("lucas-lawyer", "lucas@firm.test", 102, user.RoleLawyer)
	e.assistant = mk("bia-assistant", "bia@firm.test", 103, user.RoleAssistant)

	log := logger.Discard()
	e.disp = app.NewDispatcher(e.apptRepo, e.notifRepo, e.userRepo, e.sender, e.clock, app.DispatcherOptions{
		MaxAttempts: 3,
		ClaimLease:  5 * time.Minute,
		SendTimeout: time.Second,
		Location:    brt,
	}, log)

	rule := app.DefaultInvitationRule()
	for _, o := range opts {
		o(&rule)
	}
	e.appts = app.NewAppointmentService(e.apptRepo, app.NewConflictDetector(e.apptRepo), app.DefaultSchedulingPolicy(brt), e.disp, e.clock, log)
	e.inv = app.NewInvitationService(e.apptRepo, e.appts, e.disp, rule, e.clock, log)
	e.rem = app.NewReminderService(e.apptRepo, e.appts, e.disp, appointment.DefaultReminderBand, rule.RejectionThreshold, brt, e.clock, log)
	e.admin = app.NewAdminService(e.userRepo, e.apptRepo, e.notifRepo, e.rem, e.clock)
	return e
}

// book creates an appointment for the lawyer's agenda requested by the assistant.
func (e *env) book(t *testing.T, start time.Time, d time.Duration, mods ...func(*app.CreateInput)) *appointment.Appointment {
	t.Helper()
	in := app.CreateInput{
		Title:         "Reunião com cliente",
		StartTime:     start,
		EndTime:       start.Add(d),
		Type:          appointment.TypeMeeting,
		ResponsibleID: e.lawyer.ID,
	}
	for _, m := range mods {
		m(&in)
	}
	a, err := e.appts.Create(context.Background(), e.actor(e.assistant), in)
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return a
}

func (e *env) approve(t *testing.T, id string) *appointment.Appointment {
	t.Helper()
	a, err := e.appts.Approve(context.Background(), e.actor(e.lawyer), id)
	if err != nil {
		t.Fatalf("approve %s: %v", id, err)
	}
	return a
}

func (e *env) logEntry(t *testing.T, id string, typ notification.Type, key string) *notification.LogEntry {
	t.Helper()
	entry, err := e.notifRepo.GetLog(context.Background(), id, typ, key)
	if err != nil {
		t.Fatalf("get log %s/%s/%s: %v", id, typ, key, err)
	}
	return entry
}

func (e *env) stored(t *testing.T, id string) *appointment.Appointment {
	t.Helper()
	a, err := e.apptRepo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get appointment %s: %v", id, err)
	}
	return a
}

func at(hour, minute int) time.Time {
	return time.Date(t0.Year(), t0.Month(), t0.Day(), hour, minute, 0, 0, brt)
}
