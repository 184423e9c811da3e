package database

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"legal_agenda/internal/domain/notification"
	"legal_agenda/internal/domain/user"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func TestSchemaStatements(t *testing.T) {
	stmts := schemaStatements()
	if len(stmts) != 9 {
		t.Fatalf("got %d statements, want 9", len(stmts))
	}
	if !strings.HasPrefix(stmts[0], "CREATE TABLE IF NOT EXISTS users") {
		t.Fatalf("first statement = %q", firstLine(stmts[0]))
	}
	for _, s := range stmts {
		if strings.HasPrefix(s, "--") || strings.HasSuffix(s, ";") {
			t.Errorf("statement not cleaned: %q", firstLine(s))
		}
		if !strings.Contains(s, "IF NOT EXISTS") {
			t.Errorf("statement is not idempotent: %q", firstLine(s))
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"matching constraint", &pq.Error{Code: "23505", Constraint: "users_telegram_id_key"}, true},
		{"other constraint", &pq.Error{Code: "23505", Constraint: "notification_log_unique"}, false},
		{"not a unique violation", &pq.Error{Code: "23503", Constraint: "users_telegram_id_key"}, false},
		{"plain error naming it", errors.New(`duplicate key value violates unique constraint "users_telegram_id_key"`), true},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err, "users_telegram_id_key"); got != tt.want {
				t.Fatalf("isUniqueViolation = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestPostgresRoundTrip needs a disposable database in DATABASE_URL.
func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := NewPostgresConnection(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer db.Close()
	for i := 0; i < 2; i++ {
		if err := ApplySchema(ctx, db); err != nil {
			t.Fatalf("ApplySchema run %d: %v", i+1, err)
		}
	}

	users := NewPostgresUserRepository(db)
	tgID := time.Now().UnixNano()
	u := &user.User{ID: uuid.NewString(), Name: "Ana", TelegramID: tgID, Role: user.RoleLawyer, IsActive: true}
	if err := users.Create(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	dup := &user.User{ID: uuid.NewString(), Name: "Bia", TelegramID: tgID, Role: user.RoleAssistant, IsActive: true}
	if err := users.Create(ctx, dup); !errors.Is(err, user.ErrDuplicateTelegramID) {
		t.Fatalf("duplicate telegram id: err = %v", err)
	}

	logs := NewPostgresNotificationRepository(db)
	now := time.Now().UTC().Truncate(time.Microsecond)
	apptID := uuid.NewString()
	entry := func() *notification.LogEntry {
		return &notification.LogEntry{
			ID:            uuid.NewString(),
			AppointmentID: apptID,
			Type:          notification.TypeDailyReminder,
			MetaKey:       "2026-03-02",
			Status:        notification.DeliveryPending,
			ClaimedAt:     now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}
	first, ok, err := logs.InsertLogIfAbsent(ctx, entry())
	if err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	again, ok, err := logs.InsertLogIfAbsent(ctx, entry())
	if err != nil || ok || again.ID != first.ID {
		t.Fatalf("second insert: ok=%v err=%v id=%s", ok, err, again.ID)
	}
	if ok, err := logs.ReclaimLog(ctx, first.ID, now, now.Add(time.Minute)); err != nil || ok {
		t.Fatalf("fresh claim reclaimed: ok=%v err=%v", ok, err)
	}
	if ok, err := logs.ReclaimLog(ctx, first.ID, now.Add(time.Second), now.Add(time.Minute)); err != nil || !ok {
		t.Fatalf("stale claim not reclaimed: ok=%v err=%v", ok, err)
	}
	claim := now.Add(time.Minute)
	if err := logs.RenewClaim(ctx, first.ID, now, claim.Add(time.Second)); !errors.Is(err, notification.ErrClaimLost) {
		t.Fatalf("renew by previous holder: err = %v", err)
	}
	if err := logs.RenewClaim(ctx, first.ID, claim, claim.Add(time.Second)); err != nil {
		t.Fatalf("renew by holder: %v", err)
	}
	claim = claim.Add(time.Second)
	done := entry()
	done.ID = first.ID
	done.Status = notification.DeliverySent
	done.Recipients = 3
	done.SentAt = &claim
	if err := logs.UpdateLog(ctx, done, now); !errors.Is(err, notification.ErrClaimLost) {
		t.Fatalf("update with stale claim: err = %v", err)
	}
	if err := logs.UpdateLog(ctx, done, claim); err != nil {
		t.Fatalf("update by holder: %v", err)
	}
	got, err := logs.GetLog(ctx, apptID, notification.TypeDailyReminder, "2026-03-02")
	if err != nil || got.Status != notification.DeliverySent || got.Recipients != 3 {
		t.Fatalf("GetLog = %+v, %v", got, err)
	}
}
