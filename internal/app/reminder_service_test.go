package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"legal_agenda/internal/app"
	"legal_agenda/internal/domain/appointment"
	"legal_agenda/internal/domain/notification"
)

func TestSweepSendsEachReminderOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.book(t, at(10, 0), time.Hour)
	e.approve(t, a.ID)
	e.sender.reset()

	steps := []struct {
		name   string
		now    time.Time
		want   app.SweepResult
		totals int // cumulative deliveries; requester and responsible on two channels
	}{
		{"morning sweep sends daily", at(8, 0), app.SweepResult{Scanned: 1, Dispatched: 1}, 4},
		{"one hour before sends hourly", at(9, 0), app.SweepResult{Scanned: 2, Dispatched: 1, Skipped: 1}, 8},
		{"repeat inside band is a no-op", at(9, 10), app.SweepResult{Scanned: 2, Skipped: 2}, 8},
		{"repeat again", at(9, 10), app.SweepResult{Scanned: 2, Skipped: 2}, 8},
	}
	for _, st := range steps {
		t.Run(st.name, func(t *testing.T) {
			e.clock.Set(st.now)
			res, err := e.rem.RunSweep(ctx)
			if err != nil {
				t.Fatalf("sweep: %v", err)
			}
			if res != st.want {
				t.Fatalf("result = %+v, want %+v", res, st.want)
			}
			if got := e.sender.count(); got != st.totals {
				t.Fatalf("deliveries = %d, want %d", got, st.totals)
			}
		})
	}

	daily := e.logEntry(t, a.ID, notification.TypeDailyReminder, "2026-03-02")
	if daily.Status != notification.DeliverySent {
		t.Fatalf("daily status = %s", daily.Status)
	}
}

func TestConcurrentSweepsDeliverOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	soon := e.book(t, at(10, 0), time.Hour)
	e.approve(t, soon.ID)
	later := e.book(t, at(15, 0), time.Hour, func(in *app.CreateInput) { in.Title = "Audiência de instrução" })
	e.approve(t, later.ID)
	e.sender.reset()

	// daily for both, hourly only for the 10:00 one
	e.clock.Set(at(9, 0))
	const workers = 8
	results := make([]app.SweepResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.rem.RunSweep(ctx)
			if err != nil {
				t.Errorf("sweep %d: %v", i, err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	dispatched := 0
	for _, r := range results {
		dispatched += r.Dispatched
		if r.Errors != 0 {
			t.Fatalf("sweep errors: %+v", r)
		}
	}
	if dispatched != 3 {
		t.Fatalf("dispatched = %d across sweeps, want 3", dispatched)
	}

	seen := make(map[string]int)
	for _, s := range e.sender.sent {
		seen[s.msg.Subject+"|"+s.to.UserID+"|"+string(s.ch)]++
	}
	for k, n := range seen {
		if n != 1 {
			t.Errorf("%s delivered %d times", k, n)
		}
	}
	// three notifications, each to requester and responsible on two channels
	if len(seen) != 12 || e.sender.count() != 12 {
		t.Fatalf("distinct = %d total = %d, want 12", len(seen), e.sender.count())
	}
	for _, n := range []struct {
		id  string
		typ notification.Type
		key string
	}{
		{soon.ID, notification.TypeDailyReminder, "2026-03-02"},
		{soon.ID, notification.TypeHourlyReminder, ""},
		{later.ID, notification.TypeDailyReminder, "2026-03-02"},
	} {
		if entry := e.logEntry(t, n.id, n.typ, n.key); entry.Status != notification.DeliverySent || entry.Recipients != 4 {
			t.Fatalf("%s %s entry = %+v", n.id, n.typ, entry)
		}
	}
}

func TestSweepSkipsCanceledAndCompletesEnded(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	canceled := e.book(t, at(10, 0), time.Hour)
	e.approve(t, canceled.ID)
	if _, err := e.appts.Cancel(ctx, e.actor(e.assistant), canceled.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	ended := e.book(t, at(8, 30), 30*time.Minute)
	e.approve(t, ended.ID)
	e.sender.reset()

	e.clock.Set(at(9, 5))
	res, err := e.rem.RunSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Completed != 1 {
		t.Fatalf("completed = %d, want 1", res.Completed)
	}
	if res.Scanned != 0 || e.sender.count() != 0 {
		t.Fatalf("sweep touched canceled or ended appointments: %+v", res)
	}
	if got := e.stored(t, ended.ID).Status; got != appointment.StatusCompleted {
		t.Fatalf("ended status = %s", got)
	}
	if got := e.stored(t, canceled.ID).Status; got != appointment.StatusCanceled {
		t.Fatalf("canceled status = %s", got)
	}
}

func TestSweepOutsideBandSendsNoHourlyReminder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.book(t, at(10, 0), time.Hour)
	e.approve(t, a.ID)

	for _, now := range []time.Time{at(8, 44), at(9, 16)} {
		e.clock.Set(now)
		if _, err := e.rem.RunSweep(ctx); err != nil {
			t.Fatalf("sweep: %v", err)
		}
	}
	if _, err := e.notifRepo.GetLog(ctx, a.ID, notification.TypeHourlyReminder, ""); !errors.Is(err, notification.ErrLogEntryNotFound) {
		t.Fatalf("hourly reminder logged outside band: %v", err)
	}
}

func TestMarkReminderSent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.book(t, at(10, 0), time.Hour)
	e.approve(t, a.ID)
	e.sender.reset()

	if _, err := e.admin.MarkReminderSent(ctx, e.actor(e.lawyer), a.ID); !errors.Is(err, app.ErrNotAuthorized) {
		t.Fatalf("lawyer: err = %v, want ErrNotAuthorized", err)
	}
	n, err := e.admin.MarkReminderSent(ctx, e.actor(e.adminUser), a.ID)
	if err != nil || n != 2 {
		t.Fatalf("MarkReminderSent = %d, %v; want 2", n, err)
	}
	if n, _ := e.admin.MarkReminderSent(ctx, e.actor(e.adminUser), a.ID); n != 0 {
		t.Fatalf("second call marked %d", n)
	}

	e.clock.Set(at(9, 0))
	res, err := e.rem.RunSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Dispatched != 0 || res.Skipped != 2 || e.sender.count() != 0 {
		t.Fatalf("marked reminders delivered: %+v, %d sends", res, e.sender.count())
	}
}
