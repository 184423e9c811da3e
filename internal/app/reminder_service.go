package app

import (
	"context"
	"fmt"
	"time"

	"legal_agenda/internal/domain/appointment"
	"legal_agenda/internal/domain/notification"
	"legal_agenda/internal/infra/clock"

	"github.com/sirupsen/logrus"
)

// ReminderNotifier is a Notifier that also accepts manual overrides.
type ReminderNotifier interface {
	Notifier
	MarkSent(ctx context.Context, appointmentID string, t notification.Type, metaKey, note string) (bool, error)
}

// SweepResult summarizes one RunSweep pass.
type SweepResult struct {
	Scanned    int // (appointment, notification) candidates examined
	Dispatched int
	Skipped    int
	Errors     int
	Completed  int // approved appointments persisted as completed
}

// ReminderService runs the periodic sweep.
type ReminderService struct {
	repo               appointment.Repository
	appts              *AppointmentService
	notifier           ReminderNotifier
	band               appointment.ReminderBand
	rejectionThreshold int
	location           *time.Location
	clock              clock.Clock
	logger             *logrus.Entry
}

func NewReminderService(
	repo appointment.Repository,
	appts *AppointmentService,
	notifier ReminderNotifier,
	band appointment.ReminderBand,
	rejectionThreshold int,
	loc *time.Location,
	c clock.Clock,
	logger *logrus.Entry,
) *ReminderService {
	if loc == nil {
		loc = time.UTC
	}
	return &ReminderService{
		repo:               repo,
		appts:              appts,
		notifier:           notifier,
		band:               band,
		rejectionThreshold: rejectionThreshold,
		location:           loc,
		clock:              c,
		logger:             logger.WithField("component", "reminders"),
	}
}

// RunSweep completes ended appointments, sends due daily and hourly
// reminders and alerts admins about heavily declined invitations. It is safe
// to run any number of times; a failure on one appointment does not stop the
// others. The error return is reserved for failures listing candidates.
func (s *ReminderService) RunSweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.clock.Now().In(s.location)

	completed, err := s.appts.CompleteEnded(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to complete ended appointments")
		res.Errors++
	}
	res.Completed = completed

	_, dayEnd := appointment.DayBounds(now)
	today, err := s.repo.List(ctx, appointment.Filter{
		Statuses:  appointment.ActiveStatuses(),
		StartFrom: now,
		StartTo:   dayEnd,
	})
	if err != nil {
		return res, fmt.Errorf("failed to list today's appointments: %w", err)
	}
	dayKey := appointment.DayKey(now, s.location)
	for _, a := range today {
		if !appointment.IsToday(a.StartTime, now) {
			continue
		}
		s.dispatch(ctx, &res, a.ID, notification.TypeDailyReminder, dayKey)
	}

	soon, err := s.repo.List(ctx, appointment.Filter{
		Statuses:  appointment.ActiveStatuses(),
		StartFrom: now.Add(s.band.Min),
		StartTo:   now.Add(s.band.Max).Add(time.Second),
	})
	if err != nil {
		return res, fmt.Errorf("failed to list upcoming appointments: %w", err)
	}
	for _, a := range soon {
		if !appointment.StartsWithinReminderWindow(a.StartTime, now, s.band) {
			continue
		}
		s.dispatch(ctx, &res, a.ID, notification.TypeHourlyReminder, "")
	}

	alerts, err := s.repo.ListRejectionAlertsDue(ctx, s.rejectionThreshold)
	if err != nil {
		return res, fmt.Errorf("failed to list rejection alerts: %w", err)
	}
	for _, a := range alerts {
		status := s.dispatch(ctx, &res, a.ID, notification.TypeAdminRejectionAlert, "")
		if !status.Final() {
			continue
		}
		if _, err := s.repo.MarkRejectionAlertSent(ctx, a.ID); err != nil {
			s.logger.WithError(err).WithField("appointment_id", a.ID).Error("Failed to flag rejection alert")
			res.Errors++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"scanned":    res.Scanned,
		"dispatched": res.Dispatched,
		"skipped":    res.Skipped,
		"errors":     res.Errors,
		"completed":  res.Completed,
	}).Info("Sweep finished")
	return res, nil
}

// dispatch sends one candidate and accounts for it in res. It returns the
// resulting log status, pending when the outcome is unknown.
func (s *ReminderService) dispatch(ctx context.Context, res *SweepResult, id string, t notification.Type, metaKey string) notification.DeliveryStatus {
	res.Scanned++
	out, err := s.notifier.Dispatch(ctx, id, t, metaKey)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{"appointment_id": id, "type": t}).Error("Sweep dispatch failed")
		res.Errors++
		return notification.DeliveryPending
	}
	if out.Sent {
		res.Dispatched++
	} else {
		res.Skipped++
	}
	return out.Status
}

// MarkReminderSent records both reminders of an appointment as sent without
// delivering them. It returns how many entries were newly written.
func (s *ReminderService) MarkReminderSent(ctx context.Context, id string) (int, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, r := range []struct {
		t   notification.Type
		key string
	}{
		{notification.TypeDailyReminder, appointment.DayKey(a.StartTime, s.location)},
		{notification.TypeHourlyReminder, ""},
	} {
		ok, err := s.notifier.MarkSent(ctx, id, r.t, r.key, "reminder marked as sent by admin")
		if err != nil {
			return marked, err
		}
		if ok {
			marked++
		}
	}
	return marked, nil
}
