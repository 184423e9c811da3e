package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"legal_agenda/internal/domain/appointment"
	"legal_agenda/internal/domain/notification"
	"legal_agenda/internal/infra/clock"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Notifier is the part of the dispatcher the workflow services depend on.
type Notifier interface {
	Dispatch(ctx context.Context, appointmentID string, t notification.Type, metaKey string) (DispatchResult, error)
}

// CreateInput is the request to book a new appointment.
type CreateInput struct {
	Title         string
	Description   string
	Location      string
	StartTime     time.Time
	EndTime       time.Time
	Type          appointment.Type
	ResponsibleID string
	ProcessID     string
	Participants  []ParticipantInput
}

// ParticipantInput invites a known user (UserID set) or an external email.
type ParticipantInput struct {
	UserID string
	Email  string
}

// DetailsInput carries the administratively editable fields.
type DetailsInput struct {
	Title       string
	Description string
	Location    string
}

// AppointmentService owns the appointment state machine.
type AppointmentService struct {
	repo     appointment.Repository
	detector *ConflictDetector
	policy   SchedulingPolicy
	notifier Notifier
	clock    clock.Clock
	logger   *logrus.Entry
}

func NewAppointmentService(
	repo appointment.Repository,
	detector *ConflictDetector,
	policy SchedulingPolicy,
	notifier Notifier,
	c clock.Clock,
	logger *logrus.Entry,
) *AppointmentService {
	return &AppointmentService{
		repo:     repo,
		detector: detector,
		policy:   policy,
		notifier: notifier,
		clock:    c,
		logger:   logger.WithField("component", "appointments"),
	}
}

// Create validates and books a new appointment in its initial state, then
// requests approval.
func (s *AppointmentService) Create(ctx context.Context, actor Actor, in CreateInput) (*appointment.Appointment, error) {
	if !actor.Perms.Has(PermRequest) {
		return nil, ErrNotAuthorized
	}
	now := s.clock.Now()

	a := &appointment.Appointment{
		ID:            uuid.NewString(),
		Title:         strings.TrimSpace(in.Title),
		Description:   strings.TrimSpace(in.Description),
		Location:      strings.TrimSpace(in.Location),
		StartTime:     in.StartTime,
		EndTime:       in.EndTime,
		Status:        appointment.StatusRequested,
		Type:          in.Type,
		RequesterID:   actor.UserID,
		ResponsibleID: in.ResponsibleID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if a.Type == "" {
		a.Type = appointment.TypeMeeting
	}
	if in.ProcessID != "" {
		pid := in.ProcessID
		a.ProcessID = &pid
		a.Status = appointment.StatusEmAnalise
	}
	if err := a.Validate(now); err != nil {
		return nil, err
	}
	participants, err := buildParticipants(a.ID, in.Participants, now)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Check(a.Type, a.StartTime); err != nil {
		return nil, err
	}

	res, err := s.detector.Check(ctx, a.Range(), a.ResponsibleID, "")
	if err != nil {
		return nil, err
	}
	if res.Conflict {
		return nil, res.Err()
	}

	// The store repeats the overlap check under a per-party lock; a racing
	// booking that got there first surfaces here as *ConflictError.
	if err := s.repo.Create(ctx, a, participants); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"appointment_id": a.ID,
		"responsible_id": a.ResponsibleID,
		"status":         a.Status,
	}).Info("Appointment requested")

	s.notify(ctx, a.ID, notification.TypeApprovalRequest, "")
	return a, nil
}

func buildParticipants(appointmentID string, in []ParticipantInput, now time.Time) ([]*appointment.Participant, error) {
	out := make([]*appointment.Participant, 0, len(in))
	seen := make(map[string]bool)
	for _, pin := range in {
		email, err := appointment.NormalizeEmail(pin.Email)
		if err != nil {
			return nil, err
		}
		if seen[email] {
			continue
		}
		seen[email] = true
		p := &appointment.Participant{
			ID:            uuid.NewString(),
			AppointmentID: appointmentID,
			Email:         email,
			Response:      appointment.ResponsePending,
			CreatedAt:     now,
		}
		if pin.UserID != "" {
			uid := pin.UserID
			p.UserID = &uid
		}
		out = append(out, p)
	}
	return out, nil
}

// Get returns the appointment with completion derived from the clock.
func (s *AppointmentService) Get(ctx context.Context, id string) (*appointment.Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Status = a.EffectiveStatus(s.clock.Now())
	return a, nil
}

// Approve moves a requested appointment to approved.
func (s *AppointmentService) Approve(ctx context.Context, actor Actor, id string) (*appointment.Appointment, error) {
	if !actor.Perms.Has(PermApprove) {
		return nil, ErrNotAuthorized
	}
	approver := actor.UserID
	a, err := s.transition(ctx, id, "approve", appointment.StatusApproved, func(upd *appointment.StatusUpdate) {
		upd.ApproverID = &approver
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"appointment_id": id, "approver_id": approver}).Info("Appointment approved")
	s.notify(ctx, a.ID, notification.TypeApproved, "")
	return a, nil
}

// Reject moves a requested appointment to rejected. reason is mandatory.
func (s *AppointmentService) Reject(ctx context.Context, actor Actor, id, reason string) (*appointment.Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		verr := &appointment.ValidationError{}
		verr.Add("reason", "rejection reason is required")
		return nil, verr
	}
	if !actor.Perms.Has(PermApprove) {
		return nil, ErrNotAuthorized
	}
	approver := actor.UserID
	a, err := s.transition(ctx, id, "reject", appointment.StatusRejected, func(upd *appointment.StatusUpdate) {
		upd.ApproverID = &approver
		upd.RejectionReason = &reason
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"appointment_id": id, "approver_id": approver}).Info("Appointment rejected")
	s.notify(ctx, a.ID, notification.TypeRejected, "")
	return a, nil
}

// Cancel closes a non-terminal appointment. Allowed for the requester, the
// responsible party and admins.
func (s *AppointmentService) Cancel(ctx context.Context, actor Actor, id string) (*appointment.Appointment, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Perms.Has(PermAdmin) && actor.UserID != current.RequesterID && actor.UserID != current.ResponsibleID {
		return nil, ErrNotAuthorized
	}
	by := actor.UserID
	a, err := s.transition(ctx, id, "cancel", appointment.StatusCanceled, func(upd *appointment.StatusUpdate) {
		upd.CanceledBy = &by
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"appointment_id": id, "canceled_by": by}).Info("Appointment canceled")
	return a, nil
}

// Reschedule closes an approved appointment and opens a new requested one for
// the new range, linked back to the closed row.
func (s *AppointmentService) Reschedule(ctx context.Context, actor Actor, id string, start, end time.Time) (*appointment.Appointment, error) {
	if !actor.Perms.Has(PermRequest) {
		return nil, ErrNotAuthorized
	}
	now := s.clock.Now()
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Perms.Has(PermAdmin) && actor.UserID != current.RequesterID && actor.UserID != current.ResponsibleID {
		return nil, ErrNotAuthorized
	}
	effective := current.EffectiveStatus(now)
	if !appointment.CanTransition(effective, appointment.StatusRescheduled) {
		return nil, &appointment.InvalidStateError{ID: id, Current: effective, Operation: "reschedule"}
	}

	next := &appointment.Appointment{
		ID:                uuid.NewString(),
		Title:             current.Title,
		Description:       current.Description,
		Location:          current.Location,
		StartTime:         start,
		EndTime:           end,
		Status:            appointment.StatusRequested,
		Type:              current.Type,
		RequesterID:       actor.UserID,
		ResponsibleID:     current.ResponsibleID,
		ProcessID:         current.ProcessID,
		RescheduledFromID: &current.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if current.Status.Extended() {
		next.Status = appointment.StatusEmAnalise
	}
	if err := next.Validate(now); err != nil {
		return nil, err
	}
	if err := s.policy.Check(next.Type, next.StartTime); err != nil {
		return nil, err
	}
	res, err := s.detector.Check(ctx, next.Range(), next.ResponsibleID, current.ID)
	if err != nil {
		return nil, err
	}
	if res.Conflict {
		return nil, res.Err()
	}

	closed := appointment.TargetStatus(current.Status, appointment.StatusRescheduled)
	if err := s.repo.Reschedule(ctx, current.ID, current.Status, closed, next); err != nil {
		if errors.Is(err, appointment.ErrStatusMismatch) {
			return nil, s.raceError(ctx, id, "reschedule", appointment.StatusRescheduled)
		}
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"appointment_id": current.ID, "new_appointment_id": next.ID}).Info("Appointment rescheduled")
	s.notify(ctx, next.ID, notification.TypeApprovalRequest, "")
	return next, nil
}

// UpdateDetails edits title, description and location of a non-terminal
// appointment.
func (s *AppointmentService) UpdateDetails(ctx context.Context, actor Actor, id string, in DetailsInput) (*appointment.Appointment, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Perms.Has(PermAdmin) && actor.UserID != current.RequesterID {
		return nil, ErrNotAuthorized
	}
	status := current.EffectiveStatus(s.clock.Now())
	if status.Terminal() {
		return nil, &appointment.InvalidStateError{ID: id, Current: status, Operation: "edit"}
	}
	title := strings.TrimSpace(in.Title)
	verr := &appointment.ValidationError{}
	switch {
	case title == "":
		verr.Add("title", "title is required")
	case utf8.RuneCountInString(title) > appointment.MaxTitleLength:
		verr.Add("title", "title is too long")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	a, err := s.repo.UpdateDetails(ctx, id, current.Status, title, strings.TrimSpace(in.Description), strings.TrimSpace(in.Location))
	if err != nil {
		if errors.Is(err, appointment.ErrStatusMismatch) {
			return nil, &appointment.ConflictError{Reason: "appointment changed concurrently, reload and retry"}
		}
		return nil, err
	}
	return a, nil
}

// CompleteEnded persists approved -> completed for appointments whose end has
// passed. Returns the number of rows moved.
func (s *AppointmentService) CompleteEnded(ctx context.Context) (int, error) {
	now := s.clock.Now()
	ended, err := s.repo.List(ctx, appointment.Filter{
		Statuses:  appointment.ActiveStatuses(),
		EndBefore: now,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list ended appointments: %w", err)
	}
	completed := 0
	for _, a := range ended {
		_, err := s.repo.UpdateStatus(ctx, a.ID, a.Status, appointment.StatusUpdate{
			Status:      appointment.TargetStatus(a.Status, appointment.StatusCompleted),
			CompletedAt: &now,
		})
		if errors.Is(err, appointment.ErrStatusMismatch) {
			continue // canceled or completed by someone else meanwhile
		}
		if err != nil {
			s.logger.WithError(err).WithField("appointment_id", a.ID).Error("Failed to mark appointment completed")
			continue
		}
		completed++
	}
	return completed, nil
}

// transition applies one guarded state change with optimistic concurrency.
func (s *AppointmentService) transition(ctx context.Context, id, op string, target appointment.Status, fill func(*appointment.StatusUpdate)) (*appointment.Appointment, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	effective := current.EffectiveStatus(s.clock.Now())
	if !appointment.CanTransition(effective, target) {
		return nil, &appointment.InvalidStateError{ID: id, Current: effective, Operation: op}
	}
	upd := appointment.StatusUpdate{Status: appointment.TargetStatus(current.Status, target)}
	fill(&upd)
	a, err := s.repo.UpdateStatus(ctx, id, current.Status, upd)
	if err != nil {
		if errors.Is(err, appointment.ErrStatusMismatch) {
			return nil, s.raceError(ctx, id, op, target)
		}
		return nil, err
	}
	return a, nil
}

// raceError explains a lost conditional update: InvalidStateError when the
// winner made the transition illegal, ConflictError otherwise.
func (s *AppointmentService) raceError(ctx context.Context, id, op string, target appointment.Status) error {
	latest, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return &appointment.ConflictError{Reason: "appointment changed concurrently"}
	}
	effective := latest.EffectiveStatus(s.clock.Now())
	if !appointment.CanTransition(effective, target) {
		return &appointment.InvalidStateError{ID: id, Current: effective, Operation: op}
	}
	return &appointment.ConflictError{Reason: "appointment changed concurrently, retry"}
}

// notify dispatches best-effort; delivery problems never fail the workflow.
func (s *AppointmentService) notify(ctx context.Context, id string, t notification.Type, metaKey string) {
	if s.notifier == nil {
		return
	}
	res, err := s.notifier.Dispatch(ctx, id, t, metaKey)
	log := s.logger.WithFields(logrus.Fields{"appointment_id": id, "type": t})
	if err != nil {
		log.WithError(err).Error("Notification dispatch failed")
		return
	}
	if !res.Sent {
		log.WithFields(logrus.Fields{"skipped": res.SkippedReason, "status": res.Status}).Debug("Notification not sent")
	}
}
