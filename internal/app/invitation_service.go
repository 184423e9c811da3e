package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"legal_agenda/internal/domain/appointment"
	"legal_agenda/internal/domain/notification"
	"legal_agenda/internal/infra/clock"

	"github.com/sirupsen/logrus"
)

// ApprovalMode decides when accepted invitations approve the appointment.
type ApprovalMode string

const (
	ApprovalAll    ApprovalMode = "all"    // every participant accepted
	ApprovalQuorum ApprovalMode = "quorum" // at least Quorum accepted
)

// RejectionMode decides what reaching the decline threshold does.
type RejectionMode string

const (
	RejectionAlert  RejectionMode = "alert"  // admins are alerted by the sweep
	RejectionReject RejectionMode = "reject" // appointment is rejected as well
)

// InvitationRule aggregates participant responses.
type InvitationRule struct {
	Window             time.Duration
	Approval           ApprovalMode
	Quorum             int
	RejectionThreshold int
	OnRejection        RejectionMode
}

func DefaultInvitationRule() InvitationRule {
	return InvitationRule{
		Window:             24 * time.Hour,
		Approval:           ApprovalAll,
		RejectionThreshold: 2,
		OnRejection:        RejectionAlert,
	}
}

// approves reports whether t satisfies the acceptance rule.
func (r InvitationRule) approves(t appointment.Tally) bool {
	if t.Total() == 0 {
		return false
	}
	if r.Approval == ApprovalQuorum {
		return t.Accepted >= r.Quorum
	}
	return t.Accepted == t.Total()
}

// InvitationService sends invitations and aggregates the answers.
type InvitationService struct {
	repo     appointment.Repository
	appts    *AppointmentService
	notifier Notifier
	rule     InvitationRule
	clock    clock.Clock
	logger   *logrus.Entry
}

func NewInvitationService(
	repo appointment.Repository,
	appts *AppointmentService,
	notifier Notifier,
	rule InvitationRule,
	c clock.Clock,
	logger *logrus.Entry,
) *InvitationService {
	return &InvitationService{
		repo:     repo,
		appts:    appts,
		notifier: notifier,
		rule:     rule,
		clock:    c,
		logger:   logger.WithField("component", "invitations"),
	}
}

// AddParticipants invites more people to a non-terminal appointment.
// Addresses already on the list are ignored.
func (s *InvitationService) AddParticipants(ctx context.Context, actor Actor, id string, in []ParticipantInput) ([]*appointment.Participant, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, a) {
		return nil, ErrNotAuthorized
	}
	now := s.clock.Now()
	if status := a.EffectiveStatus(now); status.Terminal() {
		return nil, &appointment.InvalidStateError{ID: id, Current: status, Operation: "add participants"}
	}

	candidates, err := buildParticipants(id, in, now)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.ListParticipants(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, p := range existing {
		known[strings.ToLower(p.Email)] = true
	}
	added := make([]*appointment.Participant, 0, len(candidates))
	for _, p := range candidates {
		if !known[p.Email] {
			added = append(added, p)
		}
	}
	if len(added) == 0 {
		return nil, nil
	}
	if err := s.repo.AddParticipants(ctx, id, added); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"appointment_id": id, "added": len(added)}).Info("Participants added")
	return added, nil
}

// SendInvitations moves a requested appointment into the invitations
// outstanding sub-state and sends one invitation per pending participant.
func (s *InvitationService) SendInvitations(ctx context.Context, actor Actor, id string) ([]*appointment.Participant, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, a) {
		return nil, ErrNotAuthorized
	}
	now := s.clock.Now()
	status := a.EffectiveStatus(now)
	if !status.IsRequested() {
		return nil, &appointment.InvalidStateError{ID: id, Current: status, Operation: "send invitations"}
	}
	if a.InvitationsSentAt != nil && now.Before(a.InvitationsSentAt.Add(s.rule.Window)) {
		return nil, &appointment.InvalidStateError{ID: id, Current: status, Operation: "send invitations while previous ones are open"}
	}

	participants, err := s.repo.ListParticipants(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	var pending []*appointment.Participant
	for _, p := range participants {
		if p.Response == appointment.ResponsePending {
			pending = append(pending, p)
		}
	}
	if len(pending) == 0 {
		verr := &appointment.ValidationError{}
		verr.Add("participants", "no participants awaiting an invitation")
		return nil, verr
	}

	_, err = s.repo.UpdateStatus(ctx, id, a.Status, appointment.StatusUpdate{
		Status:            appointment.StatusEnviandoConvites,
		InvitationsSentAt: &now,
	})
	if err != nil {
		if errors.Is(err, appointment.ErrStatusMismatch) {
			return nil, &appointment.ConflictError{Reason: "appointment changed while sending invitations, retry"}
		}
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"appointment_id": id, "participants": len(pending)}).Info("Sending invitations")

	for _, p := range pending {
		key := InvitationKey(p.ID, now)
		res, err := s.notifier.Dispatch(ctx, id, notification.TypeInvitation, key)
		log := s.logger.WithFields(logrus.Fields{"appointment_id": id, "participant_id": p.ID})
		if err != nil {
			log.WithError(err).Error("Invitation dispatch failed")
			continue
		}
		if !res.Sent {
			log.WithFields(logrus.Fields{"skipped": res.SkippedReason, "status": res.Status}).Warn("Invitation not delivered")
		}
	}
	return pending, nil
}

// RecordResponse stores a participant's answer and applies the aggregation
// rule to the appointment.
func (s *InvitationService) RecordResponse(ctx context.Context, id, participantID string, accepted bool, reason string) error {
	p, err := s.repo.GetParticipant(ctx, participantID)
	if err != nil {
		return err
	}
	if p.AppointmentID != id {
		return appointment.ErrParticipantNotFound
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	if status := a.EffectiveStatus(now); status.Terminal() {
		return &appointment.InvalidStateError{ID: id, Current: status, Operation: "respond to invitation"}
	}
	if a.InvitationsSentAt == nil {
		return &appointment.InvalidStateError{ID: id, Current: a.Status, Operation: "respond before invitations were sent"}
	}
	if expiry := a.InvitationsSentAt.Add(s.rule.Window); now.After(expiry) {
		return &appointment.ExpiredInvitationError{ParticipantID: participantID, ExpiredAt: expiry}
	}

	p.Response = appointment.ResponseDeclined
	if accepted {
		p.Response = appointment.ResponseAccepted
	}
	p.Reason = nil
	if r := strings.TrimSpace(reason); r != "" {
		p.Reason = &r
	}
	p.RespondedAt = &now
	if err := s.repo.RecordResponse(ctx, p); err != nil {
		if errors.Is(err, appointment.ErrStatusMismatch) {
			latest, gerr := s.repo.GetByID(ctx, id)
			if gerr != nil {
				return gerr
			}
			return &appointment.InvalidStateError{ID: id, Current: latest.EffectiveStatus(now), Operation: "respond to invitation"}
		}
		return err
	}

	log := s.logger.WithFields(logrus.Fields{"appointment_id": id, "participant_id": participantID, "accepted": accepted})
	log.Info("Invitation response recorded")

	participants, err := s.repo.ListParticipants(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list participants: %w", err)
	}
	tally := appointment.TallyResponses(participants)
	if tally.Declined != a.RejectionCount {
		if err := s.repo.UpdateRejectionCount(ctx, id, tally.Declined); err != nil {
			return fmt.Errorf("failed to update rejection count: %w", err)
		}
	}

	switch {
	case tally.Declined >= s.rule.RejectionThreshold:
		if s.rule.OnRejection != RejectionReject {
			return nil // the sweep alerts admins
		}
		_, err = s.appts.Reject(ctx, SystemActor, id, fmt.Sprintf("%d participants declined the invitation", tally.Declined))
	case s.rule.approves(tally):
		_, err = s.appts.Approve(ctx, SystemActor, id)
	default:
		return nil
	}
	// Another response may have closed the appointment first.
	if errors.Is(err, appointment.ErrInvalidState) || errors.Is(err, appointment.ErrConflict) {
		log.WithError(err).Debug("Aggregated transition already applied")
		return nil
	}
	return err
}

// RespondAs records the answer of the participant linked to actor. Used by
// interactive channels where only the participant id travels with the reply.
func (s *InvitationService) RespondAs(ctx context.Context, actor Actor, participantID string, accepted bool, reason string) (*appointment.Participant, error) {
	p, err := s.repo.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if p.UserID == nil || *p.UserID != actor.UserID {
		return nil, ErrNotAuthorized
	}
	if err := s.RecordResponse(ctx, p.AppointmentID, p.ID, accepted, reason); err != nil {
		return nil, err
	}
	return p, nil
}

// canManage reports whether actor may change participants of a.
func canManage(actor Actor, a *appointment.Appointment) bool {
	if actor.Perms.Has(PermAdmin) {
		return true
	}
	return actor.Perms.Has(PermRequest) && (actor.UserID == a.RequesterID || actor.UserID == a.ResponsibleID)
}
