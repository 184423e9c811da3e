// Package memstore holds in-memory repositories with the same concurrency
// semantics as the postgres ones. Used for STORE_DRIVER=memory and in tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"legal_agenda/internal/domain/appointment"
	"legal_agenda/internal/infra/clock"
)

type AppointmentRepository struct {
	clock        clock.Clock
	mu           sync.Mutex
	appointments map[string]*appointment.Appointment
	participants map[string]*appointment.Participant
	byAppt       map[string][]string // appointment id -> participant ids, insertion order
}

// NewAppointmentRepository stamps updates with c, or the system time if c is nil.
func NewAppointmentRepository(c clock.Clock) *AppointmentRepository {
	if c == nil {
		c = clock.NewReal(nil)
	}
	return &AppointmentRepository{
		clock:        c,
		appointments: make(map[string]*appointment.Appointment),
		participants: make(map[string]*appointment.Participant),
		byAppt:       make(map[string][]string),
	}
}

func copyAppointment(a *appointment.Appointment) *appointment.Appointment {
	c := *a
	return &c
}

func copyParticipant(p *appointment.Participant) *appointment.Participant {
	c := *p
	return &c
}

// overlapping must be called with mu held.
func (r *AppointmentRepository) overlapping(responsibleID string, rg appointment.Range, excludeID string) []string {
	var ids []string
	for _, a := range r.appointments {
		if a.ID == excludeID || a.ResponsibleID != responsibleID || a.Status.Terminal() {
			continue
		}
		if rg.Overlaps(a.Range()) {
			ids = append(ids, a.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *AppointmentRepository) Create(ctx context.Context, a *appointment.Appointment, participants []*appointment.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ids := r.overlapping(a.ResponsibleID, a.Range(), ""); len(ids) > 0 {
		return &appointment.ConflictError{ConflictingIDs: ids, Reason: "time range overlaps existing appointment"}
	}
	r.appointments[a.ID] = copyAppointment(a)
	r.addParticipantsLocked(a.ID, participants)
	return nil
}

func (r *AppointmentRepository) addParticipantsLocked(appointmentID string, ps []*appointment.Participant) {
	for _, p := range ps {
		r.participants[p.ID] = copyParticipant(p)
		r.byAppt[appointmentID] = append(r.byAppt[appointmentID], p.ID)
	}
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id string) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, appointment.ErrNotFound
	}
	return copyAppointment(a), nil
}

func (r *AppointmentRepository) UpdateStatus(ctx context.Context, id string, expected appointment.Status, upd appointment.StatusUpdate) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, appointment.ErrNotFound
	}
	if a.Status != expected {
		return nil, appointment.ErrStatusMismatch
	}
	a.Status = upd.Status
	if upd.ApproverID != nil {
		a.ApproverID = upd.ApproverID
	}
	if upd.RejectionReason != nil {
		a.RejectionReason = upd.RejectionReason
	}
	if upd.CanceledBy != nil {
		a.CanceledBy = upd.CanceledBy
	}
	if upd.InvitationsSentAt != nil {
		a.InvitationsSentAt = upd.InvitationsSentAt
	}
	if upd.CompletedAt != nil {
		a.CompletedAt = upd.CompletedAt
	}
	a.UpdatedAt = r.clock.Now()
	return copyAppointment(a), nil
}

func (r *AppointmentRepository) UpdateDetails(ctx context.Context, id string, expected appointment.Status, title, description, location string) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, appointment.ErrNotFound
	}
	if a.Status != expected {
		return nil, appointment.ErrStatusMismatch
	}
	a.Title, a.Description, a.Location = title, description, location
	a.UpdatedAt = r.clock.Now()
	return copyAppointment(a), nil
}

func (r *AppointmentRepository) Reschedule(ctx context.Context, id string, expected, closed appointment.Status, next *appointment.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return appointment.ErrNotFound
	}
	if a.Status != expected {
		return appointment.ErrStatusMismatch
	}
	if ids := r.overlapping(next.ResponsibleID, next.Range(), id); len(ids) > 0 {
		return &appointment.ConflictError{ConflictingIDs: ids, Reason: "time range overlaps existing appointment"}
	}
	a.Status = closed
	a.UpdatedAt = r.clock.Now()
	r.appointments[next.ID] = copyAppointment(next)
	return nil
}

func (r *AppointmentRepository) UpdateRejectionCount(ctx context.Context, id string, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return appointment.ErrNotFound
	}
	a.RejectionCount = count
	a.UpdatedAt = r.clock.Now()
	return nil
}

func (r *AppointmentRepository) ListOverlapping(ctx context.Context, responsibleID string, rg appointment.Range, excludeID string) ([]*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*appointment.Appointment
	for _, id := range r.overlapping(responsibleID, rg, excludeID) {
		out = append(out, copyAppointment(r.appointments[id]))
	}
	return out, nil
}

func (r *AppointmentRepository) List(ctx context.Context, f appointment.Filter) ([]*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	statuses := make(map[appointment.Status]bool, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses[s] = true
	}
	var out []*appointment.Appointment
	for _, a := range r.appointments {
		if len(statuses) > 0 && !statuses[a.Status] {
			continue
		}
		if f.ResponsibleID != "" && a.ResponsibleID != f.ResponsibleID {
			continue
		}
		if !f.StartFrom.IsZero() && a.StartTime.Before(f.StartFrom) {
			continue
		}
		if !f.StartTo.IsZero() && !a.StartTime.Before(f.StartTo) {
			continue
		}
		if !f.EndBefore.IsZero() && !a.EndTime.Before(f.EndBefore) {
			continue
		}
		out = append(out, copyAppointment(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func (r *AppointmentRepository) ListRejectionAlertsDue(ctx context.Context, threshold int) ([]*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*appointment.Appointment
	for _, a := range r.appointments {
		if a.Status.Terminal() || a.AdminRejectionNotified || a.RejectionCount < threshold {
			continue
		}
		out = append(out, copyAppointment(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *AppointmentRepository) MarkRejectionAlertSent(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return false, appointment.ErrNotFound
	}
	if a.AdminRejectionNotified {
		return false, nil
	}
	a.AdminRejectionNotified = true
	a.UpdatedAt = r.clock.Now()
	return true, nil
}

func (r *AppointmentRepository) AddParticipants(ctx context.Context, appointmentID string, ps []*appointment.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appointments[appointmentID]; !ok {
		return appointment.ErrNotFound
	}
	r.addParticipantsLocked(appointmentID, ps)
	return nil
}

func (r *AppointmentRepository) ListParticipants(ctx context.Context, appointmentID string) ([]*appointment.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byAppt[appointmentID]
	out := make([]*appointment.Participant, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyParticipant(r.participants[id]))
	}
	return out, nil
}

func (r *AppointmentRepository) GetParticipant(ctx context.Context, id string) (*appointment.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return nil, appointment.ErrParticipantNotFound
	}
	return copyParticipant(p), nil
}

func (r *AppointmentRepository) RecordResponse(ctx context.Context, p *appointment.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.participants[p.ID]
	if !ok {
		return appointment.ErrParticipantNotFound
	}
	a, ok := r.appointments[stored.AppointmentID]
	if !ok {
		return appointment.ErrNotFound
	}
	if a.Status.Terminal() {
		return appointment.ErrStatusMismatch
	}
	stored.Response = p.Response
	stored.Reason = p.Reason
	stored.RespondedAt = p.RespondedAt
	return nil
}
