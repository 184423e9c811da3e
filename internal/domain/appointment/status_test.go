package appointment_test

import (
	"testing"

	"legal_agenda/internal/domain/appointment"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to appointment.Status
		want     bool
	}{
		{appointment.StatusRequested, appointment.StatusApproved, true},
		{appointment.StatusRequested, appointment.StatusRejected, true},
		{appointment.StatusRequested, appointment.StatusCanceled, true},
		{appointment.StatusRequested, appointment.StatusCompleted, false},
		{appointment.StatusRequested, appointment.StatusRescheduled, false},
		{appointment.StatusApproved, appointment.StatusCanceled, true},
		{appointment.StatusApproved, appointment.StatusCompleted, true},
		{appointment.StatusApproved, appointment.StatusRescheduled, true},
		{appointment.StatusApproved, appointment.StatusRejected, false},
		{appointment.StatusApproved, appointment.StatusApproved, false},
		{appointment.StatusRejected, appointment.StatusApproved, false},
		{appointment.StatusCanceled, appointment.StatusApproved, false},
		{appointment.StatusCompleted, appointment.StatusCanceled, false},
		{appointment.StatusRescheduled, appointment.StatusCanceled, false},

		// extended vocabulary follows the canonical table
		{appointment.StatusEmAnalise, appointment.StatusApproved, true},
		{appointment.StatusEnviandoConvites, appointment.StatusAprovado, true},
		{appointment.StatusPendente, appointment.StatusRecusado, true},
		{appointment.StatusConfirmado, appointment.StatusFinalizado, true},
		{appointment.StatusMarcado, appointment.StatusReagendado, true},
		{appointment.StatusRealizado, appointment.StatusCancelado, false},
		{appointment.StatusCancelado, appointment.StatusAprovado, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := appointment.CanTransition(tt.from, tt.to); got != tt.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTargetStatusKeepsVocabulary(t *testing.T) {
	tests := []struct {
		current, target, want appointment.Status
	}{
		{appointment.StatusRequested, appointment.StatusApproved, appointment.StatusApproved},
		{appointment.StatusApproved, appointment.StatusCompleted, appointment.StatusCompleted},
		{appointment.StatusEmAnalise, appointment.StatusApproved, appointment.StatusAprovado},
		{appointment.StatusEnviandoConvites, appointment.StatusRejected, appointment.StatusRecusado},
		{appointment.StatusAgendado, appointment.StatusCanceled, appointment.StatusCancelado},
		{appointment.StatusConfirmado, appointment.StatusCompleted, appointment.StatusFinalizado},
		{appointment.StatusMarcado, appointment.StatusRescheduled, appointment.StatusReagendado},
	}
	for _, tt := range tests {
		if got := appointment.TargetStatus(tt.current, tt.target); got != tt.want {
			t.Errorf("TargetStatus(%s, %s) = %s, want %s", tt.current, tt.target, got, tt.want)
		}
	}
}

func TestStatusClassification(t *testing.T) {
	terminal := []appointment.Status{
		appointment.StatusRejected, appointment.StatusCanceled, appointment.StatusCompleted, appointment.StatusRescheduled,
		appointment.StatusRecusado, appointment.StatusCancelado, appointment.StatusRealizado, appointment.StatusFinalizado, appointment.StatusReagendado,
	}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []appointment.Status{
		appointment.StatusRequested, appointment.StatusApproved, appointment.StatusEmAnalise,
		appointment.StatusPendente, appointment.StatusEnviandoConvites, appointment.StatusAgendado,
	}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if appointment.StatusRequested.Extended() || !appointment.StatusEmAnalise.Extended() {
		t.Errorf("Extended misclassifies vocabularies")
	}
	if appointment.Status("arquivado").Valid() {
		t.Errorf("unknown status reported valid")
	}
}

func TestStatusFilters(t *testing.T) {
	blocking := appointment.BlockingStatuses()
	has := func(list []appointment.Status, s appointment.Status) bool {
		for _, x := range list {
			if x == s {
				return true
			}
		}
		return false
	}
	for _, s := range []appointment.Status{appointment.StatusRequested, appointment.StatusEnviandoConvites, appointment.StatusApproved, appointment.StatusConfirmado} {
		if !has(blocking, s) {
			t.Errorf("%s should block its slot", s)
		}
	}
	for _, s := range []appointment.Status{appointment.StatusCanceled, appointment.StatusRecusado, appointment.StatusCompleted} {
		if has(blocking, s) {
			t.Errorf("%s should not block its slot", s)
		}
	}
	active := appointment.ActiveStatuses()
	if len(active) != 5 || !has(active, appointment.StatusAprovado) || has(active, appointment.StatusRequested) {
		t.Errorf("ActiveStatuses = %v", active)
	}
}
