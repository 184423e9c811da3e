package appointment

import "sort"

// Status is the persisted lifecycle state of an appointment.
// Process-linked appointments use the extended operational vocabulary;
// every extended value maps onto one canonical state.
type Status string

const (
	StatusRequested   Status = "requested"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusCanceled    Status = "canceled"
	StatusCompleted   Status = "completed"
	StatusRescheduled Status = "rescheduled"

	StatusEmAnalise        Status = "em_analise"
	StatusPendente         Status = "pendente"
	StatusEnviandoConvites Status = "enviando_convites" // invitations outstanding, still requested
	StatusAgendado         Status = "agendado"
	StatusMarcado          Status = "marcado"
	StatusConfirmado       Status = "confirmado"
	StatusAprovado         Status = "aprovado"
	StatusRecusado         Status = "recusado"
	StatusRealizado        Status = "realizado"
	StatusFinalizado       Status = "finalizado"
	StatusCancelado        Status = "cancelado"
	StatusReagendado       Status = "reagendado"
)

var canonical = map[Status]Status{
	StatusRequested:   StatusRequested,
	StatusApproved:    StatusApproved,
	StatusRejected:    StatusRejected,
	StatusCanceled:    StatusCanceled,
	StatusCompleted:   StatusCompleted,
	StatusRescheduled: StatusRescheduled,

	StatusEmAnalise:        StatusRequested,
	StatusPendente:         StatusRequested,
	StatusEnviandoConvites: StatusRequested,
	StatusAgendado:         StatusApproved,
	StatusMarcado:          StatusApproved,
	StatusConfirmado:       StatusApproved,
	StatusAprovado:         StatusApproved,
	StatusRecusado:         StatusRejected,
	StatusRealizado:        StatusCompleted,
	StatusFinalizado:       StatusCompleted,
	StatusCancelado:        StatusCanceled,
	StatusReagendado:       StatusRescheduled,
}

// extended counterparts written when the current status already uses the
// extended vocabulary.
var extendedTarget = map[Status]Status{
	StatusApproved:    StatusAprovado,
	StatusRejected:    StatusRecusado,
	StatusCanceled:    StatusCancelado,
	StatusCompleted:   StatusFinalizado,
	StatusRescheduled: StatusReagendado,
}

// transitions is the canonical state machine.
var transitions = map[Status][]Status{
	StatusRequested: {StatusApproved, StatusRejected, StatusCanceled},
	StatusApproved:  {StatusCanceled, StatusCompleted, StatusRescheduled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := canonical[s]
	return ok
}

// Canonical maps s onto the simple workflow vocabulary.
// Unknown values map to themselves.
func (s Status) Canonical() Status {
	if c, ok := canonical[s]; ok {
		return c
	}
	return s
}

// Extended reports whether s belongs to the process-linked vocabulary.
func (s Status) Extended() bool {
	return s.Valid() && canonical[s] != s
}

func (s Status) IsRequested() bool { return s.Canonical() == StatusRequested }
func (s Status) IsApproved() bool  { return s.Canonical() == StatusApproved }

// Terminal reports whether no further transition is legal from s.
func (s Status) Terminal() bool {
	_, ok := transitions[s.Canonical()]
	return !ok
}

// CanTransition reports whether the canonical table allows from -> to.
// Both arguments may use either vocabulary.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from.Canonical()] {
		if next == to.Canonical() {
			return true
		}
	}
	return false
}

// TargetStatus returns the value to persist when moving from current to the
// canonical target, keeping the vocabulary the appointment already uses.
func TargetStatus(current, target Status) Status {
	target = target.Canonical()
	if current.Extended() {
		if ext, ok := extendedTarget[target]; ok {
			return ext
		}
	}
	return target
}

// StatusesOf returns every persisted status whose canonical form is one of cs.
// Used to build store filters.
func StatusesOf(cs ...Status) []Status {
	out := make([]Status, 0, len(canonical))
	for s, c := range canonical {
		for _, want := range cs {
			if c == want {
				out = append(out, s)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BlockingStatuses are the statuses that occupy a time slot for conflict checks.
func BlockingStatuses() []Status {
	return StatusesOf(StatusRequested, StatusApproved)
}

// ActiveStatuses are the approved-equivalent statuses eligible for reminders.
func ActiveStatuses() []Status {
	return StatusesOf(StatusApproved)
}
