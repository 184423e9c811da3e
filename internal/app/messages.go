package app

import (
	"fmt"
	"strings"
	"time"

	"legal_agenda/internal/domain/appointment"
	"legal_agenda/internal/domain/notification"
)

// Callback payload prefixes understood by the Telegram response handlers.
const (
	CallbackInviteAccept  = "inv_yes_"
	CallbackInviteDecline = "inv_no_"
)

var typeLabels = map[appointment.Type]string{
	appointment.TypeMeeting:      "Reunião",
	appointment.TypeHearing:      "Audiência",
	appointment.TypeDeadline:     "Prazo",
	appointment.TypeConsultation: "Atendimento",
	appointment.TypeOther:        "Compromisso",
}

func typeLabel(t appointment.Type) string {
	if l, ok := typeLabels[t]; ok {
		return l
	}
	return "Compromisso"
}

// renderMessage builds the text for one delivery. participantID is only used
// by invitations.
func renderMessage(t notification.Type, a *appointment.Appointment, to notification.Recipient, participantID string, loc *time.Location) notification.Message {
	when := formatWhen(a, loc)
	label := typeLabel(a.Type)
	greeting := "Olá"
	if to.Name != "" {
		greeting = "Olá, " + to.Name
	}

	var subject string
	var body strings.Builder
	var actions []notification.Action

	switch t {
	case notification.TypeApprovalRequest:
		subject = fmt.Sprintf("Aprovação pendente: %s", a.Title)
		fmt.Fprintf(&body, "%s! Há uma solicitação de %s aguardando aprovação.\n", greeting, strings.ToLower(label))
	case notification.TypeApproved:
		subject = fmt.Sprintf("%s aprovada: %s", label, a.Title)
		fmt.Fprintf(&body, "%s! O agendamento foi aprovado.\n", greeting)
	case notification.TypeRejected:
		subject = fmt.Sprintf("%s recusada: %s", label, a.Title)
		fmt.Fprintf(&body, "%s! O agendamento foi recusado.\n", greeting)
		if a.RejectionReason != nil {
			fmt.Fprintf(&body, "Motivo: %s\n", *a.RejectionReason)
		}
	case notification.TypeDailyReminder:
		subject = fmt.Sprintf("Hoje: %s", a.Title)
		fmt.Fprintf(&body, "%s! Lembrete: você tem um compromisso hoje.\n", greeting)
	case notification.TypeHourlyReminder:
		subject = fmt.Sprintf("Em 1 hora: %s", a.Title)
		fmt.Fprintf(&body, "%s! Seu compromisso começa em aproximadamente uma hora.\n", greeting)
	case notification.TypeAdminRejectionAlert:
		subject = fmt.Sprintf("Convites recusados: %s", a.Title)
		fmt.Fprintf(&body, "%s! O agendamento recebeu %d recusas de convite e precisa de atenção.\n", greeting, a.RejectionCount)
	case notification.TypeInvitation:
		subject = fmt.Sprintf("Convite: %s", a.Title)
		fmt.Fprintf(&body, "%s! Você foi convidado(a) para o compromisso abaixo. Por favor, confirme sua presença.\n", greeting)
		actions = []notification.Action{
			{Label: "Aceitar", Data: CallbackInviteAccept + participantID},
			{Label: "Recusar", Data: CallbackInviteDecline + participantID},
		}
	}

	fmt.Fprintf(&body, "\n%s: %s\nQuando: %s\n", label, a.Title, when)
	if a.Location != "" {
		fmt.Fprintf(&body, "Local: %s\n", a.Location)
	}
	if a.Description != "" {
		fmt.Fprintf(&body, "\n%s\n", a.Description)
	}

	return notification.Message{Subject: subject, Body: body.String(), Actions: actions}
}

func formatWhen(a *appointment.Appointment, loc *time.Location) string {
	start, end := a.StartTime, a.EndTime
	if loc != nil {
		start, end = start.In(loc), end.In(loc)
	}
	if appointment.DayKey(start, nil) == appointment.DayKey(end, nil) {
		return fmt.Sprintf("%s, %s às %s", start.Format("02/01/2006"), start.Format("15:04"), end.Format("15:04"))
	}
	return fmt.Sprintf("%s até %s", start.Format("02/01/2006 15:04"), end.Format("02/01/2006 15:04"))
}
