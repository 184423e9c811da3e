package telegram

import (
	"context"
	"errors"
	"fmt"

	"legal_agenda/internal/app"
	"legal_agenda/internal/domain/appointment"
	"legal_agenda/internal/domain/user"
)

var errUnknownSender = errors.New("sender is not a registered user")

// resolveActor maps a Telegram sender to the capability set of the matching
// user. This is the only place roles are looked at.
func resolveActor(ctx context.Context, users user.Repository, telegramID int64) (app.Actor, *user.User, error) {
	u, err := users.GetByTelegramID(ctx, telegramID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return app.Actor{}, nil, errUnknownSender
		}
		return app.Actor{}, nil, fmt.Errorf("failed to resolve sender: %w", err)
	}
	return app.ActorFor(u), u, nil
}

// replyFor turns a core error into the text shown to the user.
func replyFor(err error) string {
	var verr *appointment.ValidationError
	var perr *appointment.PolicyError
	var cerr *appointment.ConflictError
	var serr *appointment.InvalidStateError
	var eerr *appointment.ExpiredInvitationError
	switch {
	case errors.Is(err, errUnknownSender):
		return "Você não está cadastrado. Peça a um administrador para adicioná-lo."
	case errors.Is(err, app.ErrNotAuthorized):
		return "Erro: você não tem permissão para executar este comando."
	case errors.Is(err, appointment.ErrNotFound):
		return "Agendamento não encontrado."
	case errors.Is(err, appointment.ErrParticipantNotFound):
		return "Convite não encontrado."
	case errors.As(err, &verr):
		return "Dados inválidos: " + verr.Error()
	case errors.As(err, &perr):
		return "Não permitido pela política de agenda: " + perr.Message
	case errors.As(err, &cerr):
		return "Conflito de agenda: " + cerr.Error()
	case errors.As(err, &serr):
		return fmt.Sprintf("Operação não permitida: o agendamento está com status %s.", serr.Current)
	case errors.As(err, &eerr):
		return "O prazo para responder a este convite expirou."
	default:
		return "Ocorreu um erro. Tente novamente mais tarde."
	}
}
