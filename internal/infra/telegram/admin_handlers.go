package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"legal_agenda/internal/app"
	"legal_agenda/internal/domain/appointment"
	"legal_agenda/internal/domain/notification"
	"legal_agenda/internal/domain/user"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// Services bundles what the command handlers call into.
type Services struct {
	Appointments *app.AppointmentService
	Invitations  *app.InvitationService
	Admin        *app.AdminService
	Users        user.Repository
	Location     *time.Location
}

// commandHandler runs with the resolved actor and a logger carrying the
// handler fields.
type commandHandler func(c telebot.Context, actor app.Actor, log *logrus.Entry) error

func withActor(ctx context.Context, users user.Repository, name string, baseLogger *logrus.Entry, h commandHandler) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   name,
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		actor, _, err := resolveActor(ctx, users, c.Sender().ID)
		if err != nil {
			if errors.Is(err, errUnknownSender) {
				handlerLogger.Warn("Unknown sender")
			} else {
				handlerLogger.WithError(err).Error("Failed to resolve sender")
			}
			return c.Send(replyFor(err))
		}
		return h(c, actor, handlerLogger.WithField("actor_id", actor.UserID))
	}
}

// fail logs err at a level matching its kind and replies to the user.
func fail(c telebot.Context, log *logrus.Entry, err error, what string) error {
	logWithError := log.WithError(err)
	switch {
	case errors.Is(err, app.ErrNotAuthorized):
		logWithError.Warn("Unauthorized access attempt")
	case errors.Is(err, appointment.ErrValidation), errors.Is(err, appointment.ErrConflict),
		errors.Is(err, appointment.ErrInvalidState), errors.Is(err, appointment.ErrNotFound),
		errors.Is(err, appointment.ErrExpiredInvitation), errors.Is(err, appointment.ErrParticipantNotFound):
		logWithError.Warn(what + " rejected")
	default:
		logWithError.Error(what + " failed")
	}
	return c.Send(replyFor(err))
}

// RegisterAdminHandlers registers the approval workflow and admin commands.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, svc Services, baseLogger *logrus.Entry) {
	loc := svc.Location
	if loc == nil {
		loc = time.UTC
	}

	b.Handle("/agendar", withActor(ctx, svc.Users, "/agendar", baseLogger, func(c telebot.Context, actor app.Actor, log *logrus.Entry) error {
		args := c.Args()
		// Expected format: /agendar <responsavel> <AAAA-MM-DD> <HH:MM> <minutos> <tipo> <título...>
		if len(args) < 6 {
			return c.Send("Formato inválido. Use: /agendar <responsável> <AAAA-MM-DD> <HH:MM> <duração em minutos> <tipo> <título>")
		}
		start, end, err := parseSlot(args[1:4], loc)
		if err != nil {
			return c.Send("Erro: data, hora ou duração inválida.")
		}
		a, err := svc.Appointments.Create(ctx, actor, app.CreateInput{
			Title:         strings.Join(args[5:], " "),
			StartTime:     start,
			EndTime:       end,
			Type:          appointment.Type(strings.ToLower(args[4])),
			ResponsibleID: args[0],
		})
		if err != nil {
			return fail(c, log, err, "Create appointment")
		}
		log.WithField("appointment_id", a.ID).Info("Appointment created")
		return c.Send(fmt.Sprintf("Solicitação registrada (%s). Aguardando aprovação.", a.ID))
	}))

	b.Handle("/convidar", withActor(ctx, svc.Users, "/convidar", baseLogger, func(c telebot.Context, actor app.Actor, log *logrus.Entry) error {
		args := c.Args()
		if len(args) < 2 {
			return c.Send("Formato inválido. Use: /convidar <id> <email> [email...]")
		}
		in := make([]app.ParticipantInput, 0, len(args)-1)
		for _, email := range args[1:] {
			in = append(in, app.ParticipantInput{Email: email})
		}
		added, err := svc.Invitations.AddParticipants(ctx, actor, args[0], in)
		if err != nil {
			return fail(c, log.WithField("appointment_id", args[0]), err, "Add participants")
		}
		return c.Send(fmt.Sprintf("%d participante(s) adicionados. Use /enviar_convites %s para enviar os convites.", len(added), args[0]))
	}))

	b.Handle("/enviar_convites", withActor(ctx, svc.Users, "/enviar_convites", baseLogger, func(c telebot.Context, actor app.Actor, log *logrus.Entry) error {
		args := c.Args()
		if len(args) != 1 {
			return c.Send("Formato inválido. Use: /enviar_convites <id>")
		}
		invited, err := svc.Invitations.SendInvitations(ctx, actor, args[0])
		if err != nil {
			return fail(c, log.WithField("appointment_id", args[0]), err, "Send invitations")
		}
		return c.Send(fmt.Sprintf("Convites enviados para %d participante(s).", len(invited)))
	}))

	b.Handle("/pendentes", withActor(ctx, svc.Users, "/pendentes", baseLogger, func(c telebot.Context, actor app.Actor, log *logrus.Entry) error {
		pending, err := svc.Admin.ListPending(ctx, actor)
		if err != nil {
			return fail(c, log, err, "List pending")
		}
		if len(pending) == 0 {
			return c.Send("Nenhuma solicitação aguardando aprovação.")
		}
		log.WithField("pending_count", len(pending)).Info("Pending list retrieved")

		var response strings.Builder
		response.WriteString("--- Solicitações pendentes ---\n")
		for _, a := range pending {
			fmt.Fprintf(&response, "%s\n%s | %s - %s | %s\n\n",
				a.ID, a.Title,
				a.StartTime.In(loc).Format("02/01 15:04"), a.EndTime.In(loc).Format("15:04"),
				a.Status)
		}
		return c.Send(response.String())
	}))

	b.Handle("/aprovar", withActor(ctx, svc.Users, "/aprovar", baseLogger, func(c telebot.Context, actor app.Actor, log *logrus.Entry) error {
		args := c.Args()
		if len(args) != 1 {
			return c.Send("Formato inválido. Use: /aprovar <id>")
		}
		a, err := svc.Appointments.Approve(ctx, actor, args[0])
		if err != nil {
			return fail(c, log.WithField("appointment_id", args[0]), err, "Approve")
		}
		return c.Send(fmt.Sprintf("Agendamento \"%s\" aprovado.", a.Title))
	}))

	b.Handle("/recusar", withActor(ctx, svc.Users, "/recusar", baseLogger, func(c telebot.Context, actor app.Actor, log *logrus.Entry) error {
		args := c.Args()
		if len(args) < 2 {
			return c.Send("Formato inválido. Use: /recusar <id> <motivo>")
		}
		a, err := svc.Appointments.Reject(ctx, actor, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return fail(c, log.WithField("appointment_id", args[0]), err, "Reject")
		}
		return c.Send(fmt.Sprintf("Agendamento \"%s\" recusado.", a.Title))
	}))

	b.Handle("/cancelar", withActor(ctx, svc.Users, "/cancelar", baseLogger, func(c telebot.Context, actor app.Actor, log *logrus.Entry) error {
		args := c.Args()
		if len(args) != 1 {
			return c.Send("Formato inválido. Use: /cancelar <id>")
		}
		a, err := svc.Appointments.Cancel(ctx, actor, args[0])
		if err != nil {
			return fail(c, log.WithField("appointment_id", args[0]), err, "Cancel")
		}
		return c.Send(fmt.Sprintf("Agendamento \"%s\" cancelado.", a.Title))
	}))

	b.Handle("/varredura", withActor(ctx, svc.Users, "/varredura", baseLogger, func(c telebot.Context, actor app.Actor, log *logrus.Entry) error {
		res, err := svc.Admin.RunSweep(ctx, actor)
		if err != nil {
			return fail(c, log, err, "Manual sweep")
		}
		return c.Send(fmt.Sprintf("Varredura concluída: %d verificados, %d enviados, %d ignorados, %d erros, %d concluídos.",
			res.Scanned, res.Dispatched, res.Skipped, res.Errors, res.Completed))
	}))

	b.Handle("/entregas", withActor(ctx, svc.Users, "/entregas", baseLogger, func(c telebot.Context, actor app.Actor, log *logrus.Entry) error {
		var f notification.LogFilter
		if args := c.Args(); len(args) > 0 {
			f.AppointmentID = args[0]
		}
		entries, err := svc.Admin.ListDeliveries(ctx, actor, f)
		if err != nil {
			return fail(c, log, err, "List deliveries")
		}
		if len(entries) == 0 {
			return c.Send("Nenhuma notificação registrada.")
		}
		var response strings.Builder
		response.WriteString("--- Últimas notificações ---\n")
		for _, e := range entries {
			fmt.Fprintf(&response, "%s %s [%s] %s, tentativas: %d, destinatários: %d",
				e.UpdatedAt.In(loc).Format("02/01 15:04"), e.Type, e.MetaKey, e.Status, e.Attempts, e.Recipients)
			if e.Status == notification.DeliveryError && e.LastError != "" {
				fmt.Fprintf(&response, "\n  erro: %s", e.LastError)
			}
			response.WriteString("\n")
		}
		return c.Send(response.String())
	}))

	b.Handle("/lembrete_enviado", withActor(ctx, svc.Users, "/lembrete_enviado", baseLogger, func(c telebot.Context, actor app.Actor, log *logrus.Entry) error {
		args := c.Args()
		if len(args) != 1 {
			return c.Send("Formato inválido. Use: /lembrete_enviado <id>")
		}
		n, err := svc.Admin.MarkReminderSent(ctx, actor, args[0])
		if err != nil {
			return fail(c, log.WithField("appointment_id", args[0]), err, "Mark reminder sent")
		}
		return c.Send(fmt.Sprintf("%d lembrete(s) marcados como enviados.", n))
	}))

	b.Handle("/adicionar_usuario", withActor(ctx, svc.Users, "/adicionar_usuario", baseLogger, func(c telebot.Context, actor app.Actor, log *logrus.Entry) error {
		args := c.Args()
		// Expected format: /adicionar_usuario <TelegramID> <papel> <email> <nome...>
		if len(args) < 4 {
			return c.Send("Formato inválido. Use: /adicionar_usuario <TelegramID> <admin|lawyer|assistant> <email> <nome>")
		}
		telegramID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("Erro: o Telegram ID deve ser um número.")
		}
		u, err := svc.Admin.AddUser(ctx, actor, telegramID, strings.Join(args[3:], " "), args[2], user.Role(strings.ToLower(args[1])))
		if err != nil {
			if errors.Is(err, app.ErrUserAlreadyExists) {
				log.WithError(err).Warn("User already exists")
				return c.Send(fmt.Sprintf("Erro: já existe um usuário com o Telegram ID %d.", telegramID))
			}
			return fail(c, log.WithField("telegram_id", telegramID), err, "Add user")
		}
		log.WithField("new_user_id", u.ID).Info("User added successfully")
		return c.Send(fmt.Sprintf("Usuário %s (%s) cadastrado.", u.Name, u.Role))
	}))

	b.Handle("/remover_usuario", withActor(ctx, svc.Users, "/remover_usuario", baseLogger, func(c telebot.Context, actor app.Actor, log *logrus.Entry) error {
		args := c.Args()
		if len(args) != 1 {
			return c.Send("Formato inválido. Use: /remover_usuario <TelegramID>")
		}
		telegramID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("Erro: o Telegram ID deve ser um número.")
		}
		u, err := svc.Admin.DeactivateUser(ctx, actor, telegramID)
		switch {
		case errors.Is(err, app.ErrUserAlreadyInactive):
			return c.Send(fmt.Sprintf("O usuário %s já estava desativado.", u.Name))
		case errors.Is(err, user.ErrUserNotFound):
			return c.Send(fmt.Sprintf("Usuário com Telegram ID %d não encontrado.", telegramID))
		case err != nil:
			return fail(c, log.WithField("telegram_id", telegramID), err, "Deactivate user")
		}
		log.WithField("removed_user_id", u.ID).Info("User deactivated successfully")
		return c.Send(fmt.Sprintf("Usuário %s desativado.", u.Name))
	}))
}
