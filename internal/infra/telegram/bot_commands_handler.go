// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"legal_agenda/internal/app"
	"legal_agenda/internal/domain/user"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func RegisterBotCommands(
	ctx context.Context,
	b *telebot.Bot,
	users user.Repository,
	baseLogger *logrus.Entry, // For contextual logging
) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		actor, u, err := resolveActor(ctx, users, senderID)
		if err != nil {
			if !errors.Is(err, errUnknownSender) {
				logCtx.WithError(err).Error("Error checking user for /start command")
			}
			return c.Send(replyFor(err))
		}
		if !u.IsActive {
			logCtx.WithField("user_id", u.ID).Info("User identified as inactive")
			return c.Send("Sua conta está inativa. Fale com um administrador.")
		}
		logCtx.WithFields(logrus.Fields{"user_id": u.ID, "role": u.Role}).Info("User identified")
		greeting := fmt.Sprintf("Olá, %s! Vou avisar sobre aprovações, convites e lembretes dos seus compromissos.", u.Name)
		if actor.Perms.Has(app.PermApprove) {
			greeting += " Use /pendentes para ver solicitações aguardando aprovação."
		}
		return c.Send(greeting + " Use /help para a lista de comandos.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		actor, _, err := resolveActor(ctx, users, senderID)
		if err != nil {
			if !errors.Is(err, errUnknownSender) {
				logCtx.WithError(err).Error("Error checking user for /help command")
			}
			return c.Send(replyFor(err))
		}

		var helpText strings.Builder
		helpText.WriteString("Comandos disponíveis:\n\n")
		if actor.Perms.Has(app.PermRequest) {
			helpText.WriteString("`/agendar <responsável> <AAAA-MM-DD> <HH:MM> <minutos> <tipo> <título>`\n - Solicitar um agendamento.\n\n")
			helpText.WriteString("`/convidar <id> <email...>`\n - Adicionar participantes.\n\n")
			helpText.WriteString("`/enviar_convites <id>`\n - Enviar os convites aos participantes.\n\n")
		}
		helpText.WriteString("`/agendamento <id>`\n - Ver os detalhes de um agendamento.\n\n")
		helpText.WriteString("`/cancelar <id>`\n - Cancelar um agendamento seu.\n\n")
		helpText.WriteString("`/reagendar <id> <AAAA-MM-DD> <HH:MM> <minutos>`\n - Pedir um novo horário para um agendamento aprovado.\n\n")
		helpText.WriteString("`/editar <id> <título> [| local]`\n - Alterar título ou local.\n\n")
		helpText.WriteString("`/preferencia <agendamentos|processos|sistema> <email|telegram> <on|off>`\n - Ajustar como você recebe notificações.\n\n")
		if actor.Perms.Has(app.PermApprove) {
			helpText.WriteString("`/pendentes`\n - Listar solicitações aguardando aprovação.\n\n")
			helpText.WriteString("`/aprovar <id>`\n - Aprovar uma solicitação.\n\n")
			helpText.WriteString("`/recusar <id> <motivo>`\n - Recusar uma solicitação informando o motivo.\n\n")
		}
		if actor.Perms.Has(app.PermAdmin) {
			helpText.WriteString("`/varredura`\n - Executar agora a varredura de lembretes.\n\n")
			helpText.WriteString("`/entregas [id]`\n - Ver o status das últimas notificações.\n\n")
			helpText.WriteString("`/lembrete_enviado <id>`\n - Marcar os lembretes de um agendamento como enviados.\n\n")
			helpText.WriteString("`/adicionar_usuario <TelegramID> <papel> <email> <nome>`\n - Cadastrar um usuário.\n\n")
			helpText.WriteString("`/remover_usuario <TelegramID>`\n - Desativar um usuário.\n\n")
		}
		helpText.WriteString("`/help`\n - Mostrar esta mensagem.")
		return c.Send(helpText.String(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})
}
