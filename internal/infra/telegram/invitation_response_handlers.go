package telegram

import (
	"context"
	"fmt"
	"strings"

	"legal_agenda/internal/app"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// RegisterInvitationResponseHandlers handles the Aceitar/Recusar buttons
// attached to invitations.
func RegisterInvitationResponseHandlers(ctx context.Context, b *telebot.Bot, svc Services, baseLogger *logrus.Entry) {
	b.Handle(telebot.OnCallback, func(c telebot.Context) error {
		data := c.Callback().Data

		var accepted bool
		var participantID string
		switch {
		case strings.HasPrefix(data, app.CallbackInviteAccept):
			accepted, participantID = true, strings.TrimPrefix(data, app.CallbackInviteAccept)
		case strings.HasPrefix(data, app.CallbackInviteDecline):
			participantID = strings.TrimPrefix(data, app.CallbackInviteDecline)
		default:
			// Fallback for callbacks not produced by invitations.
			c.Bot().OnError(fmt.Errorf("unhandled callback data: %s", data), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Ação desconhecida."})
		}
		if participantID == "" {
			c.Bot().OnError(fmt.Errorf("invalid callback data format: %s", data), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Erro ao processar a resposta."})
		}

		log := baseLogger.WithFields(logrus.Fields{
			"handler":        "invitation_callback",
			"sender_id":      c.Sender().ID,
			"participant_id": participantID,
			"accepted":       accepted,
		})
		actor, _, err := resolveActor(ctx, svc.Users, c.Sender().ID)
		if err != nil {
			log.WithError(err).Warn("Could not resolve sender")
			return c.Respond(&telebot.CallbackResponse{Text: replyFor(err), ShowAlert: true})
		}
		if _, err := svc.Invitations.RespondAs(ctx, actor, participantID, accepted, ""); err != nil {
			log.WithError(err).Warn("Invitation response rejected")
			return c.Respond(&telebot.CallbackResponse{Text: replyFor(err), ShowAlert: true})
		}
		log.Info("Invitation response accepted")

		text := "Presença confirmada!"
		if !accepted {
			text = "Convite recusado."
		}
		return c.Respond(&telebot.CallbackResponse{Text: text})
	})
}
