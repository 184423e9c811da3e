package transport

import (
	"context"
	"errors"
	"fmt"

	"legal_agenda/internal/domain/notification"

	"gopkg.in/telebot.v3"
)

// TelegramClient sends a text message to a chat. Implemented by the telebot
// adapter in internal/infra/telegram.
type TelegramClient interface {
	SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error
}

// TelegramSender delivers the in-app channel as Telegram direct messages.
type TelegramSender struct {
	client TelegramClient
}

func NewTelegramSender(c TelegramClient) *TelegramSender {
	return &TelegramSender{client: c}
}

func (s *TelegramSender) Send(ctx context.Context, to notification.Recipient, ch notification.Channel, msg notification.Message) error {
	if to.TelegramID == 0 {
		return notification.Permanent(ch, errors.New("recipient has no linked Telegram account"))
	}
	if err := ctx.Err(); err != nil {
		return &notification.TransientDeliveryError{Channel: ch, Err: err}
	}
	text := fmt.Sprintf("*%s*\n\n%s", escapeMarkdown(msg.Subject), escapeMarkdown(msg.Body))
	opts := &telebot.SendOptions{ParseMode: telebot.ModeMarkdown}
	if len(msg.Actions) > 0 {
		row := make([]telebot.InlineButton, 0, len(msg.Actions))
		for _, a := range msg.Actions {
			row = append(row, telebot.InlineButton{Text: a.Label, Data: a.Data})
		}
		opts.ReplyMarkup = &telebot.ReplyMarkup{InlineKeyboard: [][]telebot.InlineButton{row}}
	}
	return classifyTelegramError(ch, s.client.SendMessage(to.TelegramID, text, opts))
}

// classifyTelegramError treats bad requests and forbidden chats (blocked bot,
// unknown chat) as permanent; flood control and network errors are transient.
func classifyTelegramError(ch notification.Channel, err error) error {
	if err == nil {
		return nil
	}
	var tgErr *telebot.Error
	if errors.As(err, &tgErr) && (tgErr.Code == 400 || tgErr.Code == 403) {
		return notification.Permanent(ch, err)
	}
	return &notification.TransientDeliveryError{Channel: ch, Err: err}
}

// escapeMarkdown escapes the characters legacy Markdown treats as markup.
func escapeMarkdown(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '_', '*', '`', '[':
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
