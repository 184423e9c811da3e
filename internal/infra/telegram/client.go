package telegram

import (
	"fmt"

	"gopkg.in/telebot.v3"
)

// TelebotAdapter is the transport.TelegramClient backed by a running bot.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// SendMessage posts text to the private chat of the user with chatID.
// Link previews are always off.
func (tba *TelebotAdapter) SendMessage(chatID int64, text string, options *telebot.SendOptions) error {
	opts := telebot.SendOptions{}
	if options != nil {
		opts = *options
	}
	opts.DisableWebPagePreview = true

	if _, err := tba.bot.Send(telebot.ChatID(chatID), text, &opts); err != nil {
		return fmt.Errorf("telegram send to chat %d: %w", chatID, err)
	}
	return nil
}
