package transport

import (
	"context"

	"legal_agenda/internal/domain/notification"

	"github.com/sirupsen/logrus"
)

// LogSink writes messages to the log instead of delivering them. Registered
// for channels without a configured transport in development.
type LogSink struct {
	logger *logrus.Entry
}

func NewLogSink(logger *logrus.Entry) *LogSink {
	return &LogSink{logger: logger.WithField("component", "log_sink")}
}

func (s *LogSink) Send(ctx context.Context, to notification.Recipient, ch notification.Channel, msg notification.Message) error {
	s.logger.WithFields(logrus.Fields{
		"channel":     ch,
		"user_id":     to.UserID,
		"email":       to.Email,
		"telegram_id": to.TelegramID,
		"subject":     msg.Subject,
		"actions":     len(msg.Actions),
	}).Info("Notification (not delivered)")
	return nil
}
