package transport

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"

	"legal_agenda/internal/domain/notification"

	"github.com/wneessen/go-mail"
)

// SMTPConfig addresses the outgoing mail relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers the email channel through an SMTP relay. Each Send
// dials its own connection, bounded by the caller's context.
type SMTPSender struct {
	from    string
	deliver func(ctx context.Context, m *mail.Msg) error
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client for %s: %w", cfg.Host, err)
	}
	return &SMTPSender{
		from: cfg.From,
		deliver: func(ctx context.Context, m *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, m)
		},
	}, nil
}

func (s *SMTPSender) Send(ctx context.Context, to notification.Recipient, ch notification.Channel, msg notification.Message) error {
	if to.Email == "" {
		return notification.Permanent(ch, errors.New("recipient has no email address"))
	}
	m, err := composeEmail(s.from, to, msg)
	if err != nil {
		return notification.Permanent(ch, err)
	}
	if err := s.deliver(ctx, m); err != nil {
		return classifySMTPError(ch, err)
	}
	return nil
}

// classifySMTPError treats 5xx replies and unusable addresses as permanent.
// Everything else, timeouts included, is transient.
func classifySMTPError(ch notification.Channel, err error) error {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		switch {
		case sendErr.IsTemp():
		case sendErr.ErrorCode() >= 500:
			return notification.Permanent(ch, err)
		case sendErr.Reason == mail.ErrGetSender || sendErr.Reason == mail.ErrGetRcpts:
			return notification.Permanent(ch, err)
		}
		return &notification.TransientDeliveryError{Channel: ch, Err: err}
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return notification.Permanent(ch, err)
	}
	return &notification.TransientDeliveryError{Channel: ch, Err: err}
}

func composeEmail(from string, to notification.Recipient, msg notification.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := m.AddToFormat(to.Name, to.Email); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to.Email, err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()
	body := msg.Body
	if len(msg.Actions) > 0 {
		body += "\n\nResponda pelo bot do Telegram ou pelo sistema.\n"
	}
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}
