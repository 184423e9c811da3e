package notification

import "context"

// Recipient is one resolved addressee.
type Recipient struct {
	UserID     string // empty for external invitees
	Name       string
	Email      string
	TelegramID int64
}

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
	// Actions are optional inline choices offered on interactive channels,
	// encoded as label -> callback payload.
	Actions []Action
}

type Action struct {
	Label string
	Data  string
}

// Sender delivers one message to one recipient on one channel.
type Sender interface {
	Send(ctx context.Context, to Recipient, ch Channel, msg Message) error
}
