// Package transport delivers rendered notifications over email and Telegram.
package transport

import (
	"context"
	"fmt"

	"legal_agenda/internal/domain/notification"
)

// Router dispatches each send to the sender registered for its channel.
type Router struct {
	senders map[notification.Channel]notification.Sender
}

func NewRouter() *Router {
	return &Router{senders: make(map[notification.Channel]notification.Sender)}
}

// Register installs s for ch, replacing any previous sender.
func (r *Router) Register(ch notification.Channel, s notification.Sender) *Router {
	r.senders[ch] = s
	return r
}

// Channels lists the channels with a registered sender.
func (r *Router) Channels() []notification.Channel {
	var out []notification.Channel
	for _, ch := range []notification.Channel{notification.ChannelEmail, notification.ChannelInApp} {
		if _, ok := r.senders[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}

func (r *Router) Send(ctx context.Context, to notification.Recipient, ch notification.Channel, msg notification.Message) error {
	s, ok := r.senders[ch]
	if !ok {
		return notification.Permanent(ch, fmt.Errorf("no transport configured for channel %s", ch))
	}
	return s.Send(ctx, to, ch, msg)
}
