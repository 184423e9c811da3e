package transport

import (
	"context"

	"legal_agenda/internal/domain/notification"

	"golang.org/x/time/rate"
)

// RateLimited throttles an outbound sender with a token bucket.
type RateLimited struct {
	next    notification.Sender
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond sends on average with bursts up to burst.
// A non-positive perSecond disables the limit.
func NewRateLimited(next notification.Sender, perSecond float64, burst int) *RateLimited {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) Send(ctx context.Context, to notification.Recipient, ch notification.Channel, msg notification.Message) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return &notification.TransientDeliveryError{Channel: ch, Err: err}
	}
	return r.next.Send(ctx, to, ch, msg)
}
