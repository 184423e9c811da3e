package notification

import "fmt"

// TransientDeliveryError is a transport failure worth retrying: timeouts,
// connection resets, 5xx-style answers.
type TransientDeliveryError struct {
	Channel Channel
	Err     error
}

func (e *TransientDeliveryError) Error() string {
	return fmt.Sprintf("transient %s delivery failure: %v", e.Channel, e.Err)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// PermanentDeliveryError is a failure that retrying cannot fix, such as a
// recipient without an address on the channel. Also recorded when the retry
// bound is exhausted.
type PermanentDeliveryError struct {
	Channel Channel
	Err     error
}

func (e *PermanentDeliveryError) Error() string {
	return fmt.Sprintf("permanent %s delivery failure: %v", e.Channel, e.Err)
}

func (e *PermanentDeliveryError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentDeliveryError.
func Permanent(ch Channel, err error) error {
	return &PermanentDeliveryError{Channel: ch, Err: err}
}
