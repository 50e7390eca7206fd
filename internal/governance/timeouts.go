package governance

import (
	"context"
	"errors"
	"net"
	"time"
)

// ErrRequestTimeout is returned when a call exceeds its deadline.
var ErrRequestTimeout = errors.New("request timeout exceeded")

// DefaultAdapterTimeout bounds adapter calls that configure no timeout.
const DefaultAdapterTimeout = 5 * time.Second

// WithTimeout derives a context bounded by d. A non-positive d falls back to
// DefaultAdapterTimeout. An earlier deadline on parent is kept.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultAdapterTimeout
	}
	return context.WithTimeout(parent, d)
}

// IsTimeout reports whether err was caused by a deadline rather than by the
// remote side failing.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrRequestTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
