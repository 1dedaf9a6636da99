package client

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces out deliveries so a burst of due messages does not hit
// the channel all at once. Callers wait before they start the delivery
// timeout, so the spacing never eats into a send's own deadline.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle returns nil when minInterval is not positive. A nil Throttle
// never waits.
func NewThrottle(minInterval time.Duration) *Throttle {
	if minInterval <= 0 {
		return nil
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Every(minInterval), 1)}
}

// Wait blocks until the next send may start or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait: %w", err)
	}
	return nil
}
