package gateway

import "time"

const (
	backoffBase = 5 * time.Second
	backoffMax  = 60 * time.Second
)

// ReconnectPolicy decides what happens after an abnormal close while the
// session should remain active. Two deployments exist: one redials eagerly
// from the close handler, the other leaves redialing to an external
// keepalive tick calling EnsureConnected.
type ReconnectPolicy interface {
	// NextDelay returns the delay before the session redials on its own.
	// redial=false means the close handler schedules nothing.
	NextDelay(attempt int) (delay time.Duration, redial bool)
}

// ImmediatePolicy redials from the close handler with exponential backoff.
type ImmediatePolicy struct{}

func (ImmediatePolicy) NextDelay(attempt int) (time.Duration, bool) {
	return BackoffDelay(attempt), true
}

// DeferredPolicy never redials on close; an external keepalive tick is
// expected to call Session.EnsureConnected.
type DeferredPolicy struct{}

func (DeferredPolicy) NextDelay(int) (time.Duration, bool) { return 0, false }

// BackoffDelay returns min(base * 2^(attempt-1), max) for attempt >= 1.
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	if d > backoffMax {
		return backoffMax
	}
	return d
}
