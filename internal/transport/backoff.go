package transport

import "time"

const (
	DefaultInitialDelay = 3 * time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultFactor       = 2
)

// Backoff computes deterministic, capped exponential retry delays.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  int
}

// DefaultBackoff returns 3s doubling up to 30s.
func DefaultBackoff() Backoff {
	return Backoff{Initial: DefaultInitialDelay, Max: DefaultMaxDelay, Factor: DefaultFactor}
}

// Delay returns the wait before retry number attempt (0-based). The
// result is never zero and never exceeds Max.
func (b Backoff) Delay(attempt int) time.Duration {
	initial, maxDelay, factor := b.Initial, b.Max, b.Factor
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	if factor < 1 {
		factor = DefaultFactor
	}

	delay := initial
	for i := 0; i < attempt; i++ {
		if delay >= maxDelay/time.Duration(factor) {
			return maxDelay
		}
		delay *= time.Duration(factor)
	}
	return min(delay, maxDelay)
}
