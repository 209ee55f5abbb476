package retry

import (
	"fmt"
	"time"
)

// MaxDelaySeconds caps a computed delay so x-message-ttl (milliseconds, a
// 32-bit signed value on the wire) cannot overflow.
const MaxDelaySeconds = 2147483

// Policy is the backoff configuration. It is fixed at startup.
type Policy struct {
	MaxAttempts         int
	InitialDelaySeconds int
	Multiplier          int
}

// DefaultPolicy gives delays of 1s, 2s and 4s before dead-lettering.
var DefaultPolicy = Policy{
	MaxAttempts:         3,
	InitialDelaySeconds: 1,
	Multiplier:          2,
}

// Validate rejects policies that would produce a zero or shrinking delay.
func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("retry policy: max attempts must be >= 0, got %d", p.MaxAttempts)
	}
	if p.InitialDelaySeconds < 1 {
		return fmt.Errorf("retry policy: initial delay must be >= 1s, got %d", p.InitialDelaySeconds)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry policy: multiplier must be >= 1, got %d", p.Multiplier)
	}
	return nil
}

// ComputeDelay returns InitialDelaySeconds * Multiplier^attempt in whole
// seconds, capped at MaxDelaySeconds. Negative attempts are treated as 0.
func (p Policy) ComputeDelay(attempt int) int {
	if attempt < 0 {
		attempt = 0
	}

	delay := p.InitialDelaySeconds
	for i := 0; i < attempt; i++ {
		if delay > MaxDelaySeconds/max(p.Multiplier, 1) {
			return MaxDelaySeconds
		}
		delay *= p.Multiplier
	}

	if delay > MaxDelaySeconds {
		return MaxDelaySeconds
	}
	return delay
}

// Delay is ComputeDelay as a time.Duration.
func (p Policy) Delay(attempt int) time.Duration {
	return time.Duration(p.ComputeDelay(attempt)) * time.Second
}

// CanEscalate reports whether a message that has already been escalated
// attempt times may be escalated again.
func (p Policy) CanEscalate(attempt int) bool {
	return attempt < p.MaxAttempts
}

// Schedule lists the delay for every permitted attempt, in order.
func (p Policy) Schedule() []int {
	out := make([]int, 0, p.MaxAttempts)
	for n := 0; n < p.MaxAttempts; n++ {
		out = append(out, p.ComputeDelay(n))
	}
	return out
}
