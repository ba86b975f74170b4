package realtime

import (
	"math"
	"math/rand"
	"time"
)

// reconnector tracks consecutive reconnection attempts and computes the
// backoff before the next one.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	multiplier  float64
	maxAttempts int
	jitter      float64
	attempt     int
	rand        func() float64
}

func newReconnector(policy ReconnectPolicy) *reconnector {
	return &reconnector{
		baseDelay:   policy.BaseDelay,
		maxDelay:    policy.MaxDelay,
		multiplier:  policy.Multiplier,
		maxAttempts: policy.MaxAttempts,
		jitter:      policy.Jitter,
		rand:        rand.Float64,
	}
}

// exhausted reports whether no attempt remains.
func (r *reconnector) exhausted() bool {
	return r.maxAttempts >= 0 && r.attempt >= r.maxAttempts
}

// next counts a new attempt and returns the delay before it runs.
func (r *reconnector) next() time.Duration {
	r.attempt++
	return r.delay(r.attempt)
}

// delay is min(base * multiplier^(attempt-1), max) plus optional jitter,
// still capped at max.
func (r *reconnector) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(r.baseDelay) * math.Pow(r.multiplier, float64(attempt-1))
	if r.jitter > 0 {
		d += r.rand() * d * r.jitter
	}
	return time.Duration(math.Min(d, float64(r.maxDelay)))
}

func (r *reconnector) reset() {
	r.attempt = 0
}
