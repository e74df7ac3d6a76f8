package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 60 * time.Second
)

// Backoff returns the wait before retry n: base·2^n, capped at maxBackoff.
// The schedule is a jitter-free backoff.ExponentialBackOff advanced n+1 times.
func Backoff(retryCount int, base, maxBackoff time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	if retryCount < 0 {
		retryCount = 0
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxBackoff,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	d := b.NextBackOff()
	for i := 0; i < retryCount && d < maxBackoff; i++ {
		d = b.NextBackOff()
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
