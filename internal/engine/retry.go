package engine

import (
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lyzr/workflowcore/internal/model"
)

// computeDelay returns the wait before executing attempt (1-based) of a
// node governed by policy. Attempt 1 always has no delay (spec §4.3.4).
//
// The exponential branch is computed with cenkalti/backoff's
// ExponentialBackOff: its jitter model — the returned interval is
// uniformly distributed in [interval*(1-RandomizationFactor),
// interval*(1+RandomizationFactor)] — is exactly the spec's "[0.5, 1.5]"
// multiplicative jitter when RandomizationFactor is 0.5, which is why this
// is wired to a real dependency rather than hand-rolled.
func computeDelay(policy model.RetryPolicy, attempt int, randFn func() float64) time.Duration {
	if attempt <= 1 {
		return 0
	}

	if !policy.UseExponentialBackoff {
		d := time.Duration(policy.InitialDelayMs) * time.Millisecond
		if policy.UseJitter {
			d = applyJitter(d, randFn)
		}
		return d
	}

	maxInterval := time.Duration(policy.MaxDelayMs) * time.Millisecond
	if policy.MaxDelayMs <= 0 {
		maxInterval = time.Duration(math.MaxInt64) // no cap
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     time.Duration(policy.InitialDelayMs) * time.Millisecond,
		Multiplier:          policy.Multiplier,
		MaxInterval:         maxInterval,
		RandomizationFactor: 0,
		MaxElapsedTime:      0, // never stop backing off based on elapsed time
		Clock:               backoff.SystemClock,
		Stop:                backoff.Stop,
	}
	if policy.UseJitter {
		b.RandomizationFactor = 0.5
	}
	b.Reset()

	var d time.Duration
	for k := 2; k <= attempt; k++ {
		d = b.NextBackOff()
	}
	if policy.MaxDelayMs > 0 && d > time.Duration(policy.MaxDelayMs)*time.Millisecond {
		d = time.Duration(policy.MaxDelayMs) * time.Millisecond
	}
	return d
}

func applyJitter(d time.Duration, randFn func() float64) time.Duration {
	r := rand.Float64
	if randFn != nil {
		r = randFn
	}
	factor := 0.5 + r() // uniform in [0.5, 1.5]
	return time.Duration(float64(d) * factor)
}
