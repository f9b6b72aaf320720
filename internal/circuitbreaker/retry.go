package circuitbreaker

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy controls per-call retry behavior. The delay schedule is
// fixed-length: one entry per attempt after the first.
type RetryPolicy struct {
	MaxAttempts   int
	Delays        []time.Duration
	JitterFactor  float64       // fraction of the delay added as random jitter
	MaxTotalDelay time.Duration // hard cap on cumulative sleep across attempts
}

// DefaultRetryPolicy returns the retry schedule applied to external calls:
// up to 4 attempts with 0s, 1s, 2s, 4s backoff plus jitter, capped at 60s
// of total delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   4,
		Delays:        []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second},
		JitterFactor:  0.5,
		MaxTotalDelay: 60 * time.Second,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if attempt < 0 || attempt >= len(p.Delays) {
		if len(p.Delays) == 0 {
			return 0
		}
		attempt = len(p.Delays) - 1
	}
	d := p.Delays[attempt]
	if d > 0 && p.JitterFactor > 0 {
		d += time.Duration(rand.Float64() * p.JitterFactor * float64(d))
	}
	return d
}

// Retry runs fn up to MaxAttempts times, sleeping the scheduled delay
// before each attempt. It returns the first success or the last error.
// Context cancellation interrupts both the sleep and the loop.
func Retry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	var lastErr error
	var slept time.Duration
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			d := policy.delay(attempt)
			if policy.MaxTotalDelay > 0 && slept+d > policy.MaxTotalDelay {
				return lastErr
			}
			slept += d
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
