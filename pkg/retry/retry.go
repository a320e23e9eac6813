// Package retry provides fixed-delay (plus jitter) retry helpers, grounded in the
// teacher project's pkg/retry package. It is used by the download and upload
// paths of internal/cachefs, each with its own policy.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy configures a retry loop.
type Policy struct {
	// MaxAttempts is the number of attempts, including the first (non-retry)
	// attempt. MaxAttempts <= 0 means retry forever.
	MaxAttempts int
	// Delay is the fixed backoff between attempts. onemount-cachefs's
	// download/upload policies use a constant delay (the spec calls them
	// download.retry_delay / upload.retry_delay), not exponential backoff.
	Delay time.Duration
	// Jitter, if > 0, adds up to this much additional random delay per
	// attempt to avoid synchronized retry storms across many slots.
	Jitter time.Duration
}

// Do runs op, retrying on error until it succeeds, the context is cancelled,
// or the policy's attempt budget is exhausted. It returns ctx.Err() when the
// context is cancelled, and otherwise the last error.
func Do(ctx context.Context, policy Policy, op func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			return err
		}

		delay := policy.Delay
		if policy.Jitter > 0 {
			delay += time.Duration(rand.Int63n(int64(policy.Jitter)))
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
