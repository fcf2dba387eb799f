package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jdbx/jdbx/internal/cancel"
	"github.com/jdbx/jdbx/internal/jdbxerr"
)

// Run executes op under policy, checking cancellation at entry (spec §4.6
// step 1), retrying per policy on failure (step 3-4), and reporting each
// failed attempt (step 5). op's own context should be ctx; Run does not
// pass a derived context to op, since jdbx operations take ctx directly.
func Run(ctx context.Context, op string, p Policy, fn func(ctx context.Context) error) error {
	if err := cancel.ThrowIfAborted(ctx, op); err != nil {
		return err
	}

	if !p.enabled() {
		return fn(ctx)
	}

	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = jdbxerr.Retryable
	}

	bo := newBackOff(p)
	start := timeNow()
	attempt := 0

	wrapped := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !shouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	// notify is invoked by backoff.RetryNotify with the exact delay it is
	// about to sleep, so Attempt.Delay matches the real wait instead of a
	// second, independently-advanced call into bo.NextBackOff().
	notify := func(err error, delay time.Duration) {
		if p.OnFailedAttempt != nil {
			p.OnFailedAttempt(Attempt{
				Err:           err,
				AttemptNumber: attempt,
				RetriesLeft:   remaining(p, attempt),
				ElapsedTime:   timeNow().Sub(start),
				Delay:         delay,
			})
		}
	}

	retryCtx, stop := context.WithCancel(ctx)
	defer stop()

	var capped backoff.BackOff = bo
	if p.MaxRetries > 0 {
		capped = backoff.WithMaxRetries(bo, uint64(p.MaxRetries))
	}

	err := backoff.RetryNotify(wrapped, backoff.WithContext(capped, retryCtx), notify)
	return classifyFinal(ctx, op, err)
}

func classifyFinal(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		if aborted := cancel.ThrowIfAborted(ctx, op); aborted != nil {
			return aborted
		}
	}
	return err
}

func newBackOff(p Policy) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.MinTimeout
	bo.MaxInterval = p.MaxTimeout
	bo.Multiplier = p.Factor
	bo.RandomizationFactor = p.Randomization
	bo.MaxElapsedTime = p.MaxRetryTime
	bo.Reset()
	return bo
}

func remaining(p Policy, attempt int) int {
	if p.MaxRetries <= 0 {
		return -1
	}
	left := p.MaxRetries - (attempt - 1)
	if left < 0 {
		return 0
	}
	return left
}

// timeNow is a seam so this package never calls time.Now() more than once
// per call path; retry is the only ambient-stack package that needs wall
// time at all (for ElapsedTime reporting).
func timeNow() time.Time { return time.Now() }
