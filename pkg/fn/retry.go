package fn

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryOpts configures Retry.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	// Jitter scales each wait by a random factor in [0.5, 1.5).
	Jitter bool
	// Retryable reports whether a failure may succeed on another attempt.
	// Nil treats every failure as retryable.
	Retryable func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// wait returns the pause before attempt+1, doubling from InitialWait.
func (o RetryOpts) wait(attempt int) time.Duration {
	d := o.InitialWait << attempt
	if d <= 0 || (o.MaxWait > 0 && d > o.MaxWait) {
		d = o.MaxWait
	}
	if o.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()))
		if o.MaxWait > 0 && d > o.MaxWait {
			d = o.MaxWait
		}
	}
	return d
}

// Retry calls f until it succeeds, returns a non-retryable failure, or
// MaxAttempts is reached. Cancelling ctx stops waiting and returns ctx.Err().
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	attempts := max(opts.MaxAttempts, 1)
	var res Result[T]
	for attempt := 0; attempt < attempts; attempt++ {
		res = f(ctx)
		err := res.Failure()
		if err == nil || attempt == attempts-1 {
			return res
		}
		if opts.Retryable != nil && !opts.Retryable(err) {
			return res
		}
		d := opts.wait(attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, err, d)
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return Err[T](ctx.Err())
		case <-t.C:
		}
	}
	return res
}
