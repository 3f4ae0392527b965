package syncerr

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxTries bounds attempts per upstream call, including the first
	DefaultMaxTries = 3

	initialBackoff = 2 * time.Second
	maxBackoff     = 30 * time.Second
)

// Retryable reports whether err is safe to repeat. Rate limits and
// transport failures are transient; auth and validation failures are not.
func Retryable(err error) bool {
	var rateErr *RateLimitError
	var netErr *NetworkError
	return errors.As(err, &rateErr) || errors.As(err, &netErr)
}

// Retry runs fn up to maxTries times with exponential backoff and jitter.
// A Retry-After hint on a rate limit error extends the wait when it is
// longer than the computed backoff. Non-retryable errors return at once.
func Retry(ctx context.Context, maxTries int, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return retryWith(ctx, maxTries, b, fn)
}

func retryWith(ctx context.Context, maxTries int, b backoff.BackOff, fn func() error) error {
	if maxTries < 1 {
		maxTries = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !Retryable(err) || attempt >= maxTries {
			return err
		}

		wait := b.NextBackOff()
		var rateErr *RateLimitError
		if errors.As(err, &rateErr) && rateErr.RetryAfter > wait {
			wait = rateErr.RetryAfter
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
