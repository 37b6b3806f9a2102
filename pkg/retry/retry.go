// Package retry runs an operation under an exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop. MaxAttempts counts the first call.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  5 * time.Minute,
	}
}

// Merge returns p with every zero field taken from fallback.
func (p Policy) Merge(fallback Policy) Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = fallback.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = fallback.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = fallback.MaxInterval
	}
	if p.Multiplier <= 0 {
		p.Multiplier = fallback.Multiplier
	}
	if p.MaxElapsedTime <= 0 {
		p.MaxElapsedTime = fallback.MaxElapsedTime
	}
	return p
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.MaxElapsedTime = p.MaxElapsedTime

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// NotifyFunc is told about every failed attempt that will be retried.
type NotifyFunc func(attempt int, err error, nextDelay time.Duration)

// Do calls fn until it succeeds, the policy is exhausted or ctx is done.
// An error reporting IsFatal() == true anywhere in its chain stops the
// loop at once; pkg/errors values carry that method.
func Do(ctx context.Context, policy Policy, fn func() error, notify NotifyFunc) error {
	attempt := 0
	op := func() error {
		attempt++
		err := fn()
		if err != nil && isFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, next time.Duration) {
			notify(attempt, err, next)
		}
	}

	err := backoff.RetryNotify(op, policy.backOff(ctx), onRetry)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

type fatal interface {
	IsFatal() bool
}

func isFatal(err error) bool {
	var f fatal
	return errors.As(err, &f) && f.IsFatal()
}
