package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

type Class int

const (
	Retryable Class = iota
	Fatal
)

// permanentError marks an error Fatal under the default classifier.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do stops retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type Policy struct {
	MaxAttempts int           // e.g. 5
	BaseDelay   time.Duration // e.g. 100ms
	MaxDelay    time.Duration // e.g. 5s
	Jitter      time.Duration // e.g. 100ms (<= BaseDelay recommended)

	// Classify decides whether an error is retryable.
	// If nil, errors wrapped by Permanent are Fatal and the rest Retryable.
	Classify func(error) Class

	// OnRetry is optional hook for logging/metrics.
	OnRetry func(attempt int, wait time.Duration, err error)
}

func defaultClassify(err error) Class {
	if IsPermanent(err) || errors.Is(err, context.Canceled) {
		return Fatal
	}
	return Retryable
}

// Backoff returns the wait after the given failed attempt (1-based), without jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	base, max := p.BaseDelay, p.MaxDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if max <= 0 {
		max = 5 * time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	// cap the shift before it overflows
	if attempt > 30 {
		return max
	}
	wait := base << (attempt - 1)
	if wait <= 0 || wait > max {
		wait = max
	}
	return wait
}

func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	classify := p.Classify
	if classify == nil {
		classify = defaultClassify
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Join(lastErr, err)
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if classify(err) == Fatal {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := p.Backoff(attempt)
		if p.Jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(p.Jitter)))
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}
	return lastErr
}
