// Package retry provides retry policies for stream recovery and flaky
// backends. The agent loop drives attempts itself through Allows, Delay and
// Wait; Do wraps the same policy around a closure for simpler callers.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy describes how failures are retried.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	// -1 retries without limit.
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration
	// Factor multiplies the delay after each retry. 1.0 keeps it fixed.
	Factor float64
	// Jitter randomizes each delay into [0.5, 1.5] of its value.
	Jitter bool
}

// StreamDefaults is the policy for recovering a broken model stream: a fixed
// ten second pause between attempts.
func StreamDefaults() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 10 * time.Second,
		MaxDelay:     10 * time.Second,
		Factor:       1.0,
	}
}

// ExponentialDefaults is the policy for transient backend calls.
func ExponentialDefaults() Policy {
	return Policy{
		MaxRetries:   2,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

func (p Policy) normalized() Policy {
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Factor <= 0 {
		p.Factor = 1.0
	}
	return p
}

// Allows reports whether the numbered retry (1-based) is within budget.
func (p Policy) Allows(retry int) bool {
	if p.MaxRetries < 0 {
		return true
	}
	return retry <= p.MaxRetries
}

// Delay returns the pause before the numbered retry (1-based).
func (p Policy) Delay(retry int) time.Duration {
	p = p.normalized()
	if retry <= 0 {
		retry = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Factor, float64(retry-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		delay *= 0.5 + rand.Float64() // #nosec G404 -- jitter does not require cryptographic randomness
	}
	return time.Duration(delay)
}

// Wait sleeps for d or until ctx is done, returning ctx's error in that case.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Result contains the outcome of a retried operation.
type Result struct {
	// Attempts is the number of attempts made, including the first.
	Attempts int
	// Err is the last error, nil on success.
	Err error
	// Duration is the total time spent.
	Duration time.Duration
}

// Do executes op under the policy. It stops on success, on a permanent
// error, on context cancellation, or when the retry budget runs out.
func Do(ctx context.Context, p Policy, op func() error) Result {
	start := time.Now()
	result := Result{}

	for retry := 0; ; retry++ {
		if ctx.Err() != nil {
			result.Err = ctx.Err()
			break
		}
		result.Attempts++

		err := op()
		if err == nil {
			result.Err = nil
			break
		}
		result.Err = err

		if IsPermanent(err) || !p.Allows(retry+1) {
			break
		}
		if err := Wait(ctx, p.Delay(retry+1)); err != nil {
			result.Err = err
			break
		}
	}

	result.Duration = time.Since(start)
	return result
}

// DoWithValue executes an operation that returns a value under the policy.
func DoWithValue[T any](ctx context.Context, p Policy, op func() (T, error)) (T, Result) {
	var value T
	result := Do(ctx, p, func() error {
		var err error
		value, err = op()
		return err
	})
	return value, result
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to stop further retries.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks whether an error was marked permanent.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
