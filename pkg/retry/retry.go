// Package retry bounds and repeats calls to stores, brokers and remote services.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/baechuer/event-booking/pkg/metrics"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 500 * time.Millisecond
	DefaultJitter      = 0.7
)

// Policy describes how one class of operation is retried. The zero value of any
// numeric field falls back to the defaults above.
type Policy struct {
	Name        string
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      float64
	// Timeout bounds each attempt. Zero means the caller's context is the only bound.
	Timeout time.Duration
	// Retryable decides whether a failed attempt is tried again. Nil means fault.TransientOnly.
	Retryable func(error) bool

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(name string, maxAttempts int, base time.Duration, jitter float64, timeout time.Duration) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: maxAttempts,
		BaseBackoff: base,
		Jitter:      jitter,
		Timeout:     timeout,
	}
}

// WithRetryable returns a copy of p using filter.
func (p Policy) WithRetryable(filter func(error) bool) Policy {
	p.Retryable = filter
	return p
}

func (p Policy) Named(name string) Policy {
	p.Name = name
	return p
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return fault.TransientOnly(err)
	}
	return p.Retryable(err)
}

// Backoff returns the wait before attempt n+1 after n failed attempts:
// base*2^(n-1), scaled by a random factor in [1-jitter, 1+jitter].
func (p Policy) Backoff(n int) time.Duration {
	base := p.BaseBackoff
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	if n < 1 {
		n = 1
	}
	if n > 20 {
		n = 20
	}
	d := float64(base) * float64(int64(1)<<(n-1))

	j := p.Jitter
	if j < 0 {
		j = 0
	}
	if j >= 1 {
		j = DefaultJitter
	}
	if j > 0 {
		d *= 1 + j*(2*rand.Float64()-1)
	}
	return time.Duration(d)
}

// ExhaustedError is returned once every attempt failed with a retryable error.
type ExhaustedError struct {
	Policy   string
	Attempts int
	Cause    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Policy, e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error   { return e.Cause }
func (e *ExhaustedError) Exhausted() bool { return true }

// Timeout reports whether the last attempt ran out of time.
func (e *ExhaustedError) Timeout() bool {
	var te *TimeoutError
	return errors.As(e.Cause, &te)
}

// TimeoutError is returned when an attempt is abandoned at its deadline.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string   { return fmt.Sprintf("operation timed out after %s", e.After) }
func (e *TimeoutError) Timeout() bool   { return true }
func (e *TimeoutError) Temporary() bool { return true }
func (e *TimeoutError) Unwrap() error   { return context.DeadlineExceeded }

// WithTimeout runs op with a deadline of d. When the deadline passes first the
// call is abandoned and a *TimeoutError returned; an op that ignores its
// context keeps running in the background until it returns.
func WithTimeout[T any](ctx context.Context, d time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return op(ctx)
	}

	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := op(cctx)
		done <- result{v: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, &TimeoutError{After: d}
		}
		return r.v, r.err
	case <-cctx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, &TimeoutError{After: d}
	}
}

// Do runs op under p. Non-retryable errors come back unchanged on the attempt
// that produced them; running out of attempts yields *ExhaustedError.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Call(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Call is Do for operations that return a value.
func Call[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.attempts()
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			metrics.RecordRetryAttempt(p.Name)
		}

		v, err := WithTimeout(ctx, p.Timeout, op)
		if err == nil {
			return v, nil
		}
		last = err

		if ctx.Err() != nil {
			return zero, err
		}
		if !p.retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}
		if serr := sleep(ctx, p.Backoff(attempt)); serr != nil {
			return zero, fmt.Errorf("%s: interrupted after %d attempts: %w", p.Name, attempt, errors.Join(serr, last))
		}
	}

	metrics.RecordRetryExhausted(p.Name)
	return zero, &ExhaustedError{Policy: p.Name, Attempts: attempts, Cause: last}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
