// Package resilience provides the retry and fail-open read helpers that wrap
// every call crossing the network boundary.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/anonto42/nano-midea/realtime/internal/metrics"
)

// RetryPolicy configures RetryWithBackoff.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int `validate:"gte=0,lte=10"`

	InitialDelay time.Duration `validate:"gt=0"`
	MaxDelay     time.Duration `validate:"gtefield=InitialDelay"`

	// BackoffMultiplier scales the delay after every failed attempt.
	BackoffMultiplier float64 `validate:"gte=1"`

	// JitterFactor spreads each delay by +/- the given fraction.
	JitterFactor float64 `validate:"gte=0,lte=1"`

	// RetryableKinds lists the kinds worth another attempt. Empty means
	// TransientKinds.
	RetryableKinds []Kind
}

// DefaultRetryPolicy mirrors the client SDK defaults the app shipped with.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          8 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.2,
		RetryableKinds:    TransientKinds,
	}
}

// Validate checks the policy for values that would spin or never wait.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return errors.New("max retries must not be negative")
	case p.InitialDelay <= 0:
		return errors.New("initial delay must be positive")
	case p.MaxDelay < p.InitialDelay:
		return errors.New("max delay must not be below initial delay")
	case p.BackoffMultiplier < 1:
		return errors.New("backoff multiplier must be at least 1")
	}
	return nil
}

func (p RetryPolicy) retryable(err error) bool {
	kinds := p.RetryableKinds
	if len(kinds) == 0 {
		kinds = TransientKinds
	}
	return slices.Contains(kinds, KindOf(err))
}

// delay returns the wait before retry number n (0-based). The jittered
// value never exceeds MaxDelay.
func (p RetryPolicy) delay(n int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 0; i < n; i++ {
		d *= p.BackoffMultiplier
		if d >= float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
			break
		}
	}
	if p.JitterFactor > 0 {
		d *= 1 + (rand.Float64()*2-1)*p.JitterFactor
	}
	return time.Duration(min(d, float64(p.MaxDelay)))
}

// RetryWithBackoff runs fn, retrying it up to policy.MaxRetries times while
// it fails with a retryable kind. Non-retryable errors return immediately;
// exhausting the retries returns the last error.
func RetryWithBackoff[T any](ctx context.Context, op string, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			metrics.RetryAttempts.WithLabelValues(op, "success").Inc()
			return v, nil
		}
		lastErr = err

		if !policy.retryable(err) {
			metrics.RetryAttempts.WithLabelValues(op, "fatal").Inc()
			return zero, err
		}
		metrics.RetryAttempts.WithLabelValues(op, "retryable").Inc()

		if attempt == policy.MaxRetries {
			break
		}

		timer := time.NewTimer(policy.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

// Do is RetryWithBackoff for operations without a result.
func Do(ctx context.Context, op string, policy RetryPolicy, fn func(ctx context.Context) error) error {
	_, err := RetryWithBackoff(ctx, op, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// SafeRead runs fn and substitutes def when it fails transiently. Other
// failures propagate. Only read paths may use it.
func SafeRead[T any](ctx context.Context, op string, logger *slog.Logger, fn func(ctx context.Context) (T, error), def T) (T, error) {
	v, err := fn(ctx)
	if err == nil {
		return v, nil
	}
	if !IsTransient(err) {
		return def, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "read degraded to default", "op", op, "kind", KindOf(err).String(), "error", err)
	metrics.DegradedReads.WithLabelValues(op).Inc()
	return def, nil
}

// Read is the composition every network-crossing read uses:
// SafeRead(RetryWithBackoff(fn), def).
func Read[T any](ctx context.Context, op string, policy RetryPolicy, logger *slog.Logger, fn func(ctx context.Context) (T, error), def T) (T, error) {
	return SafeRead(ctx, op, logger, func(ctx context.Context) (T, error) {
		return RetryWithBackoff(ctx, op, policy, fn)
	}, def)
}
