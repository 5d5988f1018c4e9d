package engine

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"spreadbot-go/internal/exchange"
)

// RetryPolicy bounds how read calls are retried on transient failures.
type RetryPolicy struct {
	Attempts   int
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultRetryPolicy retries three times with 200ms, 400ms waits, capped at 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: 200 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2}
}

// Delay is the wait before the given retry (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := time.Duration(float64(p.Base) * math.Pow(mult, float64(retry-1)))
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	return delay
}

// withRetry runs fn until it succeeds, returns a non-retryable error, or runs out of attempts.
func withRetry[T any](ctx context.Context, p RetryPolicy, log zerolog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = fn(ctx)
		if err == nil || !exchange.Retryable(err) || attempt == attempts {
			return result, err
		}
		delay := p.Delay(attempt)
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", delay).Msg("transient failure, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}
	return result, err
}
