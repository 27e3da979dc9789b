// Package retry provides a bounded retry controller with exponential backoff
// for outbound calls to the translation provider and the search API.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/paperverse/research-query-service/internal/domain"
)

// Policy bounds the retry loop for one outbound call.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialInterval is the base backoff delay before the first retry.
	InitialInterval time.Duration

	// MaxInterval caps the backoff delay between attempts.
	MaxInterval time.Duration

	// Multiplier is the backoff growth factor.
	Multiplier float64

	// RandomizationFactor is the jitter applied to each delay (0..1).
	RandomizationFactor float64
}

// DefaultPolicy returns the standard policy: 3 attempts, exponential backoff
// with jitter starting at 500ms and capped at 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         3,
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.3,
	}
}

// Bounded returns a copy of the policy with MaxAttempts capped at n.
// Used to bound translator retries by the key pool size.
func (p Policy) Bounded(n int) Policy {
	if n > 0 && n < p.MaxAttempts {
		p.MaxAttempts = n
	}
	return p
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 500 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 10 * time.Second
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2.0
	}
	return p
}

// ExhaustedError is returned when every attempt failed with a retryable
// error. It unwraps to both the last error and domain.ErrUpstreamUnavailable.
type ExhaustedError struct {
	Attempts int
	Last     error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts exhausted: %v", e.Attempts, e.Last)
}

// Unwrap exposes both the sentinel and the last attempt's error to errors.Is.
func (e *ExhaustedError) Unwrap() []error {
	return []error{domain.ErrUpstreamUnavailable, e.Last}
}

// OnRetry is invoked before each retry wait with the upcoming attempt number
// (2-based) and the error that triggered the retry. Used for metrics and for
// rotating the key pool between translator attempts.
type OnRetry func(attempt int, err error)

// Do executes op under the policy. Retryable errors (TransientError,
// RateLimitError) are retried with exponential backoff and jitter; a
// RateLimitError with RetryAfter set waits that long instead. Permanent
// errors return immediately. Context cancellation stops the loop without
// issuing further attempts.
func Do[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error), onRetry OnRetry) (T, error) {
	var zero T
	policy = policy.normalized()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialInterval
	bo.MaxInterval = policy.MaxInterval
	bo.Multiplier = policy.Multiplier
	bo.RandomizationFactor = policy.RandomizationFactor
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if !domain.IsRetryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}

		delay := bo.NextBackOff()
		var rateLimited *domain.RateLimitError
		if errors.As(err, &rateLimited) && rateLimited.RetryAfter > 0 {
			delay = rateLimited.RetryAfter
		}

		if onRetry != nil {
			onRetry(attempt+1, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, &ExhaustedError{Attempts: policy.MaxAttempts, Last: lastErr}
}

// ClassifyStatus converts an HTTP response status into the error taxonomy:
// 429 becomes a RateLimitError carrying any Retry-After hint, 5xx a
// TransientError, and every other non-2xx a permanent UpstreamError.
// 2xx statuses return nil.
func ClassifyStatus(source string, statusCode int, header http.Header, body string) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusTooManyRequests:
		return domain.NewRateLimitError(source, ParseRetryAfter(header.Get("Retry-After")))
	case statusCode >= 500:
		return domain.NewTransientError(source,
			domain.NewUpstreamError(source, statusCode, body, nil))
	default:
		return domain.NewUpstreamError(source, statusCode, body, nil)
	}
}

// ParseRetryAfter parses a Retry-After header value given either as
// delta-seconds or as an HTTP date. Returns 0 when absent or unparsable.
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
