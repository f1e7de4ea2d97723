// Package retry implements exponential backoff with jitter for calls to
// external collaborators (the embedder and the reflector). Each caller
// class carries its own Policy, since embedder and reflector calls differ
// in attempt counts and base delays.
package retry

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/Saket-Kr/acms/acmserr"
)

// Policy configures the backoff schedule for a class of provider calls.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Cap         time.Duration
}

// EmbedderPolicy is the default retry policy for embedder calls.
var EmbedderPolicy = Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Cap: 30 * time.Second}

// ReflectorPolicy is the default retry policy for reflector calls.
var ReflectorPolicy = Policy{MaxAttempts: 3, BaseDelay: 1 * time.Second, Cap: 60 * time.Second}

// Func is a function that can be retried.
type Func func() error

// APIError is implemented by errors that carry an HTTP-equivalent status
// code, used to classify whether a failure is retryable.
type APIError interface {
	error
	StatusCode() int
}

// ShouldRetry reports whether the given status code indicates a transient
// failure (connection/timeout/429/5xx-equivalent) that should be retried.
func ShouldRetry(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	default:
		return false
	}
}

// Do executes f, retrying under policy's exponential-backoff-with-jitter
// schedule. A non-retryable APIError aborts immediately. When every
// attempt fails, Do returns an *acmserr.RetryExhaustedError wrapping the
// last error observed.
func Do(ctx context.Context, policy Policy, f Func) error {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		attempts = attempt + 1
		if attempt > 0 {
			backoff := backoffFor(policy, attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := f()
		if err == nil {
			return nil
		}
		lastErr = err

		if apiErr, ok := err.(APIError); ok && !ShouldRetry(apiErr.StatusCode()) {
			return err
		}
	}
	return acmserr.NewRetryExhaustedError(attempts, lastErr)
}

func backoffFor(policy Policy, attempt int) time.Duration {
	base := float64(policy.BaseDelay) * math.Pow(2, float64(attempt-1))
	if policy.Cap > 0 && base > float64(policy.Cap) {
		base = float64(policy.Cap)
	}
	jitter := rand.Float64() * base * 0.1
	return time.Duration(base + jitter)
}
