// Package httpx carries the cross-cutting network rules every ingestor
// shares (§4.3): exponential back-off with jitter, a retry ceiling, and
// distinct handling of timeout/auth/rate-limit/5xx failures. Grounded on
// the rate.Limiter + pagination-loop idiom of the teacher's
// internal/github/client.go, generalized away from a single source.
package httpx

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	arcerrors "github.com/arc-computer/arc-memory/internal/errors"
)

// RetryPolicy bounds exponential back-off with jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors the teacher's conservative-rate-limit posture
// (client.go's 1 req/sec limiter): a handful of attempts, capped backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	backoff := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}
	jitter := rand.Float64() * backoff * 0.25
	return time.Duration(backoff + jitter)
}

// Classify maps a raw transport/HTTP error to a Kind per spec §7's table.
// statusCode is 0 when no response was received (pure transport failure).
func Classify(err error, statusCode int) arcerrors.Kind {
	switch {
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return arcerrors.KindAuth
	case statusCode == http.StatusTooManyRequests:
		return arcerrors.KindRateLimit
	case statusCode >= 500:
		return arcerrors.KindNetwork
	case statusCode >= 400:
		return arcerrors.KindParse
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return arcerrors.KindNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return arcerrors.KindCancelled
	}
	return arcerrors.KindNetwork
}

// Retryable reports whether kind should be retried locally at all (auth
// failures are fatal to the calling ingestor and must propagate).
func Retryable(kind arcerrors.Kind) bool {
	switch kind {
	case arcerrors.KindNetwork, arcerrors.KindRateLimit:
		return true
	default:
		return false
	}
}

// Do runs op, retrying transient failures per policy. op returns the
// observed HTTP status (0 if none) alongside its error so Do can classify
// it; resetAfter lets the rate-limit path honor a server-provided Retry-
// After/X-RateLimit-Reset instead of pure exponential back-off, capped at
// one hour per §4.3 rule 1.
func Do(ctx context.Context, policy RetryPolicy, source, operation string, op func(ctx context.Context) (statusCode int, resetAfter time.Duration, err error)) error {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		status, resetAfter, err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		kind := Classify(err, status)
		if kind == arcerrors.KindAuth {
			return arcerrors.Wrap(err, arcerrors.KindAuth, source, operation, "authentication failed")
		}
		if !Retryable(kind) {
			return arcerrors.Wrap(err, kind, source, operation, "unrecoverable request failure")
		}

		wait := policy.delay(attempt)
		if kind == arcerrors.KindRateLimit && resetAfter > 0 {
			wait = resetAfter
			if wait > time.Hour {
				wait = time.Hour
			}
		}

		select {
		case <-ctx.Done():
			return arcerrors.Wrap(ctx.Err(), arcerrors.KindCancelled, source, operation, "cancelled during retry wait")
		case <-time.After(wait):
		}
	}
	return arcerrors.Wrap(lastErr, Classify(lastErr, 0), source, operation, "retry attempts exhausted")
}
