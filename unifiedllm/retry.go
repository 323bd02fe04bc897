package unifiedllm

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryConfig controls how many times a request is re-sent and which
// failures qualify.
type RetryConfig struct {
	MaxAttempts    int           // retries after the initial attempt
	BaseDelay      time.Duration // delay before the first retry
	MaxDelay       time.Duration // longest Retry-After honoured; 0 means no cap
	Retry429       bool          // retry HTTP 429
	Retry5xx       bool          // retry HTTP 5xx
	RetryTransport bool          // retry network failures and timeouts
}

// DefaultRetryConfig returns the policy applied when a provider does not
// override it.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    defaultRequestMaxRetries,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       60 * time.Second,
		Retry429:       false,
		Retry5xx:       true,
		RetryTransport: true,
	}
}

// Delay calculates the backoff before retry n (1-indexed), with +/-10% jitter.
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(c.BaseDelay) * math.Pow(2, float64(attempt-1))
	jitter := 0.9 + rand.Float64()*0.2 // [0.9, 1.1)
	return time.Duration(base * jitter)
}

// shouldRetry reports whether err is covered by the policy.
func (c RetryConfig) shouldRetry(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	switch te.Kind {
	case TransportHTTP:
		if te.Status == http.StatusTooManyRequests {
			return c.Retry429
		}
		if te.Status >= 500 {
			return c.Retry5xx
		}
		return false
	case TransportNetwork, TransportTimeout:
		return c.RetryTransport
	default:
		return false
	}
}

// runWithRetry executes fn until it succeeds, fails with an error the policy
// does not cover, or runs out of attempts. When every attempt failed at the
// network layer the result is a RetryLimit transport error.
func runWithRetry[T any](ctx context.Context, cfg RetryConfig, logger *slog.Logger, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	allTransport := true
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}

		var te *TransportError
		if !errors.As(err, &te) || te.Kind == TransportHTTP {
			allTransport = false
		}

		if !cfg.shouldRetry(err) {
			return zero, err
		}
		if attempt >= cfg.MaxAttempts {
			if allTransport && attempt > 0 {
				return zero, &TransportError{
					SDKError: SDKError{Message: "retry limit reached", Cause: err},
					Kind:     TransportRetryLimit,
				}
			}
			return zero, err
		}

		delay := cfg.Delay(attempt + 1)
		if te != nil && te.Kind == TransportHTTP {
			if after, ok := retryAfter(te.Header, time.Now()); ok {
				if cfg.MaxDelay > 0 && after > cfg.MaxDelay {
					// Retry-After exceeds MaxDelay; fail now.
					return zero, err
				}
				delay = after
			}
		}
		logger.Debug("retrying request", "attempt", attempt+1, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// retryAfter reads a Retry-After header given either as delta seconds or as
// an HTTP date.
func retryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	at, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	d := at.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}
