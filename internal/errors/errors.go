// Package errors provides error classification and retry support for the
// market data collector. Failures from the upstream API and the local store
// are wrapped with a Kind so callers can decide between retrying, cooling
// down, and giving up without string-matching error text.
package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Kind classifies a failure for retry decisions.
type Kind string

const (
	KindTransport   Kind = "transport"    // Network connectivity or timeout failures
	KindServer      Kind = "server"       // Upstream 5xx responses
	KindRateLimited Kind = "rate_limited" // Upstream 429, caller must cool down
	KindNotFound    Kind = "not_found"    // Upstream 404, instrument or range unknown
	KindBadRequest  Kind = "bad_request"  // Other upstream 4xx responses
	KindPersistence Kind = "persistence"  // Local store read/write failures
	KindValidation  Kind = "validation"   // Data failed consistency checks
	KindInternal    Kind = "internal"     // Unclassified application failures
)

// Error is a classified failure. It wraps the underlying error with the
// component and operation that produced it.
type Error struct {
	Err       error     `json:"error"`
	Kind      Kind      `json:"kind"`
	Component string    `json:"component"`
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %v", e.Component, e.Kind, e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind, or defers to the wrapped error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return errors.Is(e.Err, target)
}

// New wraps err with a kind and call-site context. Returns nil when err is nil.
func New(kind Kind, component, operation string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Err:       err,
		Kind:      kind,
		Component: component,
		Operation: operation,
		Timestamp: time.Now().UTC(),
	}
}

// Classify inspects an unwrapped error and assigns the most likely Kind.
// Already-classified errors pass through unchanged.
func Classify(err error, component, operation string) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	return New(kindOf(err), component, operation, err)
}

func kindOf(err error) Kind {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransport
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransport
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "rate limit"),
		strings.Contains(errStr, "too many requests"):
		return KindRateLimited
	case strings.Contains(errStr, "not found"):
		return KindNotFound
	case strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "no route to host"):
		return KindTransport
	case strings.Contains(errStr, "server error"),
		strings.Contains(errStr, "service unavailable"):
		return KindServer
	case strings.Contains(errStr, "validation"),
		strings.Contains(errStr, "invalid"):
		return KindValidation
	default:
		return KindInternal
	}
}

// KindOf extracts the Kind from a classified error, or KindInternal for
// anything else.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindInternal
}

// IsRetryable reports whether retrying the failed operation can succeed.
// Transport and server failures are transient. Rate limiting is deliberately
// not retryable here: the caller owns the cooldown and decides whether to
// re-issue the request.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindServer:
		return true
	default:
		return false
	}
}

// IsRateLimited reports whether the failure was an upstream rate limit.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

// BackoffPolicy configures the retry loop in Retry.
type BackoffPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultBackoffPolicy is used when a zero-valued policy is passed to Retry.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

func (p BackoffPolicy) strategy() backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = p.InitialDelay
	exponential.MaxInterval = p.MaxDelay
	exponential.MaxElapsedTime = 0
	return backoff.WithMaxRetries(exponential, uint64(p.MaxAttempts-1))
}

// Retry runs fn until it succeeds, the error is non-retryable, or the policy
// is exhausted. Delays between attempts grow exponentially and respect ctx
// cancellation.
func Retry(ctx context.Context, logger *slog.Logger, policy BackoffPolicy, component, operation string, fn func() error) error {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts <= 0 {
		policy = DefaultBackoffPolicy()
	}

	strategy := policy.strategy()
	attempts := 0
	var lastErr error

	for {
		attempts++

		err := fn()
		if err == nil {
			return nil
		}

		classified := Classify(err, component, operation)
		lastErr = classified

		logger.Warn("operation failed",
			"component", component,
			"operation", operation,
			"attempt", attempts,
			"max_attempts", policy.MaxAttempts,
			"kind", classified.Kind,
			"error", err.Error())

		if !IsRetryable(classified) || attempts >= policy.MaxAttempts {
			break
		}

		next := strategy.NextBackOff()
		if next == backoff.Stop {
			break
		}

		select {
		case <-time.After(next):
		case <-ctx.Done():
			return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}
