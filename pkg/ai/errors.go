// Package ai provides the error classification and retry policy shared by the
// STT, TTS and LLM provider packages.
package ai

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

var (
	// ErrRecoverable indicates a temporary failure that may succeed if retried.
	// Examples: network timeout, rate limiting, 5xx from the provider.
	ErrRecoverable = errors.New("recoverable AI provider error")

	// ErrFatal indicates a permanent failure that will not succeed if retried.
	// Examples: invalid API key, unsupported model, malformed request.
	ErrFatal = errors.New("fatal AI provider error")
)

// RetryConfig configures retry behavior for recoverable errors.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterPercent float32 // 0.0-1.0
}

// DefaultRetryConfig keeps retries inside a conversational turn budget.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    2,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      time.Second,
	BackoffFactor: 2.0,
	JitterPercent: 0.1,
}

func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// RetryableError wraps an underlying error with retry classification.
type RetryableError struct {
	Underlying error
	Retryable  bool
	Message    string
}

func (e *RetryableError) Error() string {
	if e.Message != "" {
		if e.Underlying != nil {
			return e.Message + ": " + e.Underlying.Error()
		}
		return e.Message
	}
	return e.Underlying.Error()
}

// Is lets errors.Is match both the classification sentinel and the cause.
func (e *RetryableError) Is(target error) bool {
	if e.Retryable {
		return target == ErrRecoverable
	}
	return target == ErrFatal
}

func (e *RetryableError) Unwrap() error {
	return e.Underlying
}

func NewRecoverableError(underlying error, message string) error {
	return &RetryableError{Underlying: underlying, Retryable: true, Message: message}
}

func NewFatalError(underlying error, message string) error {
	return &RetryableError{Underlying: underlying, Retryable: false, Message: message}
}

// ClassifyStatus maps an HTTP status code from a provider to a classified error.
// 408, 429 and 5xx are recoverable; everything else is fatal.
func ClassifyStatus(status int, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case status == 408 || status == 429 || status >= 500:
		return NewRecoverableError(err, "provider temporarily unavailable")
	case status >= 400:
		return NewFatalError(err, "provider rejected request")
	default:
		return err
	}
}

// Retry runs fn until it succeeds, returns a non-recoverable error, the
// context ends, or cfg.MaxRetries retries are spent. Unclassified errors are
// treated as recoverable.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(cfg.backoff(attempt)):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if IsFatal(err) || ctx.Err() != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

func (cfg RetryConfig) backoff(attempt int) time.Duration {
	factor := cfg.BackoffFactor
	if factor <= 0 {
		factor = 2
	}
	delay := float64(cfg.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.JitterPercent > 0 {
		jitter := delay * float64(cfg.JitterPercent)
		delay += (rand.Float64()*2 - 1) * jitter
	}
	return time.Duration(delay)
}
